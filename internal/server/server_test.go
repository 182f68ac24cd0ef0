package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/jonathan/fewknow/internal/broadcast"
	"github.com/jonathan/fewknow/internal/jobs"
	"github.com/jonathan/fewknow/internal/market"
	"github.com/jonathan/fewknow/internal/pipeline"
	"github.com/jonathan/fewknow/internal/server/ratelimit"
	"github.com/jonathan/fewknow/internal/types"
)

type fakeRunner struct {
	store *jobs.Store
	err   error

	mu      sync.Mutex
	tickers []string
}

func (f *fakeRunner) Start(ticker string) (types.Snapshot, error) {
	if f.err != nil {
		return types.Snapshot{}, f.err
	}
	f.mu.Lock()
	f.tickers = append(f.tickers, ticker)
	f.mu.Unlock()
	return f.store.Create(ticker)
}

type fakeLookup struct {
	info *types.CompanyInfo
	err  error
}

func (f *fakeLookup) Lookup(_ context.Context, ticker string) (*types.CompanyInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.info == nil {
		return nil, market.ErrTickerNotFound
	}
	info := *f.info
	info.Ticker = ticker
	return &info, nil
}

type fixture struct {
	t      *testing.T
	store  *jobs.Store
	bcast  *broadcast.Broadcaster
	runner *fakeRunner
	lookup *fakeLookup
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	logger := arbor.NewNoOpLogger()
	store := jobs.NewStore()
	f := &fixture{
		t:      t,
		store:  store,
		bcast:  broadcast.New(store, logger),
		runner: &fakeRunner{store: store},
		lookup: &fakeLookup{info: &types.CompanyInfo{Name: "NVIDIA Corporation", Sector: "Technology"}},
	}

	cfg := Config{Version: "1.0.0", RateLimit: &ratelimit.Config{Enabled: false}}
	for _, m := range mutate {
		m(&cfg)
	}
	srv, err := New(cfg, Deps{
		Jobs:          store,
		Runner:        f.runner,
		Subscriptions: f.bcast,
		Lookup:        f.lookup,
		Logger:        logger,
	})
	require.NoError(t, err)
	f.server = srv
	f.http = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		f.http.Close()
		srv.Close()
	})
	return f
}

func (f *fixture) do(method, path, body string) (*http.Response, map[string]any) {
	f.t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	require.NoError(f.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

// advance moves a job through the lifecycle and publishes every snapshot
func (f *fixture) advance(id string, updates ...jobs.Update) types.Snapshot {
	f.t.Helper()
	var snap types.Snapshot
	for _, u := range updates {
		var err error
		snap, err = f.store.Update(id, u)
		require.NoError(f.t, err)
		f.bcast.Publish(snap)
	}
	return snap
}

func (f *fixture) completedJob() types.Snapshot {
	f.t.Helper()
	snap, err := f.store.Create("NVDA")
	require.NoError(f.t, err)
	result := &types.Result{JobID: snap.JobID, Ticker: "NVDA", CompanyInfo: &types.CompanyInfo{Ticker: "NVDA", Name: "NVIDIA Corporation"}}
	return f.advance(snap.JobID,
		jobs.Processing(10, "Validating ticker..."),
		jobs.Completed(result, "Analysis complete!"),
	)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)
	f.completedJob()

	resp, body := f.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ServiceName, body["service"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "1.0.0", body["version"])

	resp, body = f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["jobs"])

	resp, _ = f.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(http.MethodPost, "/api/analyze", `{"ticker":" nvda "}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "0%", body["progress"])
	assert.Equal(t, "Analysis started", body["message"])
	require.NotEmpty(t, body["job_id"])
	assert.Equal(t, []string{"NVDA"}, f.runner.tickers)

	snap, err := f.store.Get(body["job_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "NVDA", snap.Ticker)
}

func TestAnalyze_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty ticker", `{"ticker":""}`},
		{"missing ticker", `{}`},
		{"too long", `{"ticker":"ABCDEFGHIJK"}`},
		{"bad characters", `{"ticker":"BRK/B"}`},
		{"spaces inside", `{"ticker":"NV DA"}`},
		{"not json", `ticker=NVDA`},
	}

	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(http.MethodPost, "/api/analyze", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body["error"], "validation error")
		})
	}
	assert.Empty(t, f.runner.tickers, "no job is started for an invalid request")
	assert.Zero(t, f.store.Len())
}

func TestAnalyze_AcceptsDotsAndDashes(t *testing.T) {
	f := newFixture(t)
	for _, ticker := range []string{"BRK.B", "RDS-A", "X"} {
		resp, _ := f.do(http.MethodPost, "/api/analyze", `{"ticker":"`+ticker+`"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode, ticker)
	}
}

func TestAnalyze_ShuttingDown(t *testing.T) {
	f := newFixture(t)
	f.runner.err = pipeline.ErrShuttingDown

	resp, body := f.do(http.MethodPost, "/api/analyze", `{"ticker":"NVDA"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "Server is shutting down", body["error"])
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	snap, err := f.store.Create("AAPL")
	require.NoError(t, err)
	f.advance(snap.JobID, jobs.Processing(25, "Fetching financial data..."))

	resp, body := f.do(http.MethodGet, "/api/status/"+snap.JobID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, snap.JobID, body["job_id"])
	assert.Equal(t, "AAPL", body["ticker"])
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, "25%", body["progress"])
	assert.Equal(t, "Fetching financial data...", body["message"])

	resp, body = f.do(http.MethodGet, "/api/status/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Job not found", body["error"])
}

func TestResult(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown job", func(t *testing.T) {
		resp, _ := f.do(http.MethodGet, "/api/result/missing", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("still running", func(t *testing.T) {
		snap, err := f.store.Create("AAPL")
		require.NoError(t, err)
		f.advance(snap.JobID, jobs.Processing(40, "Fetching recent news..."))

		resp, body := f.do(http.MethodGet, "/api/result/"+snap.JobID, "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "Analysis not completed", body["error"])
		assert.Equal(t, "processing", body["status"])
		assert.NotContains(t, body, "job_error")
	})

	t.Run("failed", func(t *testing.T) {
		snap, err := f.store.Create("ZZZZ")
		require.NoError(t, err)
		f.advance(snap.JobID,
			jobs.Processing(10, "Validating ticker..."),
			jobs.Failed(&types.JobError{Message: "Ticker 'ZZZZ' not found", Kind: types.ErrorKindValidation}),
		)

		resp, body := f.do(http.MethodGet, "/api/result/"+snap.JobID, "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "failed", body["status"])
		jobErr, ok := body["job_error"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Ticker 'ZZZZ' not found", jobErr["message"])
		assert.Equal(t, "validation", jobErr["kind"])
	})

	t.Run("completed", func(t *testing.T) {
		snap := f.completedJob()

		resp, body := f.do(http.MethodGet, "/api/result/"+snap.JobID, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, snap.JobID, body["job_id"])
		assert.Equal(t, "NVDA", body["ticker"])
	})
}

func TestValidate(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(http.MethodGet, "/api/validate/nvda", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "NVDA", body["ticker"])
	info, ok := body["company_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "NVIDIA Corporation", info["name"])

	f.lookup.info = nil
	resp, body = f.do(http.MethodGet, "/api/validate/ZZZZ", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.NotContains(t, body, "company_info")

	resp, _ = f.do(http.MethodGet, "/api/validate/ABCDEFGHIJKL", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.lookup.err = &market.RequestError{Source: "finnhub", StatusCode: 500, Message: "api key invalid"}
	resp, body = f.do(http.MethodGet, "/api/validate/NVDA", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotContains(t, body["error"], "api key")

	assert.Zero(t, f.store.Len(), "validation never creates jobs")
}

func TestCORS(t *testing.T) {
	t.Run("allow all", func(t *testing.T) {
		f := newFixture(t)
		resp, _ := f.do(http.MethodOptions, "/api/analyze", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("listed origins", func(t *testing.T) {
		f := newFixture(t, func(c *Config) {
			c.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
		})

		req, err := http.NewRequest(http.MethodGet, f.http.URL+"/health", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3001")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "http://localhost:3001", resp.Header.Get("Access-Control-Allow-Origin"))

		req.Header.Set("Origin", "http://evil.example")
		resp, err = http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.RateLimit = &ratelimit.Config{
			Enabled:         true,
			DefaultLimit:    100,
			DefaultWindow:   time.Minute,
			EndpointConfigs: ratelimit.DefaultEndpointConfigs(10, 2),
		}
	})

	for i := 0; i < 2; i++ {
		resp, _ := f.do(http.MethodPost, "/api/analyze", `{"ticker":"NVDA"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "10", resp.Header.Get("X-RateLimit-Limit"))
	}

	resp, body := f.do(http.MethodPost, "/api/analyze", `{"ticker":"NVDA"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Len(t, f.runner.tickers, 2)

	resp, _ = f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"), "health is unlimited")
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (m wireMessage) status(t *testing.T) types.StatusView {
	t.Helper()
	require.Equal(t, broadcast.TypeStatus, m.Type)
	var v types.StatusView
	require.NoError(t, json.Unmarshal(m.Data, &v))
	return v
}

func dialJob(t *testing.T, f *fixture, jobID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/" + jobID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wireMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_LiveUpdates(t *testing.T) {
	f := newFixture(t)
	snap, err := f.store.Create("NVDA")
	require.NoError(t, err)

	conn := dialJob(t, f, snap.JobID)

	first := readFrame(t, conn).status(t)
	assert.Equal(t, "pending", string(first.Status))
	assert.Equal(t, "0%", first.Progress)

	f.advance(snap.JobID, jobs.Processing(10, "Validating ticker..."))
	assert.Equal(t, "10%", readFrame(t, conn).status(t).Progress)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, broadcast.TypePong, readFrame(t, conn).Type)

	result := &types.Result{JobID: snap.JobID, Ticker: "NVDA"}
	f.advance(snap.JobID, jobs.Completed(result, "Analysis complete!"))

	final := readFrame(t, conn).status(t)
	assert.Equal(t, "100%", final.Progress)
	assert.Equal(t, "completed", string(final.Status))

	res := readFrame(t, conn)
	require.Equal(t, broadcast.TypeResult, res.Type)
	var got types.Result
	require.NoError(t, json.Unmarshal(res.Data, &got))
	assert.Equal(t, snap.JobID, got.JobID)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "server closes after the final frame: %v", err)
	assert.Eventually(t, func() bool { return f.bcast.Count(snap.JobID) == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocket_LateAttachToCompletedJob(t *testing.T) {
	f := newFixture(t)
	snap := f.completedJob()

	conn := dialJob(t, f, snap.JobID)

	status := readFrame(t, conn).status(t)
	assert.Equal(t, "completed", string(status.Status))
	assert.Equal(t, broadcast.TypeResult, readFrame(t, conn).Type)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestWebSocket_FailedJob(t *testing.T) {
	f := newFixture(t)
	snap, err := f.store.Create("ZZZZ")
	require.NoError(t, err)
	conn := dialJob(t, f, snap.JobID)
	readFrame(t, conn)

	f.advance(snap.JobID,
		jobs.Processing(10, "Validating ticker..."),
		jobs.Failed(&types.JobError{Message: "Ticker 'ZZZZ' not found", Kind: types.ErrorKindValidation}),
	)

	assert.Equal(t, "10%", readFrame(t, conn).status(t).Progress)
	failed := readFrame(t, conn).status(t)
	assert.Equal(t, "failed", string(failed.Status))
	assert.Equal(t, "10%", failed.Progress)

	errFrame := readFrame(t, conn)
	require.Equal(t, broadcast.TypeError, errFrame.Type)
	var payload broadcast.ErrorPayload
	require.NoError(t, json.Unmarshal(errFrame.Data, &payload))
	assert.Equal(t, "Ticker 'ZZZZ' not found", payload.Message)
	assert.Equal(t, types.ErrorKindValidation, payload.Kind)
}

func TestWebSocket_UnknownJob(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/missing"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_MultipleSubscribers(t *testing.T) {
	f := newFixture(t)
	snap, err := f.store.Create("NVDA")
	require.NoError(t, err)

	a := dialJob(t, f, snap.JobID)
	b := dialJob(t, f, snap.JobID)
	readFrame(t, a)
	readFrame(t, b)

	f.advance(snap.JobID, jobs.Processing(10, "Validating ticker..."), jobs.Processing(25, "Fetching financial data..."))

	for _, conn := range []*websocket.Conn{a, b} {
		assert.Equal(t, "10%", readFrame(t, conn).status(t).Progress)
		assert.Equal(t, "25%", readFrame(t, conn).status(t).Progress)
	}

	require.NoError(t, a.Close())
	f.advance(snap.JobID, jobs.Processing(40, "Fetching recent news..."))
	assert.Equal(t, "40%", readFrame(t, b).status(t).Progress, "one client leaving does not affect the other")
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestStream_CompletedJob(t *testing.T) {
	f := newFixture(t)
	snap := f.completedJob()

	resp, err := http.Get(f.http.URL + "/api/stream/" + snap.JobID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	require.Len(t, events, 2)
	assert.Equal(t, "status", events[0].name)
	assert.Contains(t, events[0].data, `"progress":"100%"`)
	assert.Equal(t, "result", events[1].name)
	assert.Contains(t, events[1].data, snap.JobID)
}

func TestStream_LiveJob(t *testing.T) {
	f := newFixture(t)
	snap, err := f.store.Create("NVDA")
	require.NoError(t, err)

	resp, err := http.Get(f.http.URL + "/api/stream/" + snap.JobID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// headers arrive after the attach, so the subscriber is registered
	require.Eventually(t, func() bool { return f.bcast.Count(snap.JobID) == 1 }, time.Second, 10*time.Millisecond)
	f.advance(snap.JobID,
		jobs.Processing(10, "Validating ticker..."),
		jobs.Failed(&types.JobError{Message: "Ticker 'NVDA' not found", Kind: types.ErrorKindValidation}),
	)

	events := readEvents(t, resp)
	var names []string
	for _, e := range events {
		names = append(names, e.name)
	}
	assert.Equal(t, []string{"status", "status", "status", "error"}, names)
	assert.Contains(t, events[3].data, "Ticker 'NVDA' not found")
}

func TestStream_UnknownJob(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(http.MethodGet, "/api/stream/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Job not found", body["error"])
}

func TestStart_GracefulShutdown(t *testing.T) {
	srv, err := New(Config{Host: "127.0.0.1", Port: 0, RateLimit: &ratelimit.Config{}}, Deps{
		Jobs:          jobs.NewStore(),
		Runner:        &fakeRunner{store: jobs.NewStore()},
		Subscriptions: broadcast.New(jobs.NewStore(), arbor.NewNoOpLogger()),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	sr.WriteHeader(http.StatusTeapot)
	sr.WriteHeader(http.StatusOK)
	assert.Equal(t, http.StatusTeapot, sr.status)
	assert.Same(t, rec, sr.Unwrap())

	_, _, err := sr.Hijack()
	assert.Error(t, err, "httptest recorder cannot be hijacked")
}
