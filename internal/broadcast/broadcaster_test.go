package broadcast

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/jonathan/fewknow/internal/jobs"
	"github.com/jonathan/fewknow/internal/types"
)

type recorder struct {
	mu       sync.Mutex
	messages []Message
	closed   int
	failOn   int // fail the Nth send (1-based), 0 never
	sends    int
}

func (r *recorder) Send(m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends++
	if r.failOn > 0 && r.sends >= r.failOn {
		return errors.New("connection reset")
	}
	r.messages = append(r.messages, m)
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Type
	}
	return out
}

func (r *recorder) progress() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.messages {
		if v, ok := m.Data.(types.StatusView); ok {
			out = append(out, v.Progress)
		}
	}
	return out
}

func setup(t *testing.T) (*jobs.Store, *Broadcaster, string) {
	t.Helper()
	store := jobs.NewStore()
	b := New(store, arbor.NewNoOpLogger())
	snap, err := store.Create("AAPL")
	require.NoError(t, err)
	return store, b, snap.JobID
}

func update(t *testing.T, store *jobs.Store, b *Broadcaster, id string, u jobs.Update) types.Snapshot {
	t.Helper()
	snap, err := store.Update(id, u)
	require.NoError(t, err)
	b.Publish(snap)
	return snap
}

func TestAttach_SendsCurrentSnapshotFirst(t *testing.T) {
	store, b, id := setup(t)
	update(t, store, b, id, jobs.Processing(40, "Fetching recent news..."))

	sub := &recorder{}
	require.NoError(t, b.Attach(id, sub))

	require.Len(t, sub.messages, 1)
	view := sub.messages[0].Data.(types.StatusView)
	assert.Equal(t, TypeStatus, sub.messages[0].Type)
	assert.Equal(t, "40%", view.Progress)
	assert.Equal(t, types.StatusProcessing, view.Status)
	assert.Equal(t, 1, b.Count(id))
}

func TestAttach_UnknownJob(t *testing.T) {
	_, b, _ := setup(t)
	err := b.Attach("missing", &recorder{})
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestPublish_DeliversInOrderThenCloses(t *testing.T) {
	store, b, id := setup(t)

	early := &recorder{}
	require.NoError(t, b.Attach(id, early))

	update(t, store, b, id, jobs.Processing(0, "Starting analysis..."))
	update(t, store, b, id, jobs.Processing(10, "Validating ticker..."))

	late := &recorder{}
	require.NoError(t, b.Attach(id, late))

	update(t, store, b, id, jobs.Processing(90, "Generating insight report..."))
	update(t, store, b, id, jobs.Completed(&types.Result{JobID: id, Ticker: "AAPL"}, "Analysis complete!"))

	assert.Equal(t, []string{"0%", "0%", "10%", "90%", "100%"}, early.progress())
	assert.Equal(t, []string{"status", "status", "status", "status", "status", "result"}, early.kinds())
	assert.Equal(t, []string{"10%", "90%", "100%"}, late.progress())
	assert.Equal(t, []string{"status", "status", "status", "result"}, late.kinds())

	assert.Equal(t, 1, early.closed)
	assert.Equal(t, 1, late.closed)
	assert.Equal(t, 0, b.Count(id))
}

func TestPublish_FailureSendsErrorFrame(t *testing.T) {
	store, b, id := setup(t)
	sub := &recorder{}
	require.NoError(t, b.Attach(id, sub))

	update(t, store, b, id, jobs.Processing(10, "Validating ticker..."))
	update(t, store, b, id, jobs.Failed(&types.JobError{Message: "Ticker 'AAPL' not found", Kind: types.ErrorKindValidation}))

	require.Equal(t, []string{"status", "status", "status", "error"}, sub.kinds())
	payload := sub.messages[3].Data.(ErrorPayload)
	assert.Equal(t, "Ticker 'AAPL' not found", payload.Message)
	assert.Equal(t, types.ErrorKindValidation, payload.Kind)
	assert.Equal(t, 1, sub.closed)
}

func TestAttach_AfterTerminalGetsFinalFramesAndClose(t *testing.T) {
	store, b, id := setup(t)
	update(t, store, b, id, jobs.Processing(90, "Generating insight report..."))
	update(t, store, b, id, jobs.Completed(&types.Result{JobID: id, Ticker: "AAPL"}, "Analysis complete!"))

	sub := &recorder{}
	require.NoError(t, b.Attach(id, sub))

	assert.Equal(t, []string{"status", "result"}, sub.kinds())
	assert.Equal(t, 1, sub.closed)
	assert.Equal(t, 0, b.Count(id))
}

func TestPublish_SkipsStaleSnapshots(t *testing.T) {
	store, b, id := setup(t)
	old, err := store.Update(id, jobs.Processing(10, "Validating ticker..."))
	require.NoError(t, err)
	_, err = store.Update(id, jobs.Processing(25, "Fetching financial data..."))
	require.NoError(t, err)

	sub := &recorder{}
	require.NoError(t, b.Attach(id, sub))
	// a publish of an older snapshot racing the attach must not reach the subscriber
	b.Publish(old)

	assert.Equal(t, []string{"25%"}, sub.progress())
}

func TestPublish_DetachesFailingSubscriber(t *testing.T) {
	store, b, id := setup(t)
	healthy := &recorder{}
	broken := &recorder{failOn: 2}
	require.NoError(t, b.Attach(id, healthy))
	require.NoError(t, b.Attach(id, broken))

	update(t, store, b, id, jobs.Processing(10, "Validating ticker..."))
	update(t, store, b, id, jobs.Processing(25, "Fetching financial data..."))

	assert.Equal(t, 1, b.Count(id))
	assert.Equal(t, 1, broken.closed)
	assert.Equal(t, []string{"0%", "10%", "25%"}, healthy.progress())
}

func TestDetach_Idempotent(t *testing.T) {
	store, b, id := setup(t)
	sub := &recorder{}
	require.NoError(t, b.Attach(id, sub))

	b.Detach(id, sub)
	b.Detach(id, sub)
	b.Detach("missing", sub)
	assert.Equal(t, 0, b.Count(id))

	// detached subscribers receive nothing further and the pipeline keeps going
	update(t, store, b, id, jobs.Processing(10, "Validating ticker..."))
	assert.Len(t, sub.messages, 1)
}

func TestQueue(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Send(PongMessage()))
	require.NoError(t, q.Send(PongMessage()))
	assert.ErrorIs(t, q.Send(PongMessage()), ErrBufferFull)

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Send(PongMessage()), ErrClosed)

	var got []Message
	for m := range q.Messages() {
		got = append(got, m)
	}
	assert.Len(t, got, 2)
}
