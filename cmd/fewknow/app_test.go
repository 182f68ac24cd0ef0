package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/jonathan/fewknow/internal/config"
	"github.com/jonathan/fewknow/internal/llm"
	"github.com/jonathan/fewknow/internal/server"
)

// clearEnv blanks every variable config.ApplyEnv reads so the host environment cannot leak into tests
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HOST", "PORT", "LOG_LEVEL", "LOG_FILE", "LLM_PROVIDER", "LLM_MODEL",
		"ANTHROPIC_API_KEY", "GEMINI_API_KEY", "FINNHUB_API_KEY",
		"REDDIT_CLIENT_ID", "REDDIT_CLIENT_SECRET", "REDDIT_USER_AGENT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fewknow.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLLMConfig(t *testing.T) {
	cfg := config.Default().LLM
	cfg.ModelAdvanced = "claude-opus-4-1"
	cfg.SentimentTokens = 3000
	cfg.ReportTokens = 12000
	cfg.Temperature = 0.5

	out := llmConfig(cfg)
	assert.Equal(t, llm.ProviderAnthropic, out.Provider)
	assert.Equal(t, "claude-opus-4-1", out.GetModel(llm.TierAdvanced))
	assert.NotEmpty(t, out.GetModel(llm.TierStandard))
	assert.Equal(t, 3000, out.GetMaxTokens(llm.TierStandard))
	assert.Equal(t, 12000, out.GetMaxTokens(llm.TierAdvanced))
	assert.InDelta(t, 0.5, out.Temperature, 1e-9)

	gemini := llmConfig(config.LLMConfig{Provider: "gemini"})
	assert.Equal(t, llm.ProviderGemini, gemini.Provider)
	assert.Equal(t, llm.DefaultGeminiConfig().GetModel(llm.TierStandard), gemini.GetModel(llm.TierStandard))
}

func TestNewRedditSearcher_NoCredentials(t *testing.T) {
	cfg := config.Default()
	searcher, err := newRedditSearcher(&cfg, arbor.NewNoOpLogger())
	require.NoError(t, err)
	assert.Nil(t, searcher, "missing credentials disable Reddit instead of failing")

	cfg.Reddit.ClientID = "id"
	cfg.Reddit.ClientSecret = "secret"
	searcher, err = newRedditSearcher(&cfg, arbor.NewNoOpLogger())
	require.NoError(t, err)
	assert.NotNil(t, searcher)
}

func TestRedditConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Reddit.Timeout = "5s"
	cfg.Pipeline.MaxConcurrentFetch = 2

	rc := redditConfig(&cfg)
	assert.Equal(t, "fewknow/1.0", rc.UserAgent)
	assert.Equal(t, 50, rc.SearchLimit)
	assert.Equal(t, 2, rc.MaxConcurrency)
	assert.Equal(t, 5*time.Second, rc.Timeout)
}

func TestBuildServices_RequiresLLMKey(t *testing.T) {
	cfg := config.Default()
	_, err := buildServices(context.Background(), &cfg, arbor.NewNoOpLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestServerConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ShutdownTimeout = "5s"
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}

	sc := serverConfig(&cfg)
	assert.Equal(t, 8000, sc.Port)
	assert.Equal(t, 5*time.Second, sc.ShutdownTimeout)
	assert.Equal(t, []string{"http://localhost:3000"}, sc.AllowedOrigins)
	assert.Equal(t, version, sc.Version)
	assert.NotNil(t, sc.RateLimit)

	cfg.Server.ShutdownTimeout = ""
	assert.Equal(t, server.DefaultShutdownTimeout, serverConfig(&cfg).ShutdownTimeout)
}

func TestRunnerOptions(t *testing.T) {
	cfg := config.Default()
	assert.Len(t, runnerOptions(&cfg), 6)
}

func TestParseTicker(t *testing.T) {
	ticker, err := parseTicker(" brk.b ")
	require.NoError(t, err)
	assert.Equal(t, "BRK.B", ticker)

	for _, bad := range []string{"", "TOOLONGTICKER", "A/B", "$NVDA"} {
		_, err := parseTicker(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadConfig_LogLevelFlag(t *testing.T) {
	clearEnv(t)
	configPath = writeConfig(t, "[log]\nlevel = \"debug\"\n")
	t.Cleanup(func() { configPath, logLevel = "", "" })

	logLevel = "WARN"
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)

	logLevel = "loud"
	_, err = loadConfig()
	assert.Error(t, err)
}

func yahooServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/NVDA") {
			_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"symbol":"NVDA","longName":"NVIDIA Corporation","fullExchangeName":"NasdaqGS","currency":"USD"}}]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath, logLevel, validateTicker = "", "", ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	clearEnv(t)
	srv := yahooServer(t)
	path := writeConfig(t, "[log]\nlevel = \"error\"\n\n[market]\nyahoo_base_url = \""+srv.URL+"\"\n")

	out, err := runCLI(t, "validate", "--ticker", "nvda", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "NVIDIA Corporation")
	assert.Contains(t, out, "NVDA")

	out, err = runCLI(t, "validate", "--ticker", "ZZZZ", "--config", path)
	assert.ErrorIs(t, err, errUnknownTicker)
	assert.Contains(t, out, "Ticker ZZZZ not found")

	_, err = runCLI(t, "validate", "--ticker", "NV/DA", "--config", path)
	assert.ErrorContains(t, err, "invalid ticker")
}
