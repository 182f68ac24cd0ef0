package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_ValidTOML(t *testing.T) {
	content := `
[server]
port = 9000

[log]
level = "debug"

[llm]
provider = "gemini"
report_max_tokens = 8000

[reddit]
subreddits = ["stocks"]
min_score = 25
`
	tmpFile := filepath.Join(t.TempDir(), "fewknow.toml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 8000, cfg.LLM.ReportTokens)
	assert.Equal(t, []string{"stocks"}, cfg.Reddit.Subreddits)
	assert.Equal(t, 25, cfg.Reddit.MinScore)
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	content := `{
		"server": {"port": 8080},
		"pipeline": {"narrow_window_days": 14, "retain_failed": "30m"}
	}`

	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 14, cfg.Pipeline.NarrowWindowDays)
	assert.Equal(t, "30m", cfg.Pipeline.RetainFailed)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(`{ invalid json }`), 0644))

	cfg, err := LoadConfig(tmpFile)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("[server\nport = "), 0644))

	cfg, err := LoadConfig(tmpFile)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config TOML")
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("server: {}"), 0644))

	_, err := LoadConfig(tmpFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.toml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config path is empty")
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "24h", cfg.Pipeline.RetainCompleted)
	assert.Equal(t, "1h", cfg.Pipeline.RetainFailed)
	assert.Equal(t, 30, cfg.Pipeline.NarrowWindowDays)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "Server.Port"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "Log.Level"},
		{"bad provider", func(c *Config) { c.LLM.Provider = "openai" }, "LLM.Provider"},
		{"bad duration", func(c *Config) { c.Pipeline.LLMTimeout = "soon" }, "Pipeline.LLMTimeout"},
		{"bad temperature", func(c *Config) { c.LLM.Temperature = 1.5 }, "LLM.Temperature"},
		{"bad output", func(c *Config) { c.Log.Output = []string{"syslog"} }, "Log.Output"},
		{"search limit", func(c *Config) { c.Reddit.SearchLimit = 500 }, "Reddit.SearchLimit"},
		{"secret missing", func(c *Config) { c.Reddit.ClientID = "abc" }, "client_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 9999},
		Reddit: RedditConfig{Subreddits: []string{"options"}},
	}

	merged := cfg.MergeWithDefaults(Default())

	assert.Equal(t, 9999, merged.Server.Port)
	assert.Equal(t, []string{"options"}, merged.Reddit.Subreddits)
	assert.Equal(t, "info", merged.Log.Level)
	assert.Equal(t, "anthropic", merged.LLM.Provider)
	assert.Equal(t, 16000, merged.LLM.ReportTokens)
	assert.Equal(t, "@every 10m", merged.Pipeline.EvictionSchedule)

	// The original is left untouched
	assert.Empty(t, cfg.Log.Level)
}

func TestMergeWithDefaults_DoesNotShareSlices(t *testing.T) {
	defaults := Default()
	merged := (&Config{}).MergeWithDefaults(defaults)
	merged.Reddit.Subreddits[0] = "changed"
	assert.Equal(t, "wallstreetbets", defaults.Reddit.Subreddits[0])
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{
		"PORT":                 "8123",
		"LOG_LEVEL":            "DEBUG",
		"ANTHROPIC_API_KEY":    "sk-ant",
		"GEMINI_API_KEY":       "gm-key",
		"FINNHUB_API_KEY":      "fh-key",
		"REDDIT_CLIENT_ID":     "rid",
		"REDDIT_CLIENT_SECRET": "rsecret",
	}))

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey)
	assert.Equal(t, "fh-key", cfg.Market.FinnhubAPIKey)
	assert.Equal(t, "fh-key", cfg.News.FinnhubAPIKey)
	assert.True(t, cfg.RedditEnabled())
}

func TestApplyEnv_GeminiKey(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{
		"LLM_PROVIDER":      "Gemini",
		"ANTHROPIC_API_KEY": "sk-ant",
		"GEMINI_API_KEY":    "gm-key",
	}))

	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gm-key", cfg.LLM.APIKey)
}

func TestApplyEnv_IgnoresBadPort(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{"PORT": "eighty"}))
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestApplyEnv_LogFileAddsWriter(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{"LOG_FILE": "/tmp/fewknow.log"}))
	assert.Equal(t, []string{"console", "file"}, cfg.Log.Output)
	assert.Equal(t, "/tmp/fewknow.log", cfg.Log.File)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "fewknow.toml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("[server]\nport = 9000\n"), 0644))
	t.Setenv("PORT", "9100")

	cfg, err := Load(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("nope", time.Minute))
	assert.Equal(t, time.Minute, Duration("-1s", time.Minute))
}
