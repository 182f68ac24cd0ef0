// Package config provides configuration loading and validation for the service and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the full application configuration.
// It is loaded from a TOML or JSON file, completed with defaults, then overridden from the environment.
type Config struct {
	Server   ServerConfig   `toml:"server" json:"server"`
	Log      LogConfig      `toml:"log" json:"log"`
	LLM      LLMConfig      `toml:"llm" json:"llm"`
	Market   MarketConfig   `toml:"market" json:"market"`
	News     NewsConfig     `toml:"news" json:"news"`
	Reddit   RedditConfig   `toml:"reddit" json:"reddit"`
	Pipeline PipelineConfig `toml:"pipeline" json:"pipeline"`
}

// ServerConfig configures the HTTP gateway
type ServerConfig struct {
	Host            string   `toml:"host" json:"host"`
	Port            int      `toml:"port" json:"port" validate:"min=1,max=65535"`
	ShutdownTimeout string   `toml:"shutdown_timeout" json:"shutdown_timeout" validate:"omitempty,duration"`
	AllowedOrigins  []string `toml:"allowed_origins" json:"allowed_origins"`
}

// LogConfig configures the arbor logger
type LogConfig struct {
	Level  string   `toml:"level" json:"level" validate:"oneof=trace debug info warn error"`
	Output []string `toml:"output" json:"output" validate:"dive,oneof=console stdout file"`
	File   string   `toml:"file" json:"file"`
}

// LLMConfig configures the language model provider
type LLMConfig struct {
	Provider        string  `toml:"provider" json:"provider" validate:"oneof=anthropic gemini"`
	APIKey          string  `toml:"api_key" json:"api_key,omitempty"`
	ModelStandard   string  `toml:"model_standard" json:"model_standard,omitempty"`
	ModelAdvanced   string  `toml:"model_advanced" json:"model_advanced,omitempty"`
	SentimentTokens int     `toml:"sentiment_max_tokens" json:"sentiment_max_tokens" validate:"min=0"`
	ReportTokens    int     `toml:"report_max_tokens" json:"report_max_tokens" validate:"min=0"`
	Temperature     float64 `toml:"temperature" json:"temperature" validate:"min=0,max=1"`
	Timeout         string  `toml:"timeout" json:"timeout" validate:"omitempty,duration"`
}

// MarketConfig configures the financial data provider
type MarketConfig struct {
	FinnhubAPIKey  string  `toml:"finnhub_api_key" json:"finnhub_api_key,omitempty"`
	YahooBaseURL   string  `toml:"yahoo_base_url" json:"yahoo_base_url" validate:"omitempty,url"`
	RequestsPerSec float64 `toml:"requests_per_second" json:"requests_per_second" validate:"min=0"`
	Timeout        string  `toml:"timeout" json:"timeout" validate:"omitempty,duration"`
}

// NewsConfig configures the news provider
type NewsConfig struct {
	FinnhubAPIKey string `toml:"finnhub_api_key" json:"finnhub_api_key,omitempty"`
	Lookback      string `toml:"lookback" json:"lookback" validate:"omitempty,duration"`
	Timeout       string `toml:"timeout" json:"timeout" validate:"omitempty,duration"`
}

// RedditConfig configures the Reddit collector
type RedditConfig struct {
	ClientID          string   `toml:"client_id" json:"client_id,omitempty"`
	ClientSecret      string   `toml:"client_secret" json:"client_secret,omitempty"`
	UserAgent         string   `toml:"user_agent" json:"user_agent,omitempty"`
	Subreddits        []string `toml:"subreddits" json:"subreddits" validate:"dive,required"`
	MinScore          int      `toml:"min_score" json:"min_score"`
	SearchLimit       int      `toml:"search_limit" json:"search_limit" validate:"min=0,max=100"`
	RequestsPerMinute int      `toml:"requests_per_minute" json:"requests_per_minute" validate:"min=0"`
	Timeout           string   `toml:"timeout" json:"timeout" validate:"omitempty,duration"`
}

// PipelineConfig configures job execution and retention
type PipelineConfig struct {
	AdapterTimeout     string `toml:"adapter_timeout" json:"adapter_timeout" validate:"omitempty,duration"`
	LLMTimeout         string `toml:"llm_timeout" json:"llm_timeout" validate:"omitempty,duration"`
	NarrowWindowDays   int    `toml:"narrow_window_days" json:"narrow_window_days" validate:"min=0"`
	RetainCompleted    string `toml:"retain_completed" json:"retain_completed" validate:"omitempty,duration"`
	RetainFailed       string `toml:"retain_failed" json:"retain_failed" validate:"omitempty,duration"`
	EvictionSchedule   string `toml:"eviction_schedule" json:"eviction_schedule"`
	MaxConcurrentFetch int    `toml:"max_concurrent_fetch" json:"max_concurrent_fetch" validate:"min=0"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8000,
			ShutdownTimeout: "30s",
			AllowedOrigins:  []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Output: []string{"console"},
		},
		LLM: LLMConfig{
			Provider:        "anthropic",
			SentimentTokens: 4000,
			ReportTokens:    16000,
			Temperature:     0.2,
			Timeout:         "180s",
		},
		Market: MarketConfig{
			YahooBaseURL:   "https://query1.finance.yahoo.com",
			RequestsPerSec: 5,
			Timeout:        "15s",
		},
		News: NewsConfig{
			Lookback: "8760h",
			Timeout:  "10s",
		},
		Reddit: RedditConfig{
			UserAgent:         "fewknow/1.0",
			Subreddits:        []string{"wallstreetbets", "stocks", "investing"},
			MinScore:          10,
			SearchLimit:       50,
			RequestsPerMinute: 60,
			Timeout:           "20s",
		},
		Pipeline: PipelineConfig{
			AdapterTimeout:     "60s",
			LLMTimeout:         "180s",
			NarrowWindowDays:   30,
			RetainCompleted:    "24h",
			RetainFailed:       "1h",
			EvictionSchedule:   "@every 10m",
			MaxConcurrentFetch: 4,
		},
	}
}

// LoadConfig reads a TOML or JSON configuration file, chosen by extension.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml", "":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	return &cfg, nil
}

// Load builds the effective configuration: file (optional), defaults, environment, validation
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	merged := cfg.MergeWithDefaults(Default())
	merged.ApplyEnv(os.Getenv)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("'%s' failed '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config error: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config error: %w", err)
	}
	if c.Reddit.ClientID != "" && c.Reddit.ClientSecret == "" {
		return fmt.Errorf("config error: 'reddit.client_secret' is required when 'reddit.client_id' is set")
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero-valued fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	str := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	num := func(dst *int, def int) {
		if *dst == 0 {
			*dst = def
		}
	}
	list := func(dst *[]string, def []string) {
		if len(*dst) == 0 {
			*dst = append([]string(nil), def...)
		}
	}

	str(&result.Server.Host, defaults.Server.Host)
	num(&result.Server.Port, defaults.Server.Port)
	str(&result.Server.ShutdownTimeout, defaults.Server.ShutdownTimeout)
	list(&result.Server.AllowedOrigins, defaults.Server.AllowedOrigins)

	str(&result.Log.Level, defaults.Log.Level)
	list(&result.Log.Output, defaults.Log.Output)
	str(&result.Log.File, defaults.Log.File)

	str(&result.LLM.Provider, defaults.LLM.Provider)
	str(&result.LLM.APIKey, defaults.LLM.APIKey)
	str(&result.LLM.ModelStandard, defaults.LLM.ModelStandard)
	str(&result.LLM.ModelAdvanced, defaults.LLM.ModelAdvanced)
	num(&result.LLM.SentimentTokens, defaults.LLM.SentimentTokens)
	num(&result.LLM.ReportTokens, defaults.LLM.ReportTokens)
	if result.LLM.Temperature == 0 {
		result.LLM.Temperature = defaults.LLM.Temperature
	}
	str(&result.LLM.Timeout, defaults.LLM.Timeout)

	str(&result.Market.FinnhubAPIKey, defaults.Market.FinnhubAPIKey)
	str(&result.Market.YahooBaseURL, defaults.Market.YahooBaseURL)
	if result.Market.RequestsPerSec == 0 {
		result.Market.RequestsPerSec = defaults.Market.RequestsPerSec
	}
	str(&result.Market.Timeout, defaults.Market.Timeout)

	str(&result.News.FinnhubAPIKey, defaults.News.FinnhubAPIKey)
	str(&result.News.Lookback, defaults.News.Lookback)
	str(&result.News.Timeout, defaults.News.Timeout)

	str(&result.Reddit.ClientID, defaults.Reddit.ClientID)
	str(&result.Reddit.ClientSecret, defaults.Reddit.ClientSecret)
	str(&result.Reddit.UserAgent, defaults.Reddit.UserAgent)
	list(&result.Reddit.Subreddits, defaults.Reddit.Subreddits)
	num(&result.Reddit.MinScore, defaults.Reddit.MinScore)
	num(&result.Reddit.SearchLimit, defaults.Reddit.SearchLimit)
	num(&result.Reddit.RequestsPerMinute, defaults.Reddit.RequestsPerMinute)
	str(&result.Reddit.Timeout, defaults.Reddit.Timeout)

	str(&result.Pipeline.AdapterTimeout, defaults.Pipeline.AdapterTimeout)
	str(&result.Pipeline.LLMTimeout, defaults.Pipeline.LLMTimeout)
	num(&result.Pipeline.NarrowWindowDays, defaults.Pipeline.NarrowWindowDays)
	str(&result.Pipeline.RetainCompleted, defaults.Pipeline.RetainCompleted)
	str(&result.Pipeline.RetainFailed, defaults.Pipeline.RetainFailed)
	str(&result.Pipeline.EvictionSchedule, defaults.Pipeline.EvictionSchedule)
	num(&result.Pipeline.MaxConcurrentFetch, defaults.Pipeline.MaxConcurrentFetch)

	return result
}

// Duration parses a configured duration, returning def when empty or invalid
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ApplyEnv overrides configuration from environment variables.
// Secrets are normally supplied this way rather than committed to the config file.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}

	if v := getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("LOG_FILE"); v != "" {
		c.Log.File = v
		if !slices.Contains(c.Log.Output, "file") {
			c.Log.Output = append(c.Log.Output, "file")
		}
	}

	if v := getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = strings.ToLower(v)
	}
	switch c.LLM.Provider {
	case "gemini":
		if v := getenv("GEMINI_API_KEY"); v != "" {
			c.LLM.APIKey = v
		}
	default:
		if v := getenv("ANTHROPIC_API_KEY"); v != "" {
			c.LLM.APIKey = v
		}
	}
	if v := getenv("LLM_MODEL"); v != "" {
		c.LLM.ModelStandard = v
		c.LLM.ModelAdvanced = v
	}

	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Market.FinnhubAPIKey = v
		c.News.FinnhubAPIKey = v
	}

	if v := getenv("REDDIT_CLIENT_ID"); v != "" {
		c.Reddit.ClientID = v
	}
	if v := getenv("REDDIT_CLIENT_SECRET"); v != "" {
		c.Reddit.ClientSecret = v
	}
	if v := getenv("REDDIT_USER_AGENT"); v != "" {
		c.Reddit.UserAgent = v
	}
}

// RedditEnabled reports whether Reddit credentials are configured
func (c *Config) RedditEnabled() bool {
	return c.Reddit.ClientID != "" && c.Reddit.ClientSecret != ""
}
