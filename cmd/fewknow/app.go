package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/jonathan/fewknow/internal/config"
	"github.com/jonathan/fewknow/internal/jobs"
	"github.com/jonathan/fewknow/internal/llm"
	"github.com/jonathan/fewknow/internal/market"
	"github.com/jonathan/fewknow/internal/news"
	"github.com/jonathan/fewknow/internal/pipeline"
	"github.com/jonathan/fewknow/internal/reddit"
	"github.com/jonathan/fewknow/internal/synthesis"
)

// loadConfig resolves the effective configuration: file, defaults, environment, then the --log-level flag
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = strings.ToLower(logLevel)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// services are the long-lived collaborators shared by the server and the CLI commands
type services struct {
	cfg    *config.Config
	logger arbor.ILogger
	store  *jobs.Store
	market *market.Client
	news   news.Provider
	reddit reddit.Searcher
	llm    llm.Client
	synth  *synthesis.Synthesizer
}

func newMarketClient(cfg *config.Config, logger arbor.ILogger) *market.Client {
	opts := []market.Option{
		market.WithYahooBaseURL(cfg.Market.YahooBaseURL),
		market.WithRequestsPerSecond(cfg.Market.RequestsPerSec),
		market.WithHTTPClient(&http.Client{Timeout: config.Duration(cfg.Market.Timeout, market.DefaultTimeout)}),
	}
	if cfg.Market.FinnhubAPIKey != "" {
		opts = append(opts, market.WithFinnhubKey(cfg.Market.FinnhubAPIKey))
	}
	return market.NewClient(logger, opts...)
}

func newNewsProvider(cfg *config.Config, logger arbor.ILogger) news.Provider {
	if cfg.News.FinnhubAPIKey == "" {
		logger.Warn().Msg("FINNHUB_API_KEY not set; reports will not include news coverage")
	}
	return news.NewFinnhubClient(cfg.News.FinnhubAPIKey, logger,
		news.WithHTTPClient(&http.Client{Timeout: config.Duration(cfg.News.Timeout, news.DefaultTimeout)}),
	)
}

// newRedditSearcher returns nil when credentials are missing; the pipeline then skips retail sentiment
func newRedditSearcher(cfg *config.Config, logger arbor.ILogger) (reddit.Searcher, error) {
	client, err := reddit.NewClient(redditConfig(cfg), logger)
	if errors.Is(err, reddit.ErrNoCredentials) {
		logger.Warn().Msg("Reddit credentials not set; reports will not include retail sentiment")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Reddit client: %w", err)
	}
	return client, nil
}

func redditConfig(cfg *config.Config) reddit.Config {
	return reddit.Config{
		ClientID:          cfg.Reddit.ClientID,
		ClientSecret:      cfg.Reddit.ClientSecret,
		UserAgent:         cfg.Reddit.UserAgent,
		SearchLimit:       cfg.Reddit.SearchLimit,
		RequestsPerMinute: cfg.Reddit.RequestsPerMinute,
		MaxConcurrency:    cfg.Pipeline.MaxConcurrentFetch,
		Timeout:           config.Duration(cfg.Reddit.Timeout, 0),
	}
}

// llmConfig maps the configured provider, models and budgets onto the client configuration
func llmConfig(cfg config.LLMConfig) *llm.Config {
	out := llm.DefaultConfigFor(llm.Provider(cfg.Provider))
	if cfg.ModelStandard != "" {
		out = out.WithModel(llm.TierStandard, cfg.ModelStandard)
	}
	if cfg.ModelAdvanced != "" {
		out = out.WithModel(llm.TierAdvanced, cfg.ModelAdvanced)
	}
	if cfg.SentimentTokens > 0 {
		out.MaxTokens[llm.TierStandard] = cfg.SentimentTokens
	}
	if cfg.ReportTokens > 0 {
		out.MaxTokens[llm.TierAdvanced] = cfg.ReportTokens
	}
	if cfg.Temperature > 0 {
		out.Temperature = cfg.Temperature
	}
	return out
}

func newStore(cfg *config.Config) *jobs.Store {
	return jobs.NewStore(jobs.WithRetention(jobs.Retention{
		Completed: config.Duration(cfg.Pipeline.RetainCompleted, jobs.DefaultRetention.Completed),
		Failed:    config.Duration(cfg.Pipeline.RetainFailed, jobs.DefaultRetention.Failed),
	}))
}

// buildServices creates every adapter. The LLM key is required; news and Reddit degrade when unconfigured.
func buildServices(ctx context.Context, cfg *config.Config, logger arbor.ILogger) (*services, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no API key for LLM provider %q: set ANTHROPIC_API_KEY or GEMINI_API_KEY", cfg.LLM.Provider)
	}
	client, err := llm.NewClient(ctx, llmConfig(cfg.LLM), cfg.LLM.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	searcher, err := newRedditSearcher(cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &services{
		cfg:    cfg,
		logger: logger,
		store:  newStore(cfg),
		market: newMarketClient(cfg, logger),
		news:   newNewsProvider(cfg, logger),
		reddit: searcher,
		llm:    client,
		synth:  synthesis.New(client, logger),
	}, nil
}

// runnerOptions maps pipeline settings onto runner options
func runnerOptions(cfg *config.Config) []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithAdapterTimeout(config.Duration(cfg.Pipeline.AdapterTimeout, pipeline.DefaultAdapterTimeout)),
		pipeline.WithLLMTimeout(config.Duration(cfg.Pipeline.LLMTimeout, pipeline.DefaultLLMTimeout)),
		pipeline.WithNarrowWindowDays(cfg.Pipeline.NarrowWindowDays),
		pipeline.WithNewsLookback(config.Duration(cfg.News.Lookback, pipeline.MaxNewsLookback)),
		pipeline.WithSubreddits(cfg.Reddit.Subreddits),
		pipeline.WithMinScore(cfg.Reddit.MinScore),
	}
}

// newRunner wires the services into a pipeline runner publishing to publisher
func (s *services) newRunner(publisher pipeline.Publisher) *pipeline.Runner {
	deps := pipeline.Deps{
		Store:     s.store,
		Publisher: publisher,
		Market:    s.market,
		News:      s.news,
		Reddit:    s.reddit,
		Synth:     s.synth,
		Logger:    s.logger,
	}
	return pipeline.NewRunner(deps, runnerOptions(s.cfg)...)
}

func (s *services) Close() {
	if s.llm != nil {
		if err := s.llm.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close LLM client")
		}
	}
}
