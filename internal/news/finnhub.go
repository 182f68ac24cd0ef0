// Package news collects company news articles.
package news

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"
	"github.com/ternarybob/arbor"

	"github.com/jonathan/fewknow/internal/types"
)

// ErrUnavailable is returned when the news source is not configured
var ErrUnavailable = errors.New("news source unavailable")

const (
	// MaxDescriptionLength bounds the stored article summary
	MaxDescriptionLength = 500
	// DefaultTimeout bounds a single Finnhub request
	DefaultTimeout = 10 * time.Second
)

// Provider returns articles about a ticker published in [from, to]
type Provider interface {
	RecentArticles(ctx context.Context, ticker string, from, to time.Time) ([]types.NewsArticle, error)
}

// FinnhubClient implements Provider with the Finnhub company-news endpoint
type FinnhubClient struct {
	client *finnhub.DefaultApiService
	logger arbor.ILogger
}

// Option configures a FinnhubClient
type Option func(*finnhub.Configuration)

// WithBaseURL overrides the Finnhub API server
func WithBaseURL(u string) Option {
	return func(cfg *finnhub.Configuration) {
		cfg.Servers = finnhub.ServerConfigurations{{URL: strings.TrimRight(u, "/")}}
	}
}

// WithHTTPClient sets the HTTP client used for requests
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *finnhub.Configuration) { cfg.HTTPClient = c }
}

// NewFinnhubClient creates a news client. An empty apiKey yields a client whose calls return ErrUnavailable.
func NewFinnhubClient(apiKey string, logger arbor.ILogger, opts ...Option) *FinnhubClient {
	c := &FinnhubClient{logger: logger}
	if apiKey == "" {
		return c
	}

	cfg := finnhub.NewConfiguration()
	cfg.AddDefaultHeader("X-Finnhub-Token", apiKey)
	cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(cfg)
	}
	c.client = finnhub.NewAPIClient(cfg).DefaultApi
	return c
}

// RecentArticles returns articles newest first. Entries without a headline or summary are skipped.
func (c *FinnhubClient) RecentArticles(ctx context.Context, ticker string, from, to time.Time) ([]types.NewsArticle, error) {
	if c.client == nil {
		return nil, ErrUnavailable
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	items, _, err := c.client.CompanyNews(ctx).
		Symbol(ticker).
		From(from.Format(types.DateLayout)).
		To(to.Format(types.DateLayout)).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("finnhub company news for %s: %w", ticker, err)
	}

	type dated struct {
		article types.NewsArticle
		at      int64
	}
	collected := make([]dated, 0, len(items))
	for _, item := range items {
		headline := strings.TrimSpace(item.GetHeadline())
		summary := strings.TrimSpace(item.GetSummary())
		if headline == "" || summary == "" {
			continue
		}

		source := item.GetSource()
		if source == "" {
			source = "Unknown"
		}
		at := item.GetDatetime()
		published := to
		if at > 0 {
			published = time.Unix(at, 0).UTC()
		}

		collected = append(collected, dated{
			article: types.NewsArticle{
				Title:       headline,
				Description: clip(summary, MaxDescriptionLength),
				Source:      source,
				Date:        published.Format(types.DateLayout),
				URL:         item.GetUrl(),
				Author:      source,
			},
			at: published.Unix(),
		})
	}

	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].at > collected[j].at
	})

	articles := make([]types.NewsArticle, len(collected))
	for i, d := range collected {
		articles[i] = d.article
	}

	c.logger.Info().Str("ticker", ticker).Int("articles", len(articles)).Msg("News articles collected")
	return articles, nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
