// Package synthesis turns collected market data and Reddit discussion into structured
// sentiment and the final insight report using two schema-enforced LLM calls.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/jonathan/fewknow/internal/llm"
	"github.com/jonathan/fewknow/internal/prompts"
	"github.com/jonathan/fewknow/internal/schemas"
	"github.com/jonathan/fewknow/internal/types"
	schemafiles "github.com/jonathan/fewknow/schemas"
)

const (
	// MaxPostsForLLM bounds the posts included in the sentiment prompt
	MaxPostsForLLM = 50
	// MaxPostBodyChars bounds each post body in the sentiment prompt
	MaxPostBodyChars = 500
	// MaxNewsForLLM bounds the articles included in the report prompt
	MaxNewsForLLM = 30
	// DefaultEvidenceCount is the number of Reddit posts carried into the report
	DefaultEvidenceCount = 5
)

// Synthesizer runs the sentiment and report LLM passes
type Synthesizer struct {
	client llm.Client
	logger arbor.ILogger
}

// New creates a Synthesizer
func New(client llm.Client, logger arbor.ILogger) *Synthesizer {
	return &Synthesizer{client: client, logger: logger}
}

// ExtractSentiment asks the model for structured sentiment over the highest scoring posts.
func (s *Synthesizer) ExtractSentiment(ctx context.Context, ticker, earningsDate string, posts []types.RedditPost) (*types.RedditAnalysis, error) {
	ranked := make([]types.RedditPost, len(posts))
	copy(ranked, posts)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	shown := ranked[:min(len(ranked), MaxPostsForLLM)]

	schema, err := schemas.Raw(schemafiles.RedditAnalysis)
	if err != nil {
		return nil, err
	}
	prompt, err := prompts.Render(prompts.SentimentFile, "extract-sentiment", map[string]string{
		"Ticker":       ticker,
		"EarningsDate": earningsDate,
		"PostCount":    fmt.Sprint(len(posts)),
		"ShownCount":   fmt.Sprint(len(shown)),
		"Posts":        formatPosts(shown),
		"Schema":       schema,
	})
	if err != nil {
		return nil, err
	}

	var analysis types.RedditAnalysis
	err = llm.GenerateStructured(ctx, s.client, llm.StructuredRequest{
		System:         prompts.MustGet(prompts.SentimentFile, prompts.KeySystem),
		Prompt:         prompt,
		Schema:         schemafiles.RedditAnalysis,
		Tier:           llm.TierStandard,
		RepairTemplate: prompts.MustGet(prompts.SentimentFile, prompts.KeyRepair),
	}, &analysis)
	if err != nil {
		return nil, fmt.Errorf("sentiment extraction for %s: %w", ticker, err)
	}
	analysis.PostsAnalyzed = len(posts)

	s.logger.Info().
		Str("ticker", ticker).
		Str("sentiment", analysis.OverallSentiment).
		Int("themes", len(analysis.TopThemes)).
		Msg("Reddit sentiment extracted")
	return &analysis, nil
}

func formatPosts(posts []types.RedditPost) string {
	var sb strings.Builder
	for i, p := range posts {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s] [r/%s] Score: %d\n", p.Date, p.Subreddit, p.Score)
		fmt.Fprintf(&sb, "Title: %s\n", p.Title)
		body := p.Text
		if body == "" {
			body = "(no text)"
		}
		fmt.Fprintf(&sb, "Content: %s", llm.Truncate(body, MaxPostBodyChars))
		for _, c := range p.Comments {
			fmt.Fprintf(&sb, "\n  > (%d) %s", c.Score, llm.Truncate(c.Text, MaxPostBodyChars/2))
		}
	}
	return sb.String()
}

// Bundle is the context handed to the report pass
type Bundle struct {
	Ticker      string
	Company     *types.CompanyInfo
	Earnings    *types.EarningsMetadata
	Performance *types.PricePerformance
	News        []types.NewsArticle
	Sentiment   *types.RedditAnalysis
	Evidence    []types.RedditPost
	Limitations []string
}

type reportContext struct {
	Company          string                  `json:"company"`
	Ticker           string                  `json:"ticker"`
	Sector           string                  `json:"sector"`
	Industry         string                  `json:"industry,omitempty"`
	LastEarnings     *types.EarningsMetadata `json:"last_earnings,omitempty"`
	PricePerformance *types.PricePerformance `json:"price_performance,omitempty"`
	RedditAnalysis   *types.RedditAnalysis   `json:"reddit_analysis,omitempty"`
	TopRedditPosts   []evidenceSummary       `json:"top_reddit_posts,omitempty"`
	NewsArticles     []types.NewsArticle     `json:"news_articles,omitempty"`
	NewsCount        int                     `json:"news_articles_count,omitempty"`
}

type evidenceSummary struct {
	Date      string `json:"date"`
	Subreddit string `json:"subreddit"`
	Score     int    `json:"score"`
	Title     string `json:"title"`
	Text      string `json:"text"`
}

// Synthesize produces the insight report. The evidence posts are attached to the validated report.
func (s *Synthesizer) Synthesize(ctx context.Context, b Bundle) (*types.InsightReport, error) {
	rc := reportContext{
		Ticker:           b.Ticker,
		Company:          b.Ticker,
		Sector:           "Unknown",
		LastEarnings:     b.Earnings,
		PricePerformance: b.Performance,
		RedditAnalysis:   b.Sentiment,
	}
	if b.Company != nil {
		rc.Company = b.Company.Name
		rc.Sector = b.Company.Sector
		rc.Industry = b.Company.Industry
	}
	for _, p := range b.Evidence {
		rc.TopRedditPosts = append(rc.TopRedditPosts, evidenceSummary{
			Date:      p.Date,
			Subreddit: p.Subreddit,
			Score:     p.Score,
			Title:     p.Title,
			Text:      llm.Truncate(p.Text, MaxPostBodyChars),
		})
	}

	news := recentNews(b.News, MaxNewsForLLM)
	newsInstruction := ""
	if len(news) > 0 {
		rc.NewsArticles = news
		rc.NewsCount = len(b.News)
		var err error
		newsInstruction, err = prompts.Render(prompts.InsightFile, "news-instruction", map[string]string{
			"IncludedCount": fmt.Sprint(len(news)),
			"TotalCount":    fmt.Sprint(len(b.News)),
		})
		if err != nil {
			return nil, err
		}
	}

	limitations := ""
	if len(b.Limitations) > 0 {
		items := make([]string, len(b.Limitations))
		for i, l := range b.Limitations {
			items[i] = "- " + l
		}
		var err error
		limitations, err = prompts.Render(prompts.InsightFile, "limitations", map[string]string{
			"Items": strings.Join(items, "\n"),
		})
		if err != nil {
			return nil, err
		}
	}

	contextJSON, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report context: %w", err)
	}
	schema, err := schemas.Raw(schemafiles.InsightReport)
	if err != nil {
		return nil, err
	}
	prompt, err := prompts.Render(prompts.InsightFile, "synthesize", map[string]string{
		"Ticker":          b.Ticker,
		"Context":         string(contextJSON),
		"NewsInstruction": newsInstruction,
		"Limitations":     limitations,
		"Schema":          schema,
	})
	if err != nil {
		return nil, err
	}

	var report types.InsightReport
	err = llm.GenerateStructured(ctx, s.client, llm.StructuredRequest{
		System:         prompts.MustGet(prompts.InsightFile, prompts.KeySystem),
		Prompt:         prompt,
		Schema:         schemafiles.InsightReport,
		Tier:           llm.TierAdvanced,
		RepairTemplate: prompts.MustGet(prompts.InsightFile, prompts.KeyRepair),
	}, &report)
	if err != nil {
		return nil, fmt.Errorf("insight report for %s: %w", b.Ticker, err)
	}

	report.TopRedditPosts = nil
	for _, p := range b.Evidence {
		report.TopRedditPosts = append(report.TopRedditPosts, p.Clone())
	}

	s.logger.Info().Str("ticker", b.Ticker).Str("headline", report.Headline).Msg("Insight report generated")
	return &report, nil
}

// recentNews returns at most n articles, newest first
func recentNews(articles []types.NewsArticle, n int) []types.NewsArticle {
	if len(articles) == 0 {
		return nil
	}
	sorted := make([]types.NewsArticle, len(articles))
	copy(sorted, articles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date > sorted[j].Date })
	return sorted[:min(len(sorted), n)]
}
