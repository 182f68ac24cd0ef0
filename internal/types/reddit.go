package types

import "slices"

// RedditComment is a top-level or nested comment kept as evidence
type RedditComment struct {
	Author    string   `json:"author"`
	Text      string   `json:"text"`
	Score     int      `json:"score"`
	Date      string   `json:"date"`
	URL       string   `json:"url"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

// RedditPost is a submission with a bounded list of its best comments
type RedditPost struct {
	ID        string          `json:"id"`
	Subreddit string          `json:"subreddit"`
	Author    string          `json:"author"`
	Title     string          `json:"title"`
	Text      string          `json:"text"`
	Score     int             `json:"score"`
	Date      string          `json:"date"`
	CreatedAt int64           `json:"created_utc"`
	URL       string          `json:"url"`
	ImageURLs []string        `json:"image_urls,omitempty"`
	Comments  []RedditComment `json:"comments,omitempty"`
}

// Clone returns a deep copy
func (p RedditPost) Clone() RedditPost {
	out := p
	out.ImageURLs = slices.Clone(p.ImageURLs)
	out.Comments = slices.Clone(p.Comments)
	for i := range out.Comments {
		out.Comments[i].ImageURLs = slices.Clone(p.Comments[i].ImageURLs)
	}
	return out
}

// SentimentPeriod is one slice of the sentiment timeline
type SentimentPeriod struct {
	Period     string   `json:"period"`
	Sentiment  string   `json:"sentiment"`  // bullish | bearish | mixed
	Confidence string   `json:"confidence"` // high | medium | low
	KeyDrivers []string `json:"key_drivers"`
}

// Theme is a recurring topic in the discussion
type Theme struct {
	Theme         string   `json:"theme"`
	MentionCount  int      `json:"mention_count"`
	Sentiment     string   `json:"sentiment"`
	ExampleQuotes []string `json:"example_quotes"`
}

// InsightfulPost is a post the model singled out
type InsightfulPost struct {
	Date           string `json:"date"`
	ContentSummary string `json:"content_summary"`
	WhyNotable     string `json:"why_notable"`
	Score          int    `json:"score"`
}

// WorryVsOptimism contrasts retail concerns with retail hopes
type WorryVsOptimism struct {
	Worries  []string `json:"worries"`
	Optimism []string `json:"optimism"`
}

// RedditAnalysis is the structured output of the sentiment pass
type RedditAnalysis struct {
	OverallSentiment  string            `json:"overall_sentiment"`
	SentimentTimeline []SentimentPeriod `json:"sentiment_timeline"`
	TopThemes         []Theme           `json:"top_themes"`
	NotableInsights   []InsightfulPost  `json:"notable_insights"`
	ContrarianTakes   []string          `json:"contrarian_takes"`
	WorryVsOptimism   WorryVsOptimism   `json:"worry_vs_optimism"`
	OverallSummary    string            `json:"overall_summary"`
	PostsAnalyzed     int               `json:"posts_analyzed"`
}

// Clone returns a deep copy
func (a *RedditAnalysis) Clone() *RedditAnalysis {
	out := *a
	out.SentimentTimeline = slices.Clone(a.SentimentTimeline)
	for i := range out.SentimentTimeline {
		out.SentimentTimeline[i].KeyDrivers = slices.Clone(a.SentimentTimeline[i].KeyDrivers)
	}
	out.TopThemes = slices.Clone(a.TopThemes)
	for i := range out.TopThemes {
		out.TopThemes[i].ExampleQuotes = slices.Clone(a.TopThemes[i].ExampleQuotes)
	}
	out.NotableInsights = slices.Clone(a.NotableInsights)
	out.ContrarianTakes = slices.Clone(a.ContrarianTakes)
	out.WorryVsOptimism = WorryVsOptimism{
		Worries:  slices.Clone(a.WorryVsOptimism.Worries),
		Optimism: slices.Clone(a.WorryVsOptimism.Optimism),
	}
	return &out
}
