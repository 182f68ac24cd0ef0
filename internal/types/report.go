package types

import "slices"

// NewsArticle is a single news item about the company
type NewsArticle struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
	Date        string `json:"date"`
	URL         string `json:"url"`
	Author      string `json:"author"`
}

// Event is a dated entry on the report timeline
type Event struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

// InsightReport is the narrative produced by the synthesis pass
type InsightReport struct {
	Headline          string       `json:"headline"`
	Story             string       `json:"story"`
	RetailPerspective string       `json:"retail_perspective"`
	TheGap            string       `json:"the_gap"`
	WhatsNext         string       `json:"whats_next"`
	KeyDates          []Event      `json:"key_dates"`
	Sources           []string     `json:"sources"`
	TopRedditPosts    []RedditPost `json:"top_reddit_posts,omitempty"`
}

// Clone returns a deep copy
func (r *InsightReport) Clone() *InsightReport {
	out := *r
	out.KeyDates = slices.Clone(r.KeyDates)
	out.Sources = slices.Clone(r.Sources)
	out.TopRedditPosts = slices.Clone(r.TopRedditPosts)
	for i := range out.TopRedditPosts {
		out.TopRedditPosts[i] = r.TopRedditPosts[i].Clone()
	}
	return &out
}
