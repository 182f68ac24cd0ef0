package synthesis

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jonathan/fewknow/internal/types"
)

// stopWords are ignored when building relevance keywords
var stopWords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "been": true, "before": true,
	"being": true, "could": true, "does": true, "from": true, "have": true, "into": true,
	"just": true, "like": true, "more": true, "most": true, "much": true, "only": true,
	"over": true, "same": true, "some": true, "such": true, "than": true, "that": true,
	"their": true, "them": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "very": true, "were": true, "what": true, "when": true, "which": true,
	"while": true, "will": true, "with": true, "would": true, "your": true, "stock": true,
	"shares": true, "company": true,
}

// SelectEvidence picks the n posts to show as evidence in the report.
// Posts are ranked by score * (1 + keyword matches), where keywords come from the analysis
// themes, key drivers and notable insights. Ties fall back to score, then recency, then id,
// so the selection is deterministic for a given input.
func SelectEvidence(posts []types.RedditPost, analysis *types.RedditAnalysis, n int) []types.RedditPost {
	if n <= 0 || len(posts) == 0 {
		return nil
	}

	keywords := analysisKeywords(analysis)

	type ranked struct {
		post   types.RedditPost
		weight int
	}
	candidates := make([]ranked, len(posts))
	for i, p := range posts {
		candidates[i] = ranked{post: p, weight: p.Score * relevance(p, keywords)}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		if a.post.Score != b.post.Score {
			return a.post.Score > b.post.Score
		}
		if a.post.CreatedAt != b.post.CreatedAt {
			return a.post.CreatedAt > b.post.CreatedAt
		}
		return a.post.ID < b.post.ID
	})

	out := make([]types.RedditPost, 0, min(n, len(candidates)))
	for _, c := range candidates[:min(n, len(candidates))] {
		out = append(out, c.post.Clone())
	}
	return out
}

// relevance is 1 plus the number of distinct keywords found in the post
func relevance(p types.RedditPost, keywords map[string]bool) int {
	if len(keywords) == 0 {
		return 1
	}
	matched := make(map[string]bool)
	for _, w := range tokenize(p.Title + " " + p.Text) {
		if keywords[w] {
			matched[w] = true
		}
	}
	return 1 + len(matched)
}

func analysisKeywords(a *types.RedditAnalysis) map[string]bool {
	keywords := make(map[string]bool)
	if a == nil {
		return keywords
	}
	add := func(text string) {
		for _, w := range tokenize(text) {
			keywords[w] = true
		}
	}
	for _, th := range a.TopThemes {
		add(th.Theme)
	}
	for _, period := range a.SentimentTimeline {
		for _, d := range period.KeyDrivers {
			add(d)
		}
	}
	for _, in := range a.NotableInsights {
		add(in.ContentSummary)
	}
	return keywords
}

// tokenize lowercases text and keeps words of four or more letters that are not stop words
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 4 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
