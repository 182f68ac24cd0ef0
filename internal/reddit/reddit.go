// Package reddit collects retail discussion about a ticker from Reddit.
package reddit

import (
	"context"
	"errors"
	"time"

	"github.com/jonathan/fewknow/internal/types"
)

// ErrNoCredentials is returned when the Reddit API credentials are not configured
var ErrNoCredentials = errors.New("reddit credentials not configured")

// Window is the Reddit search time filter
type Window string

const (
	WindowMonth Window = "month"
	WindowYear  Window = "year"
)

const (
	DefaultMinPostScore       = 10
	DefaultSearchLimit        = 50
	MinCommentScore           = 5
	MinCommentLength          = 100
	MaxTextLength             = 1000
	MaxSubmissionsForComments = 30
	MaxCommentsPerSubmission  = 5
	MaxTotalPosts             = 100
)

// DefaultSubreddits are the retail trading communities searched
var DefaultSubreddits = []string{"wallstreetbets", "stocks", "investing"}

// Query describes one collection run
type Query struct {
	Subreddits []string
	Terms      []string
	Window     Window
	MinScore   int
	// Since drops posts created before this instant
	Since time.Time
}

// Searcher collects posts with their top comments
type Searcher interface {
	Search(ctx context.Context, q Query) ([]types.RedditPost, error)
}

// Terms returns the search terms for a ticker: the cashtag and, when known, the company name
func Terms(ticker, companyName string) []string {
	terms := []string{"$" + ticker}
	if companyName != "" && companyName != ticker {
		terms = append(terms, companyName)
	}
	return terms
}
