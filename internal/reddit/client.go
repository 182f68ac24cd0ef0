package reddit

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jonathan/fewknow/internal/types"
)

const (
	DefaultTokenURL   = "https://www.reddit.com/api/v1/access_token"
	DefaultAPIBaseURL = "https://oauth.reddit.com"
	webBaseURL        = "https://reddit.com"
	maxImagesPerItem  = 5
)

// Config configures the Reddit API client
type Config struct {
	ClientID          string
	ClientSecret      string
	UserAgent         string
	TokenURL          string
	APIBaseURL        string
	SearchLimit       int
	RequestsPerMinute int
	MaxConcurrency    int
	Timeout           time.Duration
}

// Client implements Searcher against the Reddit OAuth API
type Client struct {
	http           *http.Client
	apiBase        string
	searchLimit    int
	maxConcurrency int
	limiter        *rate.Limiter
	logger         arbor.ILogger
}

// userAgentTransport sets the User-Agent header Reddit requires on every request, token calls included
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(r)
}

// NewClient creates a Reddit client using the application-only client credentials grant.
// Returns ErrNoCredentials when the id or secret is missing.
func NewClient(cfg Config, logger arbor.ILogger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNoCredentials
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "fewknow/1.0"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	base := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &userAgentTransport{agent: cfg.UserAgent, base: http.DefaultTransport},
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := cc.Client(tokenCtx)
	httpClient.Timeout = cfg.Timeout

	return &Client{
		http:           httpClient,
		apiBase:        strings.TrimRight(cfg.APIBaseURL, "/"),
		searchLimit:    cfg.SearchLimit,
		maxConcurrency: cfg.MaxConcurrency,
		limiter:        rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		logger:         logger,
	}, nil
}

// get performs a rate-limited API call and parses the JSON body
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}

	params.Set("raw_json", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reddit request %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reddit read %s: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("reddit request %s: status %d", endpoint, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("reddit request %s: invalid JSON", endpoint)
	}
	return gjson.ParseBytes(body), nil
}

type searchTask struct {
	subreddit string
	term      string
}

// Search runs every subreddit x term search, filters and de-duplicates the posts,
// then attaches quality comments to the highest scoring posts.
// Individual search failures are logged and skipped; an error is returned only when every search failed.
// Once the searches are done the posts are always returned, even if ctx expires while comments load.
func (c *Client) Search(ctx context.Context, q Query) ([]types.RedditPost, error) {
	subs := q.Subreddits
	if len(subs) == 0 {
		subs = DefaultSubreddits
	}
	if len(q.Terms) == 0 {
		return nil, nil
	}
	window := q.Window
	if window == "" {
		window = WindowMonth
	}
	minScore := q.MinScore
	if minScore <= 0 {
		minScore = DefaultMinPostScore
	}

	var tasks []searchTask
	for _, sub := range subs {
		for _, term := range q.Terms {
			tasks = append(tasks, searchTask{subreddit: sub, term: term})
		}
	}

	results := make([][]types.RedditPost, len(tasks))
	errs := make([]error, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)
	for i, task := range tasks {
		g.Go(func() error {
			posts, err := c.searchSubreddit(gctx, task, window)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.logger.Warn().Err(err).Str("subreddit", task.subreddit).Str("term", task.term).Msg("Reddit search failed")
				errs[i] = err
				return nil
			}
			results[i] = posts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(tasks) {
		return nil, fmt.Errorf("all %d reddit searches failed: %w", failed, errs[0])
	}

	seen := make(map[string]bool)
	var posts []types.RedditPost
	for _, batch := range results {
		for _, p := range batch {
			if seen[p.ID] {
				continue
			}
			if p.Score < minScore {
				continue
			}
			if !q.Since.IsZero() && p.CreatedAt < q.Since.Unix() {
				continue
			}
			seen[p.ID] = true
			posts = append(posts, p)
		}
	}

	sortByScore(posts)
	if len(posts) > MaxTotalPosts {
		posts = posts[:MaxTotalPosts]
	}

	threads := c.attachComments(ctx, posts)

	c.logger.Info().Int("posts", len(posts)).Int("threads", threads).Str("window", string(window)).Msg("Reddit posts collected")
	return posts, nil
}

func (c *Client) searchSubreddit(ctx context.Context, task searchTask, window Window) ([]types.RedditPost, error) {
	params := url.Values{
		"q":           {task.term},
		"restrict_sr": {"1"},
		"t":           {string(window)},
		"limit":       {fmt.Sprint(c.searchLimit)},
		"sort":        {"relevance"},
	}
	listing, err := c.get(ctx, "/r/"+url.PathEscape(task.subreddit)+"/search", params)
	if err != nil {
		return nil, err
	}

	var posts []types.RedditPost
	for _, child := range listing.Get("data.children").Array() {
		if child.Get("kind").String() != "t3" {
			continue
		}
		if post, ok := parsePost(child.Get("data"), task.subreddit); ok {
			posts = append(posts, post)
		}
	}
	return posts, nil
}

// attachComments loads quality comments for the top posts in place and returns how many threads loaded.
// Comments are best effort: failures and an expired context leave the affected posts without comments.
func (c *Client) attachComments(ctx context.Context, posts []types.RedditPost) int {
	n := min(len(posts), MaxSubmissionsForComments)

	var loaded atomic.Int32
	var g errgroup.Group
	g.SetLimit(c.maxConcurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			comments, err := c.loadComments(ctx, posts[i].ID)
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Debug().Err(err).Str("post", posts[i].ID).Msg("Unable to load comments")
				}
				return nil
			}
			posts[i].Comments = comments
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		c.logger.Warn().Err(err).Int("loaded", int(loaded.Load())).Int("wanted", n).Msg("Comment loading cut short")
	}
	return int(loaded.Load())
}

func (c *Client) loadComments(ctx context.Context, postID string) ([]types.RedditComment, error) {
	params := url.Values{
		"limit": {"50"},
		"depth": {"4"},
		"sort":  {"top"},
	}
	thread, err := c.get(ctx, "/comments/"+url.PathEscape(postID), params)
	if err != nil {
		return nil, err
	}
	return qualityComments(thread.Get("1.data.children").Array(), MaxCommentsPerSubmission), nil
}

// qualityComments walks the comment tree breadth first and keeps up to max substantive comments.
// Replies of rejected comments are still visited.
func qualityComments(roots []gjson.Result, limit int) []types.RedditComment {
	var out []types.RedditComment
	queue := roots
	for len(queue) > 0 && len(out) < limit {
		node := queue[0]
		queue = queue[1:]
		if node.Get("kind").String() != "t1" {
			continue
		}
		d := node.Get("data")
		queue = append(queue, d.Get("replies.data.children").Array()...)

		body := d.Get("body").String()
		author := d.Get("author").String()
		score := int(d.Get("score").Int())
		if body == "" || body == "[deleted]" || body == "[removed]" {
			continue
		}
		if score < MinCommentScore || len([]rune(body)) <= MinCommentLength || isAutomod(author) {
			continue
		}

		out = append(out, types.RedditComment{
			Author:    author,
			Text:      clip(body, MaxTextLength),
			Score:     score,
			Date:      formatDate(d.Get("created_utc").Float()),
			URL:       webBaseURL + d.Get("permalink").String(),
			ImageURLs: dedupe(imagesFromHTML(d.Get("body_html").String()), maxImagesPerItem),
		})
	}
	return out
}

func parsePost(d gjson.Result, subreddit string) (types.RedditPost, bool) {
	id := d.Get("id").String()
	author := d.Get("author").String()
	if id == "" || author == "" || author == "[deleted]" || isAutomod(author) {
		return types.RedditPost{}, false
	}

	created := d.Get("created_utc").Float()
	var images []string
	if u := d.Get("url").String(); isImageURL(u) {
		images = append(images, u)
	}
	for _, img := range d.Get("preview.images.#.source.url").Array() {
		images = append(images, html.UnescapeString(img.String()))
	}
	images = append(images, imagesFromHTML(d.Get("selftext_html").String())...)

	if sub := d.Get("subreddit").String(); sub != "" {
		subreddit = sub
	}

	return types.RedditPost{
		ID:        id,
		Subreddit: subreddit,
		Author:    author,
		Title:     d.Get("title").String(),
		Text:      clip(d.Get("selftext").String(), MaxTextLength),
		Score:     int(d.Get("score").Int()),
		Date:      formatDate(created),
		CreatedAt: int64(created),
		URL:       webBaseURL + d.Get("permalink").String(),
		ImageURLs: dedupe(images, maxImagesPerItem),
	}, true
}

// imagesFromHTML extracts image links from rendered Reddit markdown
func imagesFromHTML(fragment string) []string {
	if fragment == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html.UnescapeString(fragment)))
	if err != nil {
		return nil
	}

	var urls []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			urls = append(urls, src)
		}
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && isImageURL(href) {
			urls = append(urls, href)
		}
	})
	return urls
}

func isImageURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return u.Host == "i.redd.it" || u.Host == "i.imgur.com"
}

func isAutomod(author string) bool {
	return strings.Contains(strings.ToLower(author), "automod")
}

func sortByScore(posts []types.RedditPost) {
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].Score != posts[j].Score {
			return posts[i].Score > posts[j].Score
		}
		if posts[i].CreatedAt != posts[j].CreatedAt {
			return posts[i].CreatedAt > posts[j].CreatedAt
		}
		return posts[i].ID < posts[j].ID
	})
}

func dedupe(items []string, limit int) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out
}

func formatDate(unix float64) string {
	if unix <= 0 {
		return "unknown"
	}
	return time.Unix(int64(unix), 0).UTC().Format(types.DateLayout)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
