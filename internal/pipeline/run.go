// Package pipeline runs the staged analysis of a ticker: market data, news, Reddit discussion and
// two LLM passes, recording a progress checkpoint in the job store before each stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/fewknow/internal/jobs"
	"github.com/jonathan/fewknow/internal/market"
	"github.com/jonathan/fewknow/internal/news"
	"github.com/jonathan/fewknow/internal/pipeline/steps"
	"github.com/jonathan/fewknow/internal/reddit"
	"github.com/jonathan/fewknow/internal/synthesis"
	"github.com/jonathan/fewknow/internal/types"
)

const (
	// DefaultAdapterTimeout bounds each market, news and Reddit call
	DefaultAdapterTimeout = 60 * time.Second
	// DefaultLLMTimeout bounds each synthesis call
	DefaultLLMTimeout = 180 * time.Second
	// MaxNewsLookback is the default cap on how far back news is requested
	MaxNewsLookback = 365 * 24 * time.Hour
)

// Store is the part of the job store the runner writes through
type Store interface {
	Create(ticker string) (types.Snapshot, error)
	Update(id string, u jobs.Update) (types.Snapshot, error)
}

// Publisher receives every snapshot the store returns during a run
type Publisher interface {
	Publish(snap types.Snapshot)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(types.Snapshot)

// Publish calls f
func (f PublisherFunc) Publish(snap types.Snapshot) {
	f(snap)
}

// Synthesizer runs the sentiment and report LLM passes
type Synthesizer interface {
	ExtractSentiment(ctx context.Context, ticker, earningsDate string, posts []types.RedditPost) (*types.RedditAnalysis, error)
	Synthesize(ctx context.Context, b synthesis.Bundle) (*types.InsightReport, error)
}

// Deps are the collaborators of a Runner. News and Reddit may be nil; those stages then degrade.
type Deps struct {
	Store     Store
	Publisher Publisher
	Market    market.Provider
	News      news.Provider
	Reddit    reddit.Searcher
	Synth     Synthesizer
	Logger    arbor.ILogger
}

type options struct {
	adapterTimeout   time.Duration
	llmTimeout       time.Duration
	narrowWindowDays int
	newsLookback     time.Duration
	subreddits       []string
	minScore         int
	evidenceCount    int
	now              func() time.Time
}

// Option configures a Runner
type Option func(*options)

// WithAdapterTimeout bounds each data adapter call
func WithAdapterTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.adapterTimeout = d
		}
	}
}

// WithLLMTimeout bounds each LLM call
func WithLLMTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.llmTimeout = d
		}
	}
}

// WithNarrowWindowDays sets the earnings age up to which the month search window is used
func WithNarrowWindowDays(days int) Option {
	return func(o *options) {
		if days > 0 {
			o.narrowWindowDays = days
		}
	}
}

// WithNewsLookback caps how far back news is requested
func WithNewsLookback(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.newsLookback = d
		}
	}
}

// WithSubreddits overrides the communities searched
func WithSubreddits(subs []string) Option {
	return func(o *options) {
		if len(subs) > 0 {
			o.subreddits = slices.Clone(subs)
		}
	}
}

// WithMinScore sets the minimum Reddit post score
func WithMinScore(score int) Option {
	return func(o *options) {
		o.minScore = score
	}
}

// WithEvidenceCount sets how many Reddit posts are carried into the report
func WithEvidenceCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.evidenceCount = n
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Runner executes analysis jobs in the background
type Runner struct {
	deps Deps
	opts options

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a runner. Jobs started on it run until they finish or Shutdown cancels them.
func NewRunner(deps Deps, opts ...Option) *Runner {
	o := options{
		adapterTimeout:   DefaultAdapterTimeout,
		llmTimeout:       DefaultLLMTimeout,
		narrowWindowDays: DefaultNarrowWindowDays,
		newsLookback:     MaxNewsLookback,
		subreddits:       slices.Clone(reddit.DefaultSubreddits),
		minScore:         reddit.DefaultMinPostScore,
		evidenceCount:    synthesis.DefaultEvidenceCount,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if deps.Logger == nil {
		deps.Logger = arbor.NewNoOpLogger()
	}
	if deps.Publisher == nil {
		deps.Publisher = PublisherFunc(func(types.Snapshot) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{deps: deps, opts: o, ctx: ctx, cancel: cancel}
}

// Start creates a pending job and runs it on its own goroutine.
// The pending snapshot is returned as soon as the job exists; the run's outcome is only visible in the store.
func (r *Runner) Start(ticker string) (types.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return types.Snapshot{}, ErrShuttingDown
	}
	snap, err := r.deps.Store.Create(ticker)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("create job: %w", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = r.Run(r.ctx, snap.JobID, snap.Ticker)
	}()
	return snap, nil
}

// Shutdown cancels in-flight runs and waits for them to record their outcome, bounded by ctx
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes every stage for an existing pending job and records the outcome in the store.
// The returned error is the internal cause; the failed job carries only a user-safe message.
func (r *Runner) Run(ctx context.Context, jobID, ticker string) (result *types.Result, err error) {
	e := &execution{
		deps:   r.deps,
		opts:   r.opts,
		jobID:  jobID,
		ticker: jobs.NormalizeTicker(ticker),
		logger: r.deps.Logger.WithCorrelationId(jobID),
		now:    r.opts.now(),
		stage:  steps.Start,
	}

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error().
				Str("stage", e.stage).
				Str("stack", string(debug.Stack())).
				Msg(fmt.Sprintf("Recovered from panic: %v", rec))
			result = nil
			err = &StageError{
				Stage:   e.stage,
				Kind:    types.ErrorKindInternal,
				Message: "Internal error during analysis",
				Err:     fmt.Errorf("panic: %v", rec),
			}
		}
		if err != nil {
			e.fail(ctx, err)
		}
	}()

	e.logger.Info().Str("ticker", e.ticker).Msg("Analysis started")
	result, err = e.run(ctx)
	if err == nil {
		e.logger.Info().
			Str("ticker", e.ticker).
			Str("elapsed", r.opts.now().Sub(e.now).Round(time.Millisecond).String()).
			Int("limitations", len(result.Limitations)).
			Msg("Analysis completed")
	}
	return result, err
}

// execution holds the state of one run. Stages fill it in order.
type execution struct {
	deps   Deps
	opts   options
	jobID  string
	ticker string
	logger arbor.ILogger
	now    time.Time
	stage  string
	// started is set once the job has left pending
	started bool

	company      *types.CompanyInfo
	earnings     *types.EarningsMetadata
	earningsTime time.Time
	performance  *types.PricePerformance
	news         []types.NewsArticle
	posts        []types.RedditPost
	sentiment    *types.RedditAnalysis
	report       *types.InsightReport
	limitations  []string
}

func (e *execution) run(ctx context.Context) (*types.Result, error) {
	handlers := map[string]func(context.Context) error{
		steps.Validate:   e.validate,
		steps.Financials: e.financials,
		steps.News:       e.collectNews,
		steps.Reddit:     e.collectReddit,
		steps.Sentiment:  e.extractSentiment,
		steps.Report:     e.synthesize,
	}

	for _, def := range steps.Ordered {
		if def.Name == steps.Finalize {
			break
		}
		if err := e.checkpoint(ctx, def); err != nil {
			return nil, err
		}
		h, ok := handlers[def.Name]
		if !ok {
			continue
		}
		if err := h(ctx); err != nil {
			if !def.Degradable || ctx.Err() != nil {
				return nil, err
			}
			e.logger.Warn().Err(err).Str("stage", def.Name).Msg("Stage failed, continuing without its data")
			e.limit(def.Fallback)
		}
	}
	return e.finalize()
}

// checkpoint records that def is in progress and publishes the new snapshot
func (e *execution) checkpoint(ctx context.Context, def steps.StepDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.stage = def.Name
	snap, err := e.deps.Store.Update(e.jobID, jobs.Processing(def.Progress, def.Message))
	if err != nil {
		return fmt.Errorf("record %s checkpoint: %w", def.Name, err)
	}
	e.started = true
	e.deps.Publisher.Publish(snap)
	e.logger.Debug().
		Str("stage", def.Name).
		Int("progress", def.Progress).
		Msg(def.Message)
	return nil
}

func (e *execution) adapterContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.adapterTimeout)
}

func (e *execution) llmContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.llmTimeout)
}

// limit records a data limitation carried into the report and result
func (e *execution) limit(note string) {
	e.limitations = append(e.limitations, note)
}

func (e *execution) validate(ctx context.Context) error {
	cctx, cancel := e.adapterContext(ctx)
	defer cancel()

	info, err := e.deps.Market.Lookup(cctx, e.ticker)
	switch {
	case errors.Is(err, market.ErrTickerNotFound) || (err == nil && info == nil):
		return &StageError{
			Stage:   steps.Validate,
			Kind:    types.ErrorKindValidation,
			Message: fmt.Sprintf("Ticker '%s' not found", e.ticker),
			Err:     err,
		}
	case err != nil:
		return &StageError{
			Stage:   steps.Validate,
			Kind:    types.ErrorKindProvider,
			Message: fmt.Sprintf("Unable to validate ticker '%s'", e.ticker),
			Err:     err,
		}
	}

	e.company = info
	e.logger.Info().
		Str("ticker", e.ticker).
		Str("company", info.Name).
		Str("sector", info.Sector).
		Msg("Ticker validated")
	return nil
}

func (e *execution) financials(ctx context.Context) error {
	e.loadEarnings(ctx)

	sectorETF, hasSector := market.SectorETF(e.company.Sector)
	from, to := e.earningsTime, e.now

	cctx, cancel := e.adapterContext(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(cctx)

	var (
		stock, spy, sector []types.PricePoint
		spyErr, sectorErr  error
	)
	g.Go(func() error {
		var err error
		stock, err = e.deps.Market.PriceHistory(gctx, e.ticker, from, to)
		return err
	})
	g.Go(func() error {
		spy, spyErr = e.deps.Market.PriceHistory(gctx, market.BenchmarkSymbol, from, to)
		return nil
	})
	if hasSector {
		g.Go(func() error {
			sector, sectorErr = e.deps.Market.PriceHistory(gctx, sectorETF, from, to)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return e.priceFailure(err)
	}

	if spyErr != nil || len(spy) == 0 {
		e.benchmarkWarning(market.BenchmarkSymbol, spyErr)
		e.limit("S&P 500 benchmark data unavailable; market comparison omitted")
	}
	switch {
	case !hasSector:
		e.limit(fmt.Sprintf("No sector benchmark for sector '%s'; sector comparison omitted", e.company.Sector))
	case sectorErr != nil || len(sector) == 0:
		e.benchmarkWarning(sectorETF, sectorErr)
		e.limit(fmt.Sprintf("Sector benchmark %s unavailable; sector comparison omitted", sectorETF))
	}

	perf, err := market.ComputePerformance(stock, spy, sector, sectorETF)
	if err != nil {
		return e.priceFailure(err)
	}
	e.performance = perf
	e.logger.Info().
		Str("earnings_date", e.earnings.Date).
		Str("since_earnings", perf.SinceEarnings).
		Str("vs_sp500", perf.VsSP500).
		Msg("Financial data collected")
	return nil
}

func (e *execution) benchmarkWarning(symbol string, err error) {
	if err == nil {
		err = market.ErrNoPriceData
	}
	e.logger.Warn().Err(err).Str("symbol", symbol).Msg("Benchmark price history unavailable")
}

// loadEarnings never fails: an unknown release falls back to the estimated date
func (e *execution) loadEarnings(ctx context.Context) {
	cctx, cancel := e.adapterContext(ctx)
	defer cancel()

	earnings, err := e.deps.Market.Earnings(cctx, e.ticker)
	if err != nil || earnings == nil {
		e.logger.Warn().Str("ticker", e.ticker).Str("error", fmt.Sprint(err)).Msg("Earnings lookup failed, using estimated date")
		earnings = market.EstimatedEarnings(e.now)
	}
	t, err := earnings.Time()
	if err != nil {
		e.logger.Warn().Str("date", earnings.Date).Msg("Unparseable earnings date, using estimated date")
		earnings = market.EstimatedEarnings(e.now)
		t, _ = earnings.Time()
	}
	if earnings.Estimated {
		e.limit(fmt.Sprintf("No recent earnings release found; using an estimated date of %s", earnings.Date))
	}
	e.earnings = earnings
	e.earningsTime = t
}

func (e *execution) priceFailure(err error) *StageError {
	return &StageError{
		Stage:   steps.Financials,
		Kind:    types.ErrorKindProvider,
		Message: fmt.Sprintf("Price data unavailable for '%s'", e.ticker),
		Err:     err,
	}
}

func (e *execution) collectNews(ctx context.Context) error {
	e.news = []types.NewsArticle{}
	if e.deps.News == nil {
		e.limit("News source not configured; no news coverage included")
		return nil
	}

	from := e.earningsTime
	if floor := e.now.Add(-e.opts.newsLookback); from.Before(floor) {
		from = floor
	}

	cctx, cancel := e.adapterContext(ctx)
	defer cancel()

	articles, err := e.deps.News.RecentArticles(cctx, e.ticker, from, e.now)
	switch {
	case errors.Is(err, news.ErrUnavailable):
		e.logger.Info().Msg("News source not configured, continuing without news")
		e.limit("News source not configured; no news coverage included")
	case err != nil:
		return fmt.Errorf("news collection: %w", err)
	case len(articles) == 0:
		e.limit("No news articles found since the last earnings report")
	default:
		e.news = articles
	}
	e.logger.Info().Int("articles", len(e.news)).Msg("News collected")
	return nil
}

func (e *execution) collectReddit(ctx context.Context) error {
	if e.deps.Reddit == nil {
		e.limit("Reddit credentials not configured; retail sentiment not assessed")
		return nil
	}

	window := ChooseWindow(e.earningsTime, e.now, e.opts.narrowWindowDays)
	name := ""
	if e.company != nil {
		name = e.company.Name
	}

	cctx, cancel := e.adapterContext(ctx)
	defer cancel()

	posts, err := e.deps.Reddit.Search(cctx, reddit.Query{
		Subreddits: e.opts.subreddits,
		Terms:      reddit.Terms(e.ticker, name),
		Window:     window,
		MinScore:   e.opts.minScore,
		Since:      e.earningsTime,
	})
	switch {
	case errors.Is(err, reddit.ErrNoCredentials):
		e.logger.Info().Msg("Reddit credentials not configured, continuing without Reddit")
		e.limit("Reddit credentials not configured; retail sentiment not assessed")
		return nil
	case err != nil:
		return fmt.Errorf("reddit collection: %w", err)
	}

	since := e.earningsTime.Unix()
	e.posts = slices.DeleteFunc(posts, func(p types.RedditPost) bool {
		return p.CreatedAt != 0 && p.CreatedAt < since
	})
	if len(e.posts) == 0 {
		e.limit("No Reddit discussion found since the last earnings report; retail sentiment not assessed")
	}
	e.logger.Info().
		Str("window", string(window)).
		Int("posts", len(e.posts)).
		Msg("Reddit discussions collected")
	return nil
}

func (e *execution) extractSentiment(ctx context.Context) error {
	if len(e.posts) == 0 {
		e.logger.Info().Msg("No Reddit posts, skipping sentiment analysis")
		return nil
	}

	cctx, cancel := e.llmContext(ctx)
	defer cancel()

	analysis, err := e.deps.Synth.ExtractSentiment(cctx, e.ticker, e.earnings.Date, e.posts)
	if err != nil {
		return llmFailure(steps.Sentiment, "Sentiment analysis", err)
	}
	e.sentiment = analysis
	return nil
}

func (e *execution) synthesize(ctx context.Context) error {
	cctx, cancel := e.llmContext(ctx)
	defer cancel()

	report, err := e.deps.Synth.Synthesize(cctx, synthesis.Bundle{
		Ticker:      e.ticker,
		Company:     e.company,
		Earnings:    e.earnings,
		Performance: e.performance,
		News:        e.news,
		Sentiment:   e.sentiment,
		Evidence:    synthesis.SelectEvidence(e.posts, e.sentiment, e.opts.evidenceCount),
		Limitations: slices.Clone(e.limitations),
	})
	if err != nil {
		return llmFailure(steps.Report, "Insight report generation", err)
	}
	e.report = report
	return nil
}

func (e *execution) finalize() (*types.Result, error) {
	def := steps.MustGet(steps.Finalize)
	e.stage = def.Name

	result := &types.Result{
		JobID:            e.jobID,
		Ticker:           e.ticker,
		CompanyInfo:      e.company,
		EarningsMetadata: e.earnings,
		PricePerformance: e.performance,
		NewsArticles:     e.news,
		RedditAnalysis:   e.sentiment,
		InsightReport:    e.report,
		Limitations:      e.limitations,
	}
	snap, err := e.deps.Store.Update(e.jobID, jobs.Completed(result, def.Message))
	if err != nil {
		return nil, fmt.Errorf("record completion: %w", err)
	}
	e.deps.Publisher.Publish(snap)
	return snap.Result, nil
}

// fail records the terminal failure. Cancellation of the run itself wins over the stage error.
func (e *execution) fail(ctx context.Context, err error) {
	jobErr := toJobError(err)
	if errors.Is(ctx.Err(), context.Canceled) {
		jobErr = toJobError(context.Canceled)
	}
	e.logger.Error().
		Err(err).
		Str("stage", e.stage).
		Str("kind", string(jobErr.Kind)).
		Msg("Analysis failed")

	// a job can only fail from processing, so a run stopped before its first checkpoint records one now
	if !e.started {
		def := steps.MustGet(steps.Start)
		snap, uerr := e.deps.Store.Update(e.jobID, jobs.Processing(def.Progress, def.Message))
		if uerr != nil {
			e.logger.Error().Err(uerr).Msg("Failed to record job start")
			return
		}
		e.started = true
		e.deps.Publisher.Publish(snap)
	}

	snap, uerr := e.deps.Store.Update(e.jobID, jobs.Failed(jobErr))
	if uerr != nil {
		e.logger.Error().Err(uerr).Msg("Failed to record job failure")
		return
	}
	e.deps.Publisher.Publish(snap)
}
