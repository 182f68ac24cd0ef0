package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/jonathan/fewknow/internal/types"
)

// DefaultYahooBaseURL is the Yahoo Finance chart API host
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// DefaultTimeout bounds a single upstream request
const DefaultTimeout = 15 * time.Second

// Client implements Provider using Finnhub for profiles and earnings and Yahoo Finance for prices.
// Without a Finnhub key, lookups fall back to the Yahoo chart metadata and earnings dates are estimated.
type Client struct {
	finnhub      *finnhub.DefaultApiService
	httpClient   *http.Client
	yahooBaseURL string
	limiter      *rate.Limiter
	logger       arbor.ILogger
	now          func() time.Time
}

// Option configures a Client
type Option func(*clientOptions)

type clientOptions struct {
	finnhubKey     string
	finnhubBaseURL string
	yahooBaseURL   string
	httpClient     *http.Client
	limiter        *rate.Limiter
	now            func() time.Time
}

// WithFinnhubKey enables Finnhub profile and earnings lookups
func WithFinnhubKey(key string) Option {
	return func(o *clientOptions) { o.finnhubKey = key }
}

// WithFinnhubBaseURL overrides the Finnhub API server, e.g. "https://finnhub.io/api/v1"
func WithFinnhubBaseURL(u string) Option {
	return func(o *clientOptions) { o.finnhubBaseURL = u }
}

// WithYahooBaseURL overrides the Yahoo Finance host
func WithYahooBaseURL(u string) Option {
	return func(o *clientOptions) { o.yahooBaseURL = u }
}

// WithHTTPClient sets the HTTP client used for every upstream call
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithRequestsPerSecond paces upstream calls; zero disables pacing
func WithRequestsPerSecond(rps float64) Option {
	return func(o *clientOptions) {
		if rps > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			o.limiter = nil
		}
	}
}

// WithClock sets the time source used for earnings windows
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

// NewClient creates a market data client
func NewClient(logger arbor.ILogger, opts ...Option) *Client {
	o := clientOptions{
		yahooBaseURL: DefaultYahooBaseURL,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		limiter:      rate.NewLimiter(rate.Limit(5), 1),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		httpClient:   o.httpClient,
		yahooBaseURL: strings.TrimRight(o.yahooBaseURL, "/"),
		limiter:      o.limiter,
		logger:       logger,
		now:          o.now,
	}

	if o.finnhubKey != "" {
		cfg := finnhub.NewConfiguration()
		cfg.AddDefaultHeader("X-Finnhub-Token", o.finnhubKey)
		cfg.HTTPClient = o.httpClient
		if o.finnhubBaseURL != "" {
			cfg.Servers = finnhub.ServerConfigurations{{URL: strings.TrimRight(o.finnhubBaseURL, "/")}}
		}
		c.finnhub = finnhub.NewAPIClient(cfg).DefaultApi
	}

	return c
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Lookup returns the company profile for a ticker, or ErrTickerNotFound
func (c *Client) Lookup(ctx context.Context, ticker string) (*types.CompanyInfo, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if c.finnhub == nil {
		return c.lookupYahoo(ctx, ticker)
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	profile, resp, err := c.finnhub.CompanyProfile2(ctx).Symbol(ticker).Execute()
	if err != nil {
		return nil, &RequestError{Source: "finnhub", StatusCode: statusOf(resp), Message: "company profile", Cause: err}
	}
	if profile.GetName() == "" && profile.GetTicker() == "" {
		return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
	}

	industry := profile.GetFinnhubIndustry()
	info := &types.CompanyInfo{
		Ticker:    ticker,
		Name:      profile.GetName(),
		Sector:    SectorForIndustry(industry),
		Industry:  industry,
		Exchange:  profile.GetExchange(),
		Currency:  profile.GetCurrency(),
		MarketCap: float64(profile.GetMarketCapitalization()),
	}
	if info.Name == "" {
		info.Name = ticker
	}
	if info.Industry == "" {
		info.Industry = "Unknown"
	}

	c.logger.Debug().Str("ticker", ticker).Str("name", info.Name).Str("sector", info.Sector).Msg("Company profile resolved")
	return info, nil
}

// Earnings returns the most recent earnings release on or before today.
// When none is known the date defaults to 90 days ago and Estimated is set.
func (c *Client) Earnings(ctx context.Context, ticker string) (*types.EarningsMetadata, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	now := c.now()
	estimated := EstimatedEarnings(now)
	if c.finnhub == nil {
		return estimated, nil
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	from := now.Add(-earningsSearchWindow).Format(types.DateLayout)
	to := now.Format(types.DateLayout)
	cal, resp, err := c.finnhub.EarningsCalendar(ctx).From(from).To(to).Symbol(ticker).Execute()
	if err != nil {
		return nil, &RequestError{Source: "finnhub", StatusCode: statusOf(resp), Message: "earnings calendar", Cause: err}
	}

	var latest *finnhub.EarningRelease
	for _, release := range cal.GetEarningsCalendar() {
		date := release.GetDate()
		if date == "" || date > to {
			continue
		}
		if latest == nil || date > latest.GetDate() {
			r := release
			latest = &r
		}
	}
	if latest == nil {
		c.logger.Warn().Str("ticker", ticker).Msg("No earnings release found, using estimated date")
		return estimated, nil
	}

	meta := &types.EarningsMetadata{Date: latest.GetDate()}
	if latest.EpsActual != nil {
		v := float64(*latest.EpsActual)
		meta.EPSActual = &v
	}
	if latest.EpsEstimate != nil {
		v := float64(*latest.EpsEstimate)
		meta.EPSEstimate = &v
	}
	if latest.Quarter != nil {
		v := int(*latest.Quarter)
		meta.Quarter = &v
	}
	if latest.Year != nil {
		v := int(*latest.Year)
		meta.Year = &v
	}
	return meta, nil
}

// yahooChartResponse is the subset of the Yahoo Finance chart endpoint we read
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol       string `json:"symbol"`
				LongName     string `json:"longName"`
				ShortName    string `json:"shortName"`
				ExchangeName string `json:"fullExchangeName"`
				Currency     string `json:"currency"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) fetchChart(ctx context.Context, ticker string, params url.Values) (*yahooChartResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.yahooBaseURL, url.PathEscape(ticker), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Source: "yahoo", Message: "chart", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Source: "yahoo", StatusCode: resp.StatusCode, Message: "chart"}
	}

	var chart yahooChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return nil, &RequestError{Source: "yahoo", Message: "decode chart", Cause: err}
	}
	if chart.Chart.Error != nil && strings.EqualFold(chart.Chart.Error.Code, "Not Found") {
		return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
	}
	return &chart, nil
}

func (c *Client) lookupYahoo(ctx context.Context, ticker string) (*types.CompanyInfo, error) {
	chart, err := c.fetchChart(ctx, ticker, url.Values{"interval": {"1d"}, "range": {"5d"}})
	if err != nil {
		return nil, err
	}
	meta := chart.Chart.Result[0].Meta
	if meta.Symbol == "" {
		return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
	}

	name := meta.LongName
	if name == "" {
		name = meta.ShortName
	}
	if name == "" {
		name = ticker
	}
	return &types.CompanyInfo{
		Ticker:   ticker,
		Name:     name,
		Sector:   "Unknown",
		Industry: "Unknown",
		Exchange: meta.ExchangeName,
		Currency: meta.Currency,
	}, nil
}

// PriceHistory returns daily bars between from and to, oldest first
func (c *Client) PriceHistory(ctx context.Context, ticker string, from, to time.Time) ([]types.PricePoint, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	params := url.Values{
		"interval": {"1d"},
		"period1":  {fmt.Sprint(from.Unix())},
		"period2":  {fmt.Sprint(to.Unix())},
	}
	chart, err := c.fetchChart(ctx, ticker, params)
	if err != nil {
		return nil, err
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoPriceData, ticker)
	}
	quote := result.Indicators.Quote[0]

	points := make([]types.PricePoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == 0 {
			continue
		}
		p := types.PricePoint{
			Date:  time.Unix(ts, 0).UTC(),
			Close: quote.Close[i],
		}
		if i < len(quote.Open) {
			p.Open = quote.Open[i]
		}
		if i < len(quote.High) {
			p.High = quote.High[i]
		}
		if i < len(quote.Low) {
			p.Low = quote.Low[i]
		}
		if i < len(quote.Volume) {
			p.Volume = quote.Volume[i]
		}
		points = append(points, p)
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
	return points, nil
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
