package types

import "time"

// CompanyInfo describes a listed company
type CompanyInfo struct {
	Ticker    string  `json:"ticker"`
	Name      string  `json:"name"`
	Sector    string  `json:"sector"`
	Industry  string  `json:"industry"`
	Exchange  string  `json:"exchange,omitempty"`
	Currency  string  `json:"currency,omitempty"`
	MarketCap float64 `json:"market_cap,omitempty"`
}

// EarningsMetadata describes the most recent earnings release
type EarningsMetadata struct {
	Date        string   `json:"date"` // YYYY-MM-DD
	EPSActual   *float64 `json:"eps_actual,omitempty"`
	EPSEstimate *float64 `json:"eps_estimate,omitempty"`
	Quarter     *int     `json:"quarter,omitempty"`
	Year        *int     `json:"year,omitempty"`
	Estimated   bool     `json:"estimated"` // true when no release was found and Date is a default
}

// Clone returns a deep copy
func (e *EarningsMetadata) Clone() *EarningsMetadata {
	out := *e
	if e.EPSActual != nil {
		v := *e.EPSActual
		out.EPSActual = &v
	}
	if e.EPSEstimate != nil {
		v := *e.EPSEstimate
		out.EPSEstimate = &v
	}
	if e.Quarter != nil {
		v := *e.Quarter
		out.Quarter = &v
	}
	if e.Year != nil {
		v := *e.Year
		out.Year = &v
	}
	return &out
}

// DateLayout is the calendar date format used across reports
const DateLayout = "2006-01-02"

// Time parses the earnings date
func (e *EarningsMetadata) Time() (time.Time, error) {
	return time.Parse(DateLayout, e.Date)
}

// PricePoint is one daily bar
type PricePoint struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Volatility buckets
const (
	VolatilityHigh   = "high"
	VolatilityMedium = "medium"
	VolatilityLow    = "low"
)

// PricePerformance summarises price action since earnings
type PricePerformance struct {
	SinceEarnings string `json:"since_earnings"`
	VsSP500       string `json:"vs_sp500"`
	VsSector      string `json:"vs_sector,omitempty"`
	SectorETF     string `json:"sector_etf,omitempty"`
	MaxDrawdown   string `json:"max_drawdown"`
	CurrentPrice  string `json:"current_price"`
	Volatility    string `json:"volatility"`
	VolatilityPct string `json:"volatility_pct"`

	ReturnPct       float64  `json:"return_pct"`
	SP500ReturnPct  float64  `json:"sp500_return_pct"`
	SectorReturnPct *float64 `json:"sector_return_pct,omitempty"`
	MaxDrawdownPct  float64  `json:"max_drawdown_pct"`
	VolatilityValue float64  `json:"volatility_value"`
	LastClose       float64  `json:"last_close"`
	TradingDays     int      `json:"trading_days"`
}

// Clone returns a deep copy
func (p *PricePerformance) Clone() *PricePerformance {
	out := *p
	if p.SectorReturnPct != nil {
		v := *p.SectorReturnPct
		out.SectorReturnPct = &v
	}
	return &out
}

// HasSectorComparison reports whether a sector benchmark was available
func (p *PricePerformance) HasSectorComparison() bool {
	return p.SectorETF != "" && p.SectorReturnPct != nil
}
