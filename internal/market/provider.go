// Package market fetches company profiles, earnings dates and price history, and computes
// post-earnings price performance against benchmark ETFs.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/fewknow/internal/types"
)

var (
	// ErrTickerNotFound is returned when a provider has no record of the symbol
	ErrTickerNotFound = errors.New("ticker not found")
	// ErrNoPriceData is returned when a price series is empty
	ErrNoPriceData = errors.New("no price data")
)

// Provider is the financial data source used by the pipeline
type Provider interface {
	Lookup(ctx context.Context, ticker string) (*types.CompanyInfo, error)
	Earnings(ctx context.Context, ticker string) (*types.EarningsMetadata, error)
	PriceHistory(ctx context.Context, ticker string, from, to time.Time) ([]types.PricePoint, error)
}

// BenchmarkSymbol is the broad-market comparison ETF
const BenchmarkSymbol = "SPY"

// DefaultEarningsLookback is used as the earnings date when no release can be found
const DefaultEarningsLookback = 90 * 24 * time.Hour

// EstimatedEarnings is the placeholder release used when no earnings date is known
func EstimatedEarnings(now time.Time) *types.EarningsMetadata {
	return &types.EarningsMetadata{
		Date:      now.Add(-DefaultEarningsLookback).Format(types.DateLayout),
		Estimated: true,
	}
}

// earningsSearchWindow bounds the earnings calendar query
const earningsSearchWindow = 400 * 24 * time.Hour

// RequestError is returned for an upstream HTTP failure
type RequestError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s request failed", e.Source)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

var sectorETFs = map[string]string{
	"Technology":             "XLK",
	"Financial Services":     "XLF",
	"Healthcare":             "XLV",
	"Consumer Cyclical":      "XLY",
	"Consumer Defensive":     "XLP",
	"Energy":                 "XLE",
	"Utilities":              "XLU",
	"Real Estate":            "XLRE",
	"Materials":              "XLB",
	"Industrials":            "XLI",
	"Communication Services": "XLC",
}

// SectorETF returns the sector ETF symbol for a sector name
func SectorETF(sector string) (string, bool) {
	etf, ok := sectorETFs[sector]
	return etf, ok
}

// industrySectors maps Finnhub industry classifications onto sector names
var industrySectors = map[string]string{
	"Technology":                       "Technology",
	"Semiconductors":                   "Technology",
	"Software":                         "Technology",
	"Electrical Equipment":             "Technology",
	"Banking":                          "Financial Services",
	"Banks":                            "Financial Services",
	"Financial Services":               "Financial Services",
	"Insurance":                        "Financial Services",
	"Capital Markets":                  "Financial Services",
	"Pharmaceuticals":                  "Healthcare",
	"Biotechnology":                    "Healthcare",
	"Health Care":                      "Healthcare",
	"Health Care Providers & Services": "Healthcare",
	"Life Sciences Tools & Services":   "Healthcare",
	"Retail":                           "Consumer Cyclical",
	"Automobiles":                      "Consumer Cyclical",
	"Auto Components":                  "Consumer Cyclical",
	"Hotels, Restaurants & Leisure":    "Consumer Cyclical",
	"Textiles, Apparel & Luxury Goods": "Consumer Cyclical",
	"Leisure Products":                 "Consumer Cyclical",
	"Diversified Consumer Services":    "Consumer Cyclical",
	"Beverages":                        "Consumer Defensive",
	"Food Products":                    "Consumer Defensive",
	"Tobacco":                          "Consumer Defensive",
	"Consumer products":                "Consumer Defensive",
	"Energy":                           "Energy",
	"Oil & Gas":                        "Energy",
	"Utilities":                        "Utilities",
	"Real Estate":                      "Real Estate",
	"Chemicals":                        "Materials",
	"Metals & Mining":                  "Materials",
	"Packaging":                        "Materials",
	"Aerospace & Defense":              "Industrials",
	"Airlines":                         "Industrials",
	"Machinery":                        "Industrials",
	"Building":                         "Industrials",
	"Construction":                     "Industrials",
	"Logistics & Transportation":       "Industrials",
	"Road & Rail":                      "Industrials",
	"Marine":                           "Industrials",
	"Industrial Conglomerates":         "Industrials",
	"Commercial Services & Supplies":   "Industrials",
	"Professional Services":            "Industrials",
	"Trading Companies & Distributors": "Industrials",
	"Media":                            "Communication Services",
	"Telecommunication":                "Communication Services",
	"Communications":                   "Communication Services",
}

// SectorForIndustry maps an industry classification onto a sector name, or "Unknown"
func SectorForIndustry(industry string) string {
	if sector, ok := industrySectors[industry]; ok {
		return sector
	}
	return "Unknown"
}
