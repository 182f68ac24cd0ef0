package market

import (
	"fmt"
	"math"

	"github.com/jonathan/fewknow/internal/types"
)

const (
	tradingDaysPerYear        = 252
	highVolatilityThreshold   = 40.0
	mediumVolatilityThreshold = 25.0
)

// ComputePerformance summarises the stock's move over the series against SPY and the sector ETF.
// An empty spy series leaves the market comparison as "N/A"; an empty sector series or sectorETF
// omits the sector comparison.
func ComputePerformance(stock, spy, sector []types.PricePoint, sectorETF string) (*types.PricePerformance, error) {
	if len(stock) == 0 {
		return nil, ErrNoPriceData
	}

	stockReturn := totalReturn(stock)
	last := stock[len(stock)-1].Close
	vol := annualizedVolatility(stock)
	drawdown := maxDrawdown(stock)

	perf := &types.PricePerformance{
		SinceEarnings:   formatPct(stockReturn),
		VsSP500:         "N/A",
		MaxDrawdown:     formatPct(drawdown),
		CurrentPrice:    fmt.Sprintf("$%.2f", last),
		Volatility:      VolatilityBucket(vol),
		VolatilityPct:   formatPct(vol),
		ReturnPct:       round1(stockReturn),
		MaxDrawdownPct:  round1(drawdown),
		VolatilityValue: round1(vol),
		LastClose:       last,
		TradingDays:     len(stock),
	}

	if len(spy) > 0 {
		spyReturn := totalReturn(spy)
		perf.SP500ReturnPct = round1(spyReturn)
		perf.VsSP500 = formatPct(stockReturn - spyReturn)
	}

	if sectorETF != "" && len(sector) > 0 {
		sectorReturn := round1(totalReturn(sector))
		perf.SectorETF = sectorETF
		perf.SectorReturnPct = &sectorReturn
		perf.VsSector = formatPct(stockReturn - totalReturn(sector))
	}

	return perf, nil
}

// VolatilityBucket classifies annualised volatility in percent
func VolatilityBucket(pct float64) string {
	switch {
	case pct > highVolatilityThreshold:
		return types.VolatilityHigh
	case pct > mediumVolatilityThreshold:
		return types.VolatilityMedium
	default:
		return types.VolatilityLow
	}
}

func totalReturn(series []types.PricePoint) float64 {
	first := series[0].Close
	if first == 0 {
		return 0
	}
	return (series[len(series)-1].Close/first - 1) * 100
}

func dailyReturns(series []types.PricePoint) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		prev := series[i-1].Close
		if prev == 0 {
			continue
		}
		out = append(out, series[i].Close/prev-1)
	}
	return out
}

// annualizedVolatility is the sample standard deviation of daily returns scaled to a year, in percent
func annualizedVolatility(series []types.PricePoint) float64 {
	returns := dailyReturns(series)
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear) * 100
}

// maxDrawdown is the worst peak-to-trough decline of the close series, in percent (<= 0)
func maxDrawdown(series []types.PricePoint) float64 {
	var peak, worst float64
	for _, p := range series {
		if p.Close > peak {
			peak = p.Close
		}
		if peak == 0 {
			continue
		}
		if dd := (p.Close - peak) / peak * 100; dd < worst {
			worst = dd
		}
	}
	return worst
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func formatPct(v float64) string {
	s := fmt.Sprintf("%.1f%%", v)
	if s == "-0.0%" {
		return "0.0%"
	}
	return s
}
