package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/fewknow/internal/types"
)

func series(closes ...float64) []types.PricePoint {
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.PricePoint, len(closes))
	for i, c := range closes {
		out[i] = types.PricePoint{Date: start.AddDate(0, 0, i), Close: c}
	}
	return out
}

func TestComputePerformance(t *testing.T) {
	stock := series(100, 110, 99, 120)
	spy := series(400, 404, 408, 410)
	sector := series(50, 51, 52, 55)

	perf, err := ComputePerformance(stock, spy, sector, "XLK")
	require.NoError(t, err)

	assert.Equal(t, "20.0%", perf.SinceEarnings)
	assert.Equal(t, 20.0, perf.ReturnPct)
	// SPY rose 2.5%
	assert.Equal(t, "17.5%", perf.VsSP500)
	assert.Equal(t, 2.5, perf.SP500ReturnPct)
	// Sector rose 10%
	assert.Equal(t, "10.0%", perf.VsSector)
	assert.Equal(t, "XLK", perf.SectorETF)
	require.NotNil(t, perf.SectorReturnPct)
	assert.Equal(t, 10.0, *perf.SectorReturnPct)
	assert.True(t, perf.HasSectorComparison())
	// Peak 110, trough 99
	assert.Equal(t, "-10.0%", perf.MaxDrawdown)
	assert.Equal(t, "$120.00", perf.CurrentPrice)
	assert.Equal(t, 4, perf.TradingDays)
	assert.Equal(t, types.VolatilityHigh, perf.Volatility)
}

func TestComputePerformance_EmptyStock(t *testing.T) {
	_, err := ComputePerformance(nil, series(1, 2), nil, "")
	assert.ErrorIs(t, err, ErrNoPriceData)
}

func TestComputePerformance_NoSector(t *testing.T) {
	perf, err := ComputePerformance(series(10, 11), series(10, 10), nil, "")
	require.NoError(t, err)
	assert.Empty(t, perf.VsSector)
	assert.Empty(t, perf.SectorETF)
	assert.Nil(t, perf.SectorReturnPct)
	assert.False(t, perf.HasSectorComparison())
}

func TestComputePerformance_SectorWithoutData(t *testing.T) {
	perf, err := ComputePerformance(series(10, 11), series(10, 10), nil, "XLE")
	require.NoError(t, err)
	assert.False(t, perf.HasSectorComparison())
}

func TestComputePerformance_NoBenchmark(t *testing.T) {
	perf, err := ComputePerformance(series(10, 11), nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "N/A", perf.VsSP500)
}

func TestComputePerformance_SinglePoint(t *testing.T) {
	perf, err := ComputePerformance(series(42), series(1), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "0.0%", perf.SinceEarnings)
	assert.Equal(t, "0.0%", perf.MaxDrawdown)
	assert.Equal(t, types.VolatilityLow, perf.Volatility)
}

func TestAnnualizedVolatility(t *testing.T) {
	// Constant daily growth has zero variance
	flat := series(100, 101, 102.01, 103.0301)
	assert.InDelta(t, 0, annualizedVolatility(flat), 1e-6)

	// Returns +10% and -10%: sample stdev 0.1414..., annualised * sqrt(252)
	swing := series(100, 110, 99)
	assert.InDelta(t, 224.5, annualizedVolatility(swing), 0.1)
}

func TestVolatilityBucket(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{10, types.VolatilityLow},
		{25, types.VolatilityLow},
		{25.1, types.VolatilityMedium},
		{40, types.VolatilityMedium},
		{40.1, types.VolatilityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VolatilityBucket(tt.pct), "pct=%v", tt.pct)
	}
}

func TestSectorETF(t *testing.T) {
	etf, ok := SectorETF("Technology")
	assert.True(t, ok)
	assert.Equal(t, "XLK", etf)

	etf, ok = SectorETF("Real Estate")
	assert.True(t, ok)
	assert.Equal(t, "XLRE", etf)

	etf, ok = SectorETF("Unknown")
	assert.False(t, ok)
	assert.Empty(t, etf)
}

func TestSectorForIndustry(t *testing.T) {
	assert.Equal(t, "Technology", SectorForIndustry("Semiconductors"))
	assert.Equal(t, "Financial Services", SectorForIndustry("Banking"))
	assert.Equal(t, "Communication Services", SectorForIndustry("Media"))
	assert.Equal(t, "Unknown", SectorForIndustry("Basket Weaving"))
}
