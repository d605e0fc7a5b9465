package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanflow/arena/internal/contracts"
)

// syntheticBars builds a deterministic drifting price series.
func syntheticBars(n int) []contracts.Bar {
	bars := make([]contracts.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		// Deterministic oscillation with drift
		move := 0.5*math.Sin(float64(i)/3) + 0.05
		price += move
		bars[i] = contracts.Bar{
			Symbol:    "SPY",
			Open:      price - move,
			High:      price + 0.3,
			Low:       price - move - 0.3,
			Close:     price,
			Volume:    1000 + 50*float64(i%7),
			Timestamp: time.Unix(int64(i)*60, 0),
		}
	}
	return bars
}

func TestCompute_InsufficientBars(t *testing.T) {
	assert.Nil(t, Compute(syntheticBars(MinBars-1)))
}

func TestCompute_AllValuesFinite(t *testing.T) {
	rows := Compute(syntheticBars(120))
	require.NotEmpty(t, rows)

	for _, r := range rows {
		for _, v := range r.Vector() {
			assert.False(t, math.IsNaN(v), "NaN in row %+v", r)
			assert.False(t, math.IsInf(v, 0), "Inf in row %+v", r)
		}
	}
}

func TestCompute_BollingerOrdering(t *testing.T) {
	rows := Compute(syntheticBars(120))
	require.NotEmpty(t, rows)

	for _, r := range rows {
		assert.GreaterOrEqual(t, r.BBUpper, r.BBMiddle)
		assert.GreaterOrEqual(t, r.BBMiddle, r.BBLower)
	}
}

func TestCompute_ATRNonNegative(t *testing.T) {
	rows := Compute(syntheticBars(120))
	require.NotEmpty(t, rows)

	for _, r := range rows {
		assert.GreaterOrEqual(t, r.ATR, 0.0)
	}
}

func TestWilderRSI_Bounds(t *testing.T) {
	closes := make([]float64, 60)
	price := 100.0
	for i := range closes {
		price += math.Sin(float64(i)) * 2
		closes[i] = price
	}

	rsi := WilderRSI(closes, 14)
	require.NotEmpty(t, rsi)
	for _, v := range rsi {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestWilderRSI_AllGains(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rsi := WilderRSI(closes, 14)
	require.NotEmpty(t, rsi)
	assert.Equal(t, 100.0, rsi[len(rsi)-1])
}

func TestWilderRSI_TooFewSamples(t *testing.T) {
	assert.Nil(t, WilderRSI([]float64{1, 2, 3}, 14))
}

func TestATR_FlatSeriesIsZero(t *testing.T) {
	n := 30
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i], lows[i], closes[i] = 100, 100, 100
	}

	atr := ATR(highs, lows, closes, 14)
	require.NotEmpty(t, atr)
	for _, v := range atr {
		assert.Equal(t, 0.0, v)
	}
}

func TestNormalize_ZeroMeanUnitScale(t *testing.T) {
	rows := Compute(syntheticBars(120))
	require.NotEmpty(t, rows)

	norm := Normalize(rows)
	require.Len(t, norm, len(rows))
	require.Len(t, norm[0], len(ModelFeatures))

	// Column means should be ~0 after z-scoring.
	for c := range ModelFeatures {
		var mean float64
		for _, row := range norm {
			mean += row[c]
		}
		mean /= float64(len(norm))
		assert.InDelta(t, 0.0, mean, 1e-6)
	}
}

func TestNormalize_ConstantColumnMapsToZero(t *testing.T) {
	rows := []Row{
		{LogReturn: 1, RSI: 50, ATR: 2, MACD: 0.1, MACDHist: 0, MACDSignal: 0.1, BBUpper: 5, BBLower: 3},
		{LogReturn: 1, RSI: 50, ATR: 2, MACD: 0.1, MACDHist: 0, MACDSignal: 0.1, BBUpper: 5, BBLower: 3},
	}
	norm := Normalize(rows)
	for _, row := range norm {
		for _, v := range row {
			assert.InDelta(t, 0.0, v, 1e-6)
		}
	}
}
