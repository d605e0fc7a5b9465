package strategy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanflow/arena/internal/contracts"
)

func tickAt(symbol string, price float64) contracts.Tick {
	return contracts.Tick{
		Type:        contracts.TickTypeTrade,
		Symbol:      symbol,
		Price:       price,
		Size:        100,
		TimestampNS: time.Now().UnixNano(),
	}
}

func feedPrices(t *testing.T, s Strategy, prices []float64) []*contracts.TradeSignal {
	t.Helper()

	var signals []*contracts.TradeSignal
	for _, p := range prices {
		sig, err := s.OnTick(tickAt("SPY", p))
		require.NoError(t, err)
		if sig != nil {
			signals = append(signals, sig)
		}
	}
	return signals
}

func newSMA(t *testing.T, fast, slow int) *SMACrossover {
	t.Helper()

	s, err := NewSMACrossover(SMACrossoverConfig{
		ModelID:    "sma_test",
		Symbol:     "SPY",
		FastPeriod: fast,
		SlowPeriod: slow,
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNewSMACrossover_InvalidPeriods(t *testing.T) {
	_, err := NewSMACrossover(SMACrossoverConfig{FastPeriod: 10, SlowPeriod: 5}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewSMACrossover(SMACrossoverConfig{FastPeriod: 0, SlowPeriod: 5}, zerolog.Nop())
	assert.Error(t, err)
}

func TestSMACrossover_WarmupGuard(t *testing.T) {
	s := newSMA(t, 3, 5)

	// No signal before the warmup period is satisfied.
	for i := 0; i < s.WarmupPeriod()-1; i++ {
		sig, err := s.OnTick(tickAt("SPY", 100+float64(i)))
		require.NoError(t, err)
		assert.Nil(t, sig, "signal before warmup at input %d", i)
	}
}

func TestSMACrossover_GoldenCrossEmitsBuy(t *testing.T) {
	s := newSMA(t, 3, 5)

	// Rising series: fast SMA above slow once warm.
	signals := feedPrices(t, s, []float64{100, 101, 102, 103, 104, 105, 106})
	require.NotEmpty(t, signals)
	assert.Equal(t, contracts.SignalBuy, signals[0].Signal)
	assert.Equal(t, "sma_test", signals[0].ModelID)
	assert.Greater(t, signals[0].Confidence, 0.0)
	assert.LessOrEqual(t, signals[0].Confidence, 1.0)
}

func TestSMACrossover_NoDuplicateWhileLong(t *testing.T) {
	s := newSMA(t, 3, 5)

	// Monotonic uptrend keeps fast > slow for every tick after the
	// cross; only the first BUY may be published.
	signals := feedPrices(t, s, []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110})
	require.Len(t, signals, 1)
	assert.Equal(t, contracts.SignalBuy, signals[0].Signal)
}

func TestSMACrossover_DeathCrossAfterGoldenCross(t *testing.T) {
	s := newSMA(t, 3, 5)

	up := []float64{100, 101, 102, 103, 104, 105, 106}
	down := []float64{104, 102, 100, 98, 96, 94, 92}

	signals := feedPrices(t, s, append(up, down...))
	require.Len(t, signals, 2)
	assert.Equal(t, contracts.SignalBuy, signals[0].Signal)
	assert.Equal(t, contracts.SignalSell, signals[1].Signal)
}

func TestSMACrossover_IgnoresNonPositivePrice(t *testing.T) {
	s := newSMA(t, 3, 5)

	sig, err := s.OnTick(tickAt("SPY", 0))
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, 0, s.prices.len())
}
