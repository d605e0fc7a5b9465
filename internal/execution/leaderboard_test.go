package execution

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanflow/arena/internal/contracts"
)

func TestMaxDrawdown(t *testing.T) {
	assert.Equal(t, 0.0, maxDrawdown(nil))
	assert.Equal(t, 0.0, maxDrawdown([]float64{100, 110, 120}))

	// Peak 120, trough 90: 25% drawdown.
	dd := maxDrawdown([]float64{100, 120, 90, 110})
	assert.InDelta(t, 0.25, dd, 1e-9)
}

func TestSortinoRatio(t *testing.T) {
	assert.Equal(t, 0.0, sortinoRatio(nil))

	// No downside: zero rather than infinity.
	assert.Equal(t, 0.0, sortinoRatio([]float64{0.01, 0.02}))

	returns := []float64{0.02, -0.01, 0.02, -0.01}
	mean := 0.005
	downsideDev := math.Sqrt((0.0001 + 0.0001) / 4)
	want := (mean / downsideDev) * math.Sqrt(252)
	assert.InDelta(t, want, sortinoRatio(returns), 1e-9)
}

func TestCalmarRatio(t *testing.T) {
	assert.Equal(t, 0.0, calmarRatio([]float64{0.01}, 0))

	got := calmarRatio([]float64{0.01, 0.03}, 0.1)
	assert.InDelta(t, (0.02*252)/0.1, got, 1e-9)
}

func TestManagerRows_SortedByEquity(t *testing.T) {
	m := NewPortfolioManager(100_000, zerolog.Nop())

	rich := m.Portfolio("rich")
	require.NoError(t, rich.ApplyFill(fillFor(contracts.SignalBuy, 100, 50)))
	poor := m.Portfolio("poor")
	require.NoError(t, poor.ApplyFill(contracts.Fill{
		ID: fillFor(contracts.SignalBuy, 100, 50).ID, OrderID: "o2", ModelID: "poor",
		Symbol: "SPY", Side: contracts.SignalBuy, Qty: 100, Price: 50,
		Status: contracts.FillStatusFilled, Mode: contracts.ModePaper, Timestamp: time.Now(),
	}))

	// Rich banks a gain at 60; poor still holds while SPY marks at 40.
	require.NoError(t, rich.ApplyFill(contracts.Fill{
		ID: fillFor(contracts.SignalBuy, 1, 1).ID, OrderID: "o3", ModelID: "rich",
		Symbol: "SPY", Side: contracts.SignalSell, Qty: 100, Price: 60,
		Status: contracts.FillStatusFilled, Mode: contracts.ModePaper, Timestamp: time.Now(),
	}))

	rows := m.Rows(map[string]float64{"SPY": 40})
	require.Len(t, rows, 2)
	assert.Equal(t, "rich", rows[0].ModelID)
	assert.Equal(t, "poor", rows[1].ModelID)
	assert.Greater(t, rows[0].Equity, rows[1].Equity)
}

func TestManagerRows_IncludesDrawdownMetrics(t *testing.T) {
	m := NewPortfolioManager(100_000, zerolog.Nop())

	p := m.Portfolio("m1")
	require.NoError(t, p.ApplyFill(fillFor(contracts.SignalBuy, 1000, 50)))

	m.MarkAll(map[string]float64{"SPY": 50})
	m.MarkAll(map[string]float64{"SPY": 60})
	m.MarkAll(map[string]float64{"SPY": 45})

	rows := m.Rows(map[string]float64{"SPY": 45})
	require.Len(t, rows, 1)
	assert.Greater(t, rows[0].MaxDrawdown, 0.0)
	// Only losses in the sampled curve, Sortino is negative.
	assert.Less(t, rows[0].Sortino, 0.0)
	assert.Less(t, rows[0].Calmar, 0.0)
}

func TestRouteFill_OrphanDiscarded(t *testing.T) {
	m := NewPortfolioManager(100_000, zerolog.Nop())

	_, ok := m.RouteFill(fillFor(contracts.SignalBuy, 100, 50))
	assert.False(t, ok)
}

func TestRouteFill_ClaimedOrder(t *testing.T) {
	m := NewPortfolioManager(100_000, zerolog.Nop())
	m.Portfolio("m1")

	fill := fillFor(contracts.SignalBuy, 100, 50)
	m.ClaimOrder(fill.OrderID, "m1")

	modelID, ok := m.RouteFill(fill)
	require.True(t, ok)
	assert.Equal(t, "m1", modelID)
	assert.Equal(t, int64(100), m.Portfolio("m1").PositionQty("SPY"))

	// The claim is consumed; replays with an unknown model are dropped.
	fill.ModelID = "ghost"
	fill.OrderID = "unclaimed"
	_, ok = m.RouteFill(fill)
	assert.False(t, ok)
}

func TestRouteFill_OnlyTouchesOwningPortfolio(t *testing.T) {
	m := NewPortfolioManager(100_000, zerolog.Nop())
	m.Portfolio("m1")
	m.Portfolio("m2")

	fill := fillFor(contracts.SignalBuy, 10, 150)
	fill.Symbol = "AAPL"
	m.ClaimOrder(fill.OrderID, "m1")

	_, ok := m.RouteFill(fill)
	require.True(t, ok)

	assert.Equal(t, int64(10), m.Portfolio("m1").PositionQty("AAPL"))
	assert.Equal(t, int64(0), m.Portfolio("m2").PositionQty("AAPL"))
	assert.Equal(t, 100_000.0, m.Portfolio("m2").Cash())
	assert.Empty(t, m.Portfolio("m2").Positions())
}

func TestRouteFill_FallsBackToFillModel(t *testing.T) {
	m := NewPortfolioManager(100_000, zerolog.Nop())
	m.Portfolio("m1")

	fill := fillFor(contracts.SignalBuy, 100, 50)
	modelID, ok := m.RouteFill(fill)
	require.True(t, ok)
	assert.Equal(t, "m1", modelID)
}
