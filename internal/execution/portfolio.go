// Package execution fills risk-approved orders, either against a
// simulated paper market or a live brokerage, and keeps the virtual
// portfolio ledgers that back the leaderboard.
package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/titanflow/arena/internal/contracts"
)

// Position is one open holding in a virtual portfolio. Qty is always
// positive; the book is long-only.
type Position struct {
	Symbol  string  `json:"symbol"`
	Qty     int64   `json:"qty"`
	AvgCost float64 `json:"avg_cost"`
}

// EquityPoint is one sample of the portfolio's equity curve.
type EquityPoint struct {
	Equity    float64   `json:"equity"`
	Timestamp time.Time `json:"timestamp"`
}

// VirtualPortfolio is a single model's paper account: cash, long-only
// positions, realized P&L and the equity history used for performance
// metrics.
type VirtualPortfolio struct {
	mu sync.Mutex

	modelID      string
	modelName    string
	startingCash float64

	cash      float64
	positions map[string]*Position

	realizedPnL  float64
	trades       int64
	closedTrades int64
	wins         int64

	equityCurve []EquityPoint
}

// NewVirtualPortfolio creates a portfolio seeded with starting cash.
func NewVirtualPortfolio(modelID, modelName string, startingCash float64) *VirtualPortfolio {
	return &VirtualPortfolio{
		modelID:      modelID,
		modelName:    modelName,
		startingCash: startingCash,
		cash:         startingCash,
		positions:    make(map[string]*Position),
	}
}

// ApplyFill books a fill into the ledger. Buys consume cash and extend
// the lot at a blended average cost; sells release cash and realize
// P&L against that basis. A sell larger than the held lot is an error
// and leaves the ledger untouched; positions never go negative.
func (p *VirtualPortfolio) ApplyFill(fill contracts.Fill) error {
	if err := contracts.ValidateFill(fill); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positions[fill.Symbol]

	if fill.Side == contracts.SignalBuy {
		p.cash -= float64(fill.Qty) * fill.Price
		p.trades++

		if pos == nil {
			p.positions[fill.Symbol] = &Position{
				Symbol:  fill.Symbol,
				Qty:     fill.Qty,
				AvgCost: fill.Price,
			}
			return nil
		}

		total := pos.Qty + fill.Qty
		pos.AvgCost = (float64(pos.Qty)*pos.AvgCost + float64(fill.Qty)*fill.Price) / float64(total)
		pos.Qty = total
		return nil
	}

	var held int64
	if pos != nil {
		held = pos.Qty
	}
	if fill.Qty > held {
		return fmt.Errorf("%w: %s sell %d, hold %d", ErrInsufficientPosition, fill.Symbol, fill.Qty, held)
	}

	p.cash += float64(fill.Qty) * fill.Price
	p.trades++

	pnl := float64(fill.Qty) * (fill.Price - pos.AvgCost)
	p.realizedPnL += pnl
	p.closedTrades++
	if pnl > 0 {
		p.wins++
	}

	pos.Qty -= fill.Qty
	if pos.Qty == 0 {
		delete(p.positions, fill.Symbol)
	}
	return nil
}

// Equity marks the portfolio to the given prices. Symbols without a
// quote fall back to their average cost.
func (p *VirtualPortfolio) Equity(prices map[string]float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equityLocked(prices)
}

func (p *VirtualPortfolio) equityLocked(prices map[string]float64) float64 {
	equity := p.cash
	for sym, pos := range p.positions {
		price, ok := prices[sym]
		if !ok || price <= 0 {
			price = pos.AvgCost
		}
		equity += float64(pos.Qty) * price
	}
	return equity
}

// MarkEquity samples the equity curve at the given prices.
func (p *VirtualPortfolio) MarkEquity(prices map[string]float64, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.equityLocked(prices)
	p.equityCurve = append(p.equityCurve, EquityPoint{Equity: equity, Timestamp: now})
	return equity
}

// Cash returns the current cash balance.
func (p *VirtualPortfolio) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// PositionQty returns the quantity held in symbol, zero if flat.
func (p *VirtualPortfolio) PositionQty(symbol string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pos, ok := p.positions[symbol]; ok {
		return pos.Qty
	}
	return 0
}

// Positions returns a snapshot of the open positions.
func (p *VirtualPortfolio) Positions() []Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out
}

// Snapshot summarises the portfolio as a leaderboard row, marked to the
// given prices.
func (p *VirtualPortfolio) Snapshot(prices map[string]float64) contracts.LeaderboardRow {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.equityLocked(prices)

	row := contracts.LeaderboardRow{
		ModelID:       p.modelID,
		ModelName:     p.modelName,
		Cash:          p.cash,
		Equity:        equity,
		PnL:           equity - p.startingCash,
		RealizedPnL:   p.realizedPnL,
		Trades:        p.trades,
		Wins:          p.wins,
		ClosedTrades:  p.closedTrades,
		OpenPositions: len(p.positions),
	}
	if p.startingCash > 0 {
		row.PnLPct = row.PnL / p.startingCash
	}
	if p.closedTrades > 0 {
		row.WinRate = float64(p.wins) / float64(p.closedTrades)
	}
	return row
}

// EquityCurve returns a copy of the sampled equity history.
func (p *VirtualPortfolio) EquityCurve() []EquityPoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]EquityPoint, len(p.equityCurve))
	copy(out, p.equityCurve)
	return out
}

// String implements fmt.Stringer for log output.
func (p *VirtualPortfolio) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("portfolio(%s cash=%.2f positions=%d realized=%.2f)",
		p.modelID, p.cash, len(p.positions), p.realizedPnL)
}

