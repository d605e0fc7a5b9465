package execution

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/titanflow/arena/internal/contracts"
)

// PortfolioManager keeps one virtual portfolio per model and routes
// fills to their owners. Orders are claimed at submission time; a fill
// whose order was never claimed and whose model is unknown is an
// orphan and is discarded.
type PortfolioManager struct {
	mu sync.Mutex

	startingCash float64
	portfolios   map[string]*VirtualPortfolio
	orderOwners  map[string]string

	log zerolog.Logger
}

// NewPortfolioManager creates an empty manager. Portfolios are created
// lazily on first order, each seeded with startingCash.
func NewPortfolioManager(startingCash float64, log zerolog.Logger) *PortfolioManager {
	return &PortfolioManager{
		startingCash: startingCash,
		portfolios:   make(map[string]*VirtualPortfolio),
		orderOwners:  make(map[string]string),
		log:          log.With().Str("component", "portfolio_manager").Logger(),
	}
}

// Portfolio returns the portfolio for modelID, creating it on first
// use.
func (m *PortfolioManager) Portfolio(modelID string) *VirtualPortfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.portfolioLocked(modelID)
}

func (m *PortfolioManager) portfolioLocked(modelID string) *VirtualPortfolio {
	p, ok := m.portfolios[modelID]
	if !ok {
		p = NewVirtualPortfolio(modelID, modelID, m.startingCash)
		m.portfolios[modelID] = p
		m.log.Info().Str("model_id", modelID).Float64("starting_cash", m.startingCash).Msg("Portfolio created")
	}
	return p
}

// ClaimOrder records which model owns an order id before the fill
// comes back.
func (m *PortfolioManager) ClaimOrder(orderID, modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderOwners[orderID] = modelID
}

// RouteFill books a fill into its owner's portfolio and returns the
// owning model id. Fills that cannot be attributed return false and
// leave every ledger untouched.
func (m *PortfolioManager) RouteFill(fill contracts.Fill) (string, bool) {
	m.mu.Lock()

	modelID, ok := m.orderOwners[fill.OrderID]
	if ok {
		delete(m.orderOwners, fill.OrderID)
	} else if _, known := m.portfolios[fill.ModelID]; known {
		// Fall back to the fill's own attribution when the order id
		// was never claimed (live fills round-trip through the broker).
		modelID = fill.ModelID
	} else {
		m.mu.Unlock()
		m.log.Warn().
			Str("order_id", fill.OrderID).
			Str("model_id", fill.ModelID).
			Msg("Discarding orphan fill")
		return "", false
	}

	p := m.portfolioLocked(modelID)
	m.mu.Unlock()

	if err := p.ApplyFill(fill); err != nil {
		m.log.Error().Err(err).Str("order_id", fill.OrderID).Msg("Failed to book fill")
		return "", false
	}
	return modelID, true
}

// MarkAll samples every portfolio's equity curve at the given prices.
func (m *PortfolioManager) MarkAll(prices map[string]float64) {
	for _, p := range m.snapshotPortfolios() {
		p.MarkEquity(prices, nowUTC())
	}
}

// Rows builds leaderboard rows for every portfolio, marked to the
// given prices and sorted by equity descending.
func (m *PortfolioManager) Rows(prices map[string]float64) []contracts.LeaderboardRow {
	portfolios := m.snapshotPortfolios()

	rows := make([]contracts.LeaderboardRow, 0, len(portfolios))
	for _, p := range portfolios {
		row := p.Snapshot(prices)
		enrichRow(&row, p.EquityCurve())
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Equity != rows[j].Equity {
			return rows[i].Equity > rows[j].Equity
		}
		return rows[i].ModelID < rows[j].ModelID
	})
	return rows
}

func (m *PortfolioManager) snapshotPortfolios() []*VirtualPortfolio {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*VirtualPortfolio, 0, len(m.portfolios))
	for _, p := range m.portfolios {
		out = append(out, p)
	}
	return out
}
