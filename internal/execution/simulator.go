package execution

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// LatencySimulator models broker round-trip latency as a uniform delay.
type LatencySimulator struct {
	min time.Duration
	max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLatencySimulator creates a simulator delaying uniformly in
// [min, max]. Degenerate bounds collapse to min.
func NewLatencySimulator(min, max time.Duration) *LatencySimulator {
	if max < min {
		max = min
	}
	return &LatencySimulator{
		min: min,
		max: max,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks for one sampled latency or until the context is
// cancelled.
func (l *LatencySimulator) Wait(ctx context.Context) error {
	delay := l.min
	if span := l.max - l.min; span > 0 {
		l.mu.Lock()
		delay += time.Duration(l.rng.Int63n(int64(span) + 1))
		l.mu.Unlock()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SlippageModel perturbs fill prices with a random microstructure
// component, a linear size impact and a fixed spread cost.
type SlippageModel struct {
	// BaseBps is the half-spread cost in basis points.
	BaseBps float64
	// NoiseStdDev is the standard deviation of the random component.
	NoiseStdDev float64
	// ImpactPerShare is the linear market-impact coefficient.
	ImpactPerShare float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSlippageModel creates a slippage model with the stock
// coefficients around the given base spread.
func NewSlippageModel(baseBps float64) *SlippageModel {
	return &SlippageModel{
		BaseBps:        baseBps,
		NoiseStdDev:    1e-4,
		ImpactPerShare: 5e-9,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Apply returns the fill price for a buy or sell of qty shares at the
// given decision price. Buys always fill at or above the decision
// price, sells at or below. Non-positive prices pass through
// untouched.
func (s *SlippageModel) Apply(buy bool, qty int64, price float64) float64 {
	if price <= 0 {
		return price
	}

	s.mu.Lock()
	noise := s.rng.NormFloat64() * s.NoiseStdDev
	s.mu.Unlock()

	frac := math.Abs(noise + float64(qty)*s.ImpactPerShare + s.BaseBps/1e4)

	if buy {
		return price * (1 + frac)
	}
	return price * (1 - frac)
}
