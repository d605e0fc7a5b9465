// Package strategy hosts the arena's trading strategies: the contract
// they implement, the built-in contenders, and the engine that routes
// market data to them and publishes their signals.
package strategy

import (
	"github.com/titanflow/arena/internal/contracts"
)

// Inferred position states used for signal gating. A strategy must not
// emit consecutive identical signals while in the same state.
const (
	PositionFlat  = ""
	PositionLong  = "LONG"
	PositionShort = "SHORT"
)

// Strategy is the contract every contender implements. Implementations
// are stateful, own a bounded price/bar buffer, and return nil until
// their warmup period is satisfied. A strategy that only operates on
// bars may treat every tick as a one-tick flat OHLC bar.
type Strategy interface {
	// OnTick processes a trade event and returns a signal or nil.
	OnTick(tick contracts.Tick) (*contracts.TradeSignal, error)
	// OnBar processes a completed OHLCV bar and returns a signal or nil.
	OnBar(bar contracts.Bar) (*contracts.TradeSignal, error)
	// WarmupPeriod is the number of inputs required before the first
	// signal can be emitted.
	WarmupPeriod() int
	// ModelID uniquely identifies this contender in the arena.
	ModelID() string
	// ModelName is the human-readable contender name.
	ModelName() string
}

// ring is a bounded FIFO of float64 samples.
type ring struct {
	data []float64
	max  int
}

func newRing(max int) *ring {
	return &ring{max: max}
}

func (r *ring) push(v float64) {
	r.data = append(r.data, v)
	if len(r.data) > r.max {
		r.data = r.data[1:]
	}
}

func (r *ring) len() int { return len(r.data) }

// values returns the buffered samples oldest-first. The returned slice
// aliases internal storage and must not be retained.
func (r *ring) values() []float64 { return r.data }

// tail returns the mean of the most recent n samples.
func (r *ring) tailMean(n int) float64 {
	if n <= 0 || n > len(r.data) {
		return 0
	}
	var sum float64
	for _, v := range r.data[len(r.data)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// barRing is a bounded FIFO of bars.
type barRing struct {
	data []contracts.Bar
	max  int
}

func newBarRing(max int) *barRing {
	return &barRing{max: max}
}

func (r *barRing) push(b contracts.Bar) {
	r.data = append(r.data, b)
	if len(r.data) > r.max {
		r.data = r.data[1:]
	}
}

func (r *barRing) len() int { return len(r.data) }

func (r *barRing) values() []contracts.Bar { return r.data }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
