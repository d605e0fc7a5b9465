// Package gateway produces the market data feed. The synthetic
// provider drives the arena with a geometric random walk per symbol so
// every downstream service sees a realistic, always-on tick stream
// without a market data subscription.
package gateway

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/titanflow/arena/internal/bus"
	"github.com/titanflow/arena/internal/contracts"
)

var ticksPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "titanflow_gateway_ticks_published_total",
	Help: "Synthetic ticks published per symbol",
}, []string{"symbol"})

// defaultInitialPrices seeds symbols without an explicit start price.
var defaultInitialPrices = map[string]float64{
	"SPY":  450,
	"AAPL": 175,
	"TSLA": 250,
	"NVDA": 480,
}

// fallbackInitialPrice seeds unknown symbols.
const fallbackInitialPrice = 100

// SyntheticConfig configures the synthetic feed.
type SyntheticConfig struct {
	Symbols []string
	// TickInterval is the pacing between ticks per symbol.
	TickInterval time.Duration
	// Volatility is the per-tick log-return standard deviation.
	Volatility float64
	// InitialPrices overrides the default start price per symbol.
	InitialPrices map[string]float64
	// Seed fixes the random walk for reproducible runs; 0 seeds from
	// the clock.
	Seed int64
}

// SyntheticProvider publishes a geometric random walk tick stream.
type SyntheticProvider struct {
	cfg     SyntheticConfig
	bus     *bus.Bus
	limiter *rate.Limiter
	rng     *rand.Rand
	prices  map[string]float64
	log     zerolog.Logger
}

// NewSyntheticProvider creates a synthetic feed for the configured
// symbols.
func NewSyntheticProvider(cfg SyntheticConfig, b *bus.Bus, log zerolog.Logger) *SyntheticProvider {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.0002
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	prices := make(map[string]float64, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		if p, ok := cfg.InitialPrices[sym]; ok && p > 0 {
			prices[sym] = p
		} else if p, ok := defaultInitialPrices[sym]; ok {
			prices[sym] = p
		} else {
			prices[sym] = fallbackInitialPrice
		}
	}

	// One full round of symbols per interval.
	perSecond := float64(len(cfg.Symbols)) / cfg.TickInterval.Seconds()
	limiter := rate.NewLimiter(rate.Limit(perSecond), len(cfg.Symbols))

	return &SyntheticProvider{
		cfg:     cfg,
		bus:     b,
		limiter: limiter,
		rng:     rand.New(rand.NewSource(seed)),
		prices:  prices,
		log:     log.With().Str("component", "synthetic_feed").Logger(),
	}
}

// Run publishes ticks until the context is cancelled.
func (p *SyntheticProvider) Run(ctx context.Context) error {
	p.log.Info().
		Strs("symbols", p.cfg.Symbols).
		Dur("interval", p.cfg.TickInterval).
		Msg("Synthetic feed started")

	for {
		for _, sym := range p.cfg.Symbols {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}

			tick := p.NextTick(sym)
			if err := p.bus.Publish(ctx, bus.TopicMarketData, tick); err != nil {
				p.log.Error().Err(err).Str("symbol", sym).Msg("Failed to publish tick")
				continue
			}
			ticksPublished.WithLabelValues(sym).Inc()
		}
	}
}

// NextTick advances one symbol's random walk and returns the tick.
func (p *SyntheticProvider) NextTick(symbol string) contracts.Tick {
	price := p.prices[symbol]
	if price <= 0 {
		price = fallbackInitialPrice
	}

	price *= math.Exp(p.rng.NormFloat64() * p.cfg.Volatility)
	p.prices[symbol] = price

	return contracts.Tick{
		Type:        contracts.TickTypeTrade,
		Symbol:      symbol,
		Price:       price,
		Size:        float64(1 + p.rng.Intn(500)),
		TimestampNS: time.Now().UnixNano(),
	}
}
