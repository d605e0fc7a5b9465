package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/titanflow/arena/internal/contracts"
)

// SMACrossoverConfig configures an SMA crossover contender.
type SMACrossoverConfig struct {
	ModelID    string
	Symbol     string
	FastPeriod int
	SlowPeriod int
}

// SMACrossover emits BUY on a golden cross (fast SMA rising above slow)
// and SELL on a death cross, gated by the inferred position state so the
// same signal is never emitted twice in a row.
type SMACrossover struct {
	cfg      SMACrossoverConfig
	prices   *ring
	position string
	log      zerolog.Logger
}

// NewSMACrossover creates an SMA crossover strategy.
func NewSMACrossover(cfg SMACrossoverConfig, log zerolog.Logger) (*SMACrossover, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0 {
		return nil, fmt.Errorf("periods must be positive, got fast=%d slow=%d", cfg.FastPeriod, cfg.SlowPeriod)
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("fast period %d must be less than slow period %d", cfg.FastPeriod, cfg.SlowPeriod)
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "sma_crossover"
	}
	return &SMACrossover{
		cfg:    cfg,
		prices: newRing(cfg.SlowPeriod + 1),
		log:    log.With().Str("strategy", cfg.ModelID).Str("symbol", cfg.Symbol).Logger(),
	}, nil
}

// ModelID implements Strategy.
func (s *SMACrossover) ModelID() string { return s.cfg.ModelID }

// ModelName implements Strategy.
func (s *SMACrossover) ModelName() string { return "SMA Crossover" }

// WarmupPeriod implements Strategy.
func (s *SMACrossover) WarmupPeriod() int { return s.cfg.SlowPeriod }

// OnTick implements Strategy.
func (s *SMACrossover) OnTick(tick contracts.Tick) (*contracts.TradeSignal, error) {
	if tick.Price <= 0 {
		return nil, nil
	}
	return s.observe(tick.Price, tick.Time().UTC())
}

// OnBar implements Strategy.
func (s *SMACrossover) OnBar(bar contracts.Bar) (*contracts.TradeSignal, error) {
	if bar.Close <= 0 {
		return nil, nil
	}
	return s.observe(bar.Close, bar.Timestamp)
}

func (s *SMACrossover) observe(price float64, ts time.Time) (*contracts.TradeSignal, error) {
	s.prices.push(price)
	if s.prices.len() < s.cfg.SlowPeriod {
		return nil, nil
	}

	fastSMA := s.prices.tailMean(s.cfg.FastPeriod)
	slowSMA := s.prices.tailMean(s.cfg.SlowPeriod)
	if slowSMA == 0 {
		return nil, nil
	}

	var side string
	switch {
	case fastSMA > slowSMA && s.position != PositionLong:
		side = contracts.SignalBuy
		s.position = PositionLong
		s.log.Info().Float64("fast", fastSMA).Float64("slow", slowSMA).Msg("Golden cross")
	case fastSMA < slowSMA && s.position != PositionShort:
		side = contracts.SignalSell
		s.position = PositionShort
		s.log.Info().Float64("fast", fastSMA).Float64("slow", slowSMA).Msg("Death cross")
	default:
		return nil, nil
	}

	spread := (fastSMA - slowSMA) / slowSMA
	confidence := math.Min(math.Abs(spread)/0.02, 1.0)

	return &contracts.TradeSignal{
		ModelID:    s.cfg.ModelID,
		ModelName:  s.ModelName(),
		Symbol:     s.cfg.Symbol,
		Signal:     side,
		Confidence: confidence,
		Price:      price,
		Explanation: []contracts.FeatureImpact{
			{Feature: "sma_fast", Impact: fastSMA},
			{Feature: "sma_slow", Impact: slowSMA},
			{Feature: "sma_spread_pct", Impact: spread},
		},
		Timestamp: ts,
	}, nil
}
