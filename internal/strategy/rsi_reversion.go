package strategy

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/titanflow/arena/internal/contracts"
)

// RSIMeanReversionConfig configures an RSI mean-reversion contender.
type RSIMeanReversionConfig struct {
	ModelID    string
	Symbol     string
	Period     int
	Oversold   float64
	Overbought float64
}

// RSIMeanReversion buys when RSI drops to the oversold threshold and
// sells when it reaches the overbought threshold. The RSI here is the
// simple-average variant over the last period+1 prices; confidence is
// the normalised distance past the threshold, floored at 0.1.
type RSIMeanReversion struct {
	cfg      RSIMeanReversionConfig
	prices   *ring
	position string
	log      zerolog.Logger
}

// NewRSIMeanReversion creates an RSI mean-reversion strategy.
func NewRSIMeanReversion(cfg RSIMeanReversionConfig, log zerolog.Logger) (*RSIMeanReversion, error) {
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %d", cfg.Period)
	}
	if cfg.Oversold <= 0 || cfg.Overbought >= 100 || cfg.Oversold >= cfg.Overbought {
		return nil, fmt.Errorf("invalid thresholds oversold=%v overbought=%v", cfg.Oversold, cfg.Overbought)
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "rsi_mean_reversion"
	}
	return &RSIMeanReversion{
		cfg:    cfg,
		prices: newRing(cfg.Period + 1),
		log:    log.With().Str("strategy", cfg.ModelID).Str("symbol", cfg.Symbol).Logger(),
	}, nil
}

// ModelID implements Strategy.
func (s *RSIMeanReversion) ModelID() string { return s.cfg.ModelID }

// ModelName implements Strategy.
func (s *RSIMeanReversion) ModelName() string { return "RSI Mean Reversion" }

// WarmupPeriod implements Strategy.
func (s *RSIMeanReversion) WarmupPeriod() int { return s.cfg.Period + 1 }

// OnTick implements Strategy.
func (s *RSIMeanReversion) OnTick(tick contracts.Tick) (*contracts.TradeSignal, error) {
	if tick.Price <= 0 {
		return nil, nil
	}
	return s.observe(tick.Price, tick.Time().UTC())
}

// OnBar implements Strategy.
func (s *RSIMeanReversion) OnBar(bar contracts.Bar) (*contracts.TradeSignal, error) {
	if bar.Close <= 0 {
		return nil, nil
	}
	return s.observe(bar.Close, bar.Timestamp)
}

func (s *RSIMeanReversion) observe(price float64, ts time.Time) (*contracts.TradeSignal, error) {
	s.prices.push(price)

	rsi, ok := s.computeRSI()
	if !ok {
		return nil, nil
	}

	var side string
	var raw float64
	switch {
	case rsi <= s.cfg.Oversold && s.position != PositionLong:
		side = contracts.SignalBuy
		s.position = PositionLong
		raw = (s.cfg.Oversold - rsi) / s.cfg.Oversold
		s.log.Info().Float64("rsi", rsi).Float64("threshold", s.cfg.Oversold).Msg("RSI oversold")
	case rsi >= s.cfg.Overbought && s.position != PositionShort:
		side = contracts.SignalSell
		s.position = PositionShort
		raw = (rsi - s.cfg.Overbought) / (100.0 - s.cfg.Overbought)
		s.log.Info().Float64("rsi", rsi).Float64("threshold", s.cfg.Overbought).Msg("RSI overbought")
	default:
		return nil, nil
	}

	confidence := clamp(raw, 0.1, 1.0)

	return &contracts.TradeSignal{
		ModelID:    s.cfg.ModelID,
		ModelName:  s.ModelName(),
		Symbol:     s.cfg.Symbol,
		Signal:     side,
		Confidence: confidence,
		Price:      price,
		Explanation: []contracts.FeatureImpact{
			{Feature: "rsi", Impact: rsi},
		},
		Timestamp: ts,
	}, nil
}

// computeRSI returns the simple-average RSI over the buffered prices,
// or false until period+1 prices are held.
func (s *RSIMeanReversion) computeRSI() (float64, bool) {
	if s.prices.len() < s.cfg.Period+1 {
		return 0, false
	}

	prices := s.prices.values()
	var avgGain, avgLoss float64
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(s.cfg.Period)
	avgLoss /= float64(s.cfg.Period)

	if avgLoss == 0 {
		return 100.0, true
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs), true
}
