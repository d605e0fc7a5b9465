package strategy

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/titanflow/arena/internal/contracts"
	"github.com/titanflow/arena/internal/features"
)

// WindowPredictor scores a lookback window of z-scored feature rows
// (oldest first) and returns the probability of an up move. This is
// the whole contract for the recurrent and transformer contenders;
// the model internals stay opaque.
type WindowPredictor interface {
	PredictWindow(window [][]float64) (float64, error)
}

// WindowedPredictorConfig configures a deep-predictor contender.
type WindowedPredictorConfig struct {
	ModelID       string
	ModelName     string
	Symbol        string
	Lookback      int
	BuyThreshold  float64
	SellThreshold float64
	BufferSize    int
}

// WindowedPredictor hosts a sequence model (LSTM, temporal-fusion
// transformer) over a lookback window of engineered features. Features
// are z-scored within the window before inference; signals fire when
// the model output crosses the BUY/SELL thresholds.
type WindowedPredictor struct {
	cfg       WindowedPredictorConfig
	predictor WindowPredictor
	bars      *barRing
	log       zerolog.Logger
}

// NewWindowedPredictor creates a windowed deep-predictor strategy.
func NewWindowedPredictor(cfg WindowedPredictorConfig, predictor WindowPredictor, log zerolog.Logger) (*WindowedPredictor, error) {
	if predictor == nil {
		return nil, fmt.Errorf("predictor must not be nil")
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 60
	}
	if cfg.BuyThreshold == 0 {
		cfg.BuyThreshold = 0.7
	}
	if cfg.SellThreshold == 0 {
		cfg.SellThreshold = 0.3
	}
	if cfg.BuyThreshold <= cfg.SellThreshold {
		return nil, fmt.Errorf("buy threshold %v must exceed sell threshold %v", cfg.BuyThreshold, cfg.SellThreshold)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Lookback + features.MinBars + 20
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "windowed_predictor"
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "Windowed Predictor"
	}
	return &WindowedPredictor{
		cfg:       cfg,
		predictor: predictor,
		bars:      newBarRing(cfg.BufferSize),
		log:       log.With().Str("strategy", cfg.ModelID).Str("symbol", cfg.Symbol).Logger(),
	}, nil
}

// ModelID implements Strategy.
func (s *WindowedPredictor) ModelID() string { return s.cfg.ModelID }

// ModelName implements Strategy.
func (s *WindowedPredictor) ModelName() string { return s.cfg.ModelName }

// WarmupPeriod implements Strategy.
func (s *WindowedPredictor) WarmupPeriod() int { return s.cfg.Lookback + features.MinBars }

// OnTick implements Strategy by folding the tick into a flat bar.
func (s *WindowedPredictor) OnTick(tick contracts.Tick) (*contracts.TradeSignal, error) {
	if tick.Price <= 0 {
		return nil, nil
	}
	return s.OnBar(contracts.FlatBar(tick))
}

// OnBar implements Strategy.
func (s *WindowedPredictor) OnBar(bar contracts.Bar) (*contracts.TradeSignal, error) {
	if bar.Close <= 0 {
		return nil, nil
	}
	s.bars.push(bar)
	if s.bars.len() < s.WarmupPeriod() {
		return nil, nil
	}

	rows := features.Compute(s.bars.values())
	if len(rows) < s.cfg.Lookback {
		return nil, nil
	}

	window := features.Normalize(rows[len(rows)-s.cfg.Lookback:])

	prob, err := s.predictor.PredictWindow(window)
	if err != nil {
		return nil, fmt.Errorf("window prediction failed: %w", err)
	}

	var side string
	var confidence float64
	switch {
	case prob > s.cfg.BuyThreshold:
		side = contracts.SignalBuy
		confidence = prob
	case prob < s.cfg.SellThreshold:
		side = contracts.SignalSell
		confidence = 1 - prob
	default:
		return nil, nil
	}

	s.log.Debug().Float64("prob", prob).Str("signal", side).Msg("Sequence model decision")

	return &contracts.TradeSignal{
		ModelID:    s.cfg.ModelID,
		ModelName:  s.cfg.ModelName,
		Symbol:     s.cfg.Symbol,
		Signal:     side,
		Confidence: confidence,
		Price:      bar.Close,
		Explanation: []contracts.FeatureImpact{
			{Feature: "model_output", Impact: prob},
		},
		Timestamp: barTimestamp(bar),
	}, nil
}

// RecencyWeightedPredictor is a stand-in sequence head: a logistic
// score over an exponentially recency-weighted average of the window's
// log-return column. Deployments with trained weights replace it via
// the WindowPredictor interface.
type RecencyWeightedPredictor struct {
	Decay float64
	Gain  float64
}

// NewRecencyWeightedPredictor returns a predictor with moderate decay.
func NewRecencyWeightedPredictor() *RecencyWeightedPredictor {
	return &RecencyWeightedPredictor{Decay: 0.9, Gain: 2.0}
}

// PredictWindow implements WindowPredictor.
func (p *RecencyWeightedPredictor) PredictWindow(window [][]float64) (float64, error) {
	if len(window) == 0 {
		return 0, fmt.Errorf("empty window")
	}

	var score, weight, w float64
	w = 1.0
	for i := len(window) - 1; i >= 0; i-- {
		if len(window[i]) == 0 {
			return 0, fmt.Errorf("empty feature row at %d", i)
		}
		// Column 0 is the z-scored log return.
		score += w * window[i][0]
		weight += w
		w *= p.Decay
	}
	score /= weight

	return 1.0 / (1.0 + math.Exp(-p.Gain*score)), nil
}

var _ WindowPredictor = (*RecencyWeightedPredictor)(nil)
