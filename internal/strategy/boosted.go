package strategy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/titanflow/arena/internal/contracts"
	"github.com/titanflow/arena/internal/features"
)

// Predictor scores one engineered feature vector. It returns the
// probability of an up move in (0,1) and a per-feature attribution of
// the decision, aligned with features.ModelFeatures. Model internals
// are opaque to the arena; this is the whole contract.
type Predictor interface {
	Predict(vector []float64) (prob float64, attributions []float64, err error)
}

// BoostedClassifierConfig configures a gradient-boosted classifier
// contender.
type BoostedClassifierConfig struct {
	ModelID             string
	Symbol              string
	ConfidenceThreshold float64
	BufferSize          int
}

// BoostedClassifier wraps a binary up/down model over the engineered
// feature vector. It emits a signal when the winning class probability
// exceeds the configured threshold and explains it with the top three
// features by absolute attribution.
type BoostedClassifier struct {
	cfg       BoostedClassifierConfig
	predictor Predictor
	bars      *barRing
	log       zerolog.Logger
}

// NewBoostedClassifier creates a boosted-classifier strategy around an
// opaque predictor.
func NewBoostedClassifier(cfg BoostedClassifierConfig, predictor Predictor, log zerolog.Logger) (*BoostedClassifier, error) {
	if predictor == nil {
		return nil, fmt.Errorf("predictor must not be nil")
	}
	if cfg.ConfidenceThreshold <= 0.5 || cfg.ConfidenceThreshold >= 1 {
		return nil, fmt.Errorf("confidence threshold must be in (0.5,1), got %v", cfg.ConfidenceThreshold)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 200
	}
	if cfg.BufferSize < features.MinBars {
		return nil, fmt.Errorf("buffer size %d below feature warmup %d", cfg.BufferSize, features.MinBars)
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "boosted_classifier"
	}
	return &BoostedClassifier{
		cfg:       cfg,
		predictor: predictor,
		bars:      newBarRing(cfg.BufferSize),
		log:       log.With().Str("strategy", cfg.ModelID).Str("symbol", cfg.Symbol).Logger(),
	}, nil
}

// ModelID implements Strategy.
func (s *BoostedClassifier) ModelID() string { return s.cfg.ModelID }

// ModelName implements Strategy.
func (s *BoostedClassifier) ModelName() string { return "Boosted Classifier" }

// WarmupPeriod implements Strategy.
func (s *BoostedClassifier) WarmupPeriod() int { return features.MinBars }

// OnTick implements Strategy by folding the tick into a flat bar.
func (s *BoostedClassifier) OnTick(tick contracts.Tick) (*contracts.TradeSignal, error) {
	if tick.Price <= 0 {
		return nil, nil
	}
	return s.OnBar(contracts.FlatBar(tick))
}

// OnBar implements Strategy.
func (s *BoostedClassifier) OnBar(bar contracts.Bar) (*contracts.TradeSignal, error) {
	if bar.Close <= 0 {
		return nil, nil
	}
	s.bars.push(bar)
	if s.bars.len() < features.MinBars {
		return nil, nil
	}

	rows := features.Compute(s.bars.values())
	if len(rows) == 0 {
		return nil, nil
	}
	last := rows[len(rows)-1]

	prob, attributions, err := s.predictor.Predict(last.Vector())
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}

	var side string
	var confidence float64
	switch {
	case prob > s.cfg.ConfidenceThreshold:
		side = contracts.SignalBuy
		confidence = prob
	case prob < 1-s.cfg.ConfidenceThreshold:
		side = contracts.SignalSell
		confidence = 1 - prob
	default:
		return nil, nil
	}

	s.log.Debug().Float64("prob", prob).Str("signal", side).Msg("Classifier decision")

	return &contracts.TradeSignal{
		ModelID:     s.cfg.ModelID,
		ModelName:   s.ModelName(),
		Symbol:      s.cfg.Symbol,
		Signal:      side,
		Confidence:  confidence,
		Price:       bar.Close,
		Explanation: topAttributions(attributions, 3),
		Timestamp:   bar.Timestamp,
	}, nil
}

// topAttributions selects the n features with the largest absolute
// attribution, ordered by magnitude descending.
func topAttributions(attributions []float64, n int) []contracts.FeatureImpact {
	type scored struct {
		idx int
		abs float64
	}
	ranked := make([]scored, 0, len(attributions))
	for i, v := range attributions {
		if i >= len(features.ModelFeatures) {
			break
		}
		ranked = append(ranked, scored{idx: i, abs: math.Abs(v)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].abs > ranked[j].abs })

	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]contracts.FeatureImpact, 0, n)
	for _, r := range ranked[:n] {
		out = append(out, contracts.FeatureImpact{
			Feature: features.ModelFeatures[r.idx],
			Impact:  attributions[r.idx],
		})
	}
	return out
}

// LogisticPredictor is a fixed-weight logistic head over the feature
// vector. It stands in for a trained booster when no model artifact is
// deployed; attributions are the per-feature contributions w·x.
type LogisticPredictor struct {
	Weights []float64
	Bias    float64
}

// NewLogisticPredictor returns a predictor with mildly
// momentum-following weights over features.ModelFeatures.
func NewLogisticPredictor() *LogisticPredictor {
	return &LogisticPredictor{
		// log_ret, rsi, atr, macd, macd_hist, macd_signal, bb_upper, bb_lower
		Weights: []float64{12.0, -0.01, -0.05, 0.8, 1.2, 0.2, -0.002, 0.002},
		Bias:    0.5,
	}
}

// Predict implements Predictor.
func (p *LogisticPredictor) Predict(vector []float64) (float64, []float64, error) {
	if len(vector) != len(p.Weights) {
		return 0, nil, fmt.Errorf("expected %d features, got %d", len(p.Weights), len(vector))
	}
	attributions := make([]float64, len(vector))
	z := p.Bias
	for i, v := range vector {
		attributions[i] = p.Weights[i] * v
		z += attributions[i]
	}
	return 1.0 / (1.0 + math.Exp(-z)), attributions, nil
}

var _ Predictor = (*LogisticPredictor)(nil)

// barTimestamp is a small helper for strategies that fall back to wall
// time when the bar carries none.
func barTimestamp(bar contracts.Bar) time.Time {
	if bar.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return bar.Timestamp
}
