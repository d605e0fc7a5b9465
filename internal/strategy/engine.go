package strategy

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/titanflow/arena/internal/audit"
	"github.com/titanflow/arena/internal/bus"
	"github.com/titanflow/arena/internal/contracts"
)

var (
	ticksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "titanflow_signal_ticks_processed_total",
		Help: "Number of market data ticks processed by the signal engine",
	})
	signalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "titanflow_signals_emitted_total",
		Help: "Number of trade signals emitted, by model and side",
	}, []string{"model_id", "signal"})
	strategyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "titanflow_strategy_errors_total",
		Help: "Number of strategy errors and panics, by model",
	}, []string{"model_id"})
)

// Engine hosts the contenders: it routes each market tick to the
// strategies subscribed to its symbol, in deterministic registration
// order, and publishes every emitted signal before the next tick is
// handled. A failure in one strategy never affects the others or the
// tick stream.
type Engine struct {
	strategies []Strategy
	symbols    map[string][]int // symbol -> strategy indexes
	bus        *bus.Bus
	auditor    *audit.Logger
	registry   *Registry
	log        zerolog.Logger
}

// NewEngine creates a signal engine. The audit logger may be nil in
// tests.
func NewEngine(b *bus.Bus, auditor *audit.Logger, registry *Registry, log zerolog.Logger) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{
		symbols:  make(map[string][]int),
		bus:      b,
		auditor:  auditor,
		registry: registry,
		log:      log.With().Str("component", "signal_engine").Logger(),
	}
}

// Register adds a contender for a symbol. Registration order fixes the
// per-tick iteration order.
func (e *Engine) Register(symbol string, s Strategy) {
	e.strategies = append(e.strategies, s)
	e.symbols[symbol] = append(e.symbols[symbol], len(e.strategies)-1)

	e.log.Info().
		Str("model_id", s.ModelID()).
		Str("symbol", symbol).
		Int("warmup", s.WarmupPeriod()).
		Msg("Strategy registered")
}

// Strategies returns the registered contenders in iteration order.
func (e *Engine) Strategies() []Strategy {
	return e.strategies
}

// HandleTick routes one tick through every strategy subscribed to its
// symbol and publishes the resulting signals.
func (e *Engine) HandleTick(ctx context.Context, tick contracts.Tick) {
	ticksProcessed.Inc()

	for _, idx := range e.symbols[tick.Symbol] {
		s := e.strategies[idx]
		signal := e.safeOnTick(s, tick)
		if signal == nil {
			continue
		}
		e.publish(ctx, signal)
	}
}

// HandleBar routes one completed bar like HandleTick routes ticks.
func (e *Engine) HandleBar(ctx context.Context, bar contracts.Bar) {
	for _, idx := range e.symbols[bar.Symbol] {
		s := e.strategies[idx]
		signal := e.safeOnBar(s, bar)
		if signal == nil {
			continue
		}
		e.publish(ctx, signal)
	}
}

// safeOnTick isolates a strategy failure: errors and panics are logged
// and counted, never propagated.
func (e *Engine) safeOnTick(s Strategy, tick contracts.Tick) (signal *contracts.TradeSignal) {
	defer func() {
		if r := recover(); r != nil {
			strategyErrors.WithLabelValues(s.ModelID()).Inc()
			e.log.Error().
				Str("model_id", s.ModelID()).
				Interface("panic", r).
				Msg("Strategy panicked on tick")
			signal = nil
		}
	}()

	signal, err := s.OnTick(tick)
	if err != nil {
		strategyErrors.WithLabelValues(s.ModelID()).Inc()
		e.log.Error().Err(err).Str("model_id", s.ModelID()).Msg("Strategy error on tick")
		return nil
	}
	return signal
}

func (e *Engine) safeOnBar(s Strategy, bar contracts.Bar) (signal *contracts.TradeSignal) {
	defer func() {
		if r := recover(); r != nil {
			strategyErrors.WithLabelValues(s.ModelID()).Inc()
			e.log.Error().
				Str("model_id", s.ModelID()).
				Interface("panic", r).
				Msg("Strategy panicked on bar")
			signal = nil
		}
	}()

	signal, err := s.OnBar(bar)
	if err != nil {
		strategyErrors.WithLabelValues(s.ModelID()).Inc()
		e.log.Error().Err(err).Str("model_id", s.ModelID()).Msg("Strategy error on bar")
		return nil
	}
	return signal
}

func (e *Engine) publish(ctx context.Context, signal *contracts.TradeSignal) {
	if err := contracts.ValidateSignal(*signal); err != nil {
		e.log.Error().Err(err).Str("model_id", signal.ModelID).Msg("Dropping invalid signal")
		return
	}

	if err := e.bus.Publish(ctx, bus.TopicTradeSignals, signal); err != nil {
		e.log.Error().Err(err).Str("model_id", signal.ModelID).Msg("Failed to publish signal")
		return
	}

	signalsEmitted.WithLabelValues(signal.ModelID, signal.Signal).Inc()

	if e.auditor != nil {
		e.auditor.LogSignal(ctx,
			signal.ModelID,
			e.registry.Version(signal.ModelID),
			signal.Symbol,
			signal.Signal,
			signal.Confidence,
			signal.Price,
		)
	}

	e.log.Info().
		Str("model_id", signal.ModelID).
		Str("symbol", signal.Symbol).
		Str("signal", signal.Signal).
		Float64("confidence", signal.Confidence).
		Float64("price", signal.Price).
		Msg("Signal published")
}

// Run subscribes the engine to market data and blocks until the
// context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	sub, err := bus.SubscribeJSON(e.bus, bus.TopicMarketData, func(tick contracts.Tick) error {
		e.HandleTick(ctx, tick)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to market data: %w", err)
	}
	defer sub.Unsubscribe()

	e.log.Info().Int("strategies", len(e.strategies)).Msg("Signal engine running")
	<-ctx.Done()
	return nil
}
