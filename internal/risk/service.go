package risk

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/titanflow/arena/internal/audit"
	"github.com/titanflow/arena/internal/bus"
	"github.com/titanflow/arena/internal/contracts"
)

var (
	signalsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "titanflow_risk_signals_processed_total",
		Help: "Trade signals evaluated by the risk governor",
	})
	ordersApproved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "titanflow_risk_orders_approved_total",
		Help: "Execution requests emitted by the risk governor",
	})
	signalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "titanflow_risk_signals_rejected_total",
		Help: "Trade signals rejected by the risk governor",
	}, []string{"reason"})
	commandsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "titanflow_risk_commands_published_total",
		Help: "Risk commands published to the execution engine",
	}, []string{"command"})
)

// ServiceConfig configures the risk governor service loop.
type ServiceConfig struct {
	Thresholds Thresholds

	// StopLossPct is the synthetic stop distance used for sizing when a
	// signal carries no stop of its own.
	StopLossPct float64

	// PerfCheckInterval is how many processed signals pass between
	// model-health evaluations.
	PerfCheckInterval int
}

// DefaultServiceConfig returns the stock service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Thresholds:        DefaultThresholds(),
		StopLossPct:       0.02,
		PerfCheckInterval: 10,
	}
}

// Service subscribes to trade signals and fills, runs every signal
// through the risk engine, and publishes sized execution requests and
// risk commands.
type Service struct {
	cfg     ServiceConfig
	engine  *Engine
	bus     *bus.Bus
	auditor *audit.Logger
	log     zerolog.Logger

	processed uint64

	subs []*bus.Subscription
}

// NewService creates the risk governor service around an engine.
func NewService(cfg ServiceConfig, engine *Engine, b *bus.Bus, auditor *audit.Logger, log zerolog.Logger) *Service {
	if cfg.StopLossPct <= 0 {
		cfg.StopLossPct = 0.02
	}
	if cfg.PerfCheckInterval <= 0 {
		cfg.PerfCheckInterval = 10
	}
	return &Service{
		cfg:     cfg,
		engine:  engine,
		bus:     b,
		auditor: auditor,
		log:     log.With().Str("component", "risk_service").Logger(),
	}
}

// Engine exposes the underlying risk engine, used by the account poller.
func (s *Service) Engine() *Engine { return s.engine }

// Run subscribes to the signal, fill and command topics and blocks until
// the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	sigSub, err := bus.SubscribeJSON(s.bus, bus.TopicTradeSignals, func(sig contracts.TradeSignal) error {
		s.HandleSignal(ctx, sig)
		return nil
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sigSub)

	fillSub, err := bus.SubscribeJSON(s.bus, bus.TopicExecutionFilled, func(fill contracts.Fill) error {
		s.HandleFill(ctx, fill)
		return nil
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, fillSub)

	cmdSub, err := bus.SubscribeJSON(s.bus, bus.TopicRiskCommands, func(cmd contracts.RiskCommand) error {
		s.HandleCommand(ctx, cmd)
		return nil
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, cmdSub)

	s.log.Info().Msg("Risk governor started")
	<-ctx.Done()

	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	return ctx.Err()
}

// HandleSignal runs one trade signal through the full risk pipeline:
// gate, kill-switch evaluation, sizing, and the periodic model-health
// check.
func (s *Service) HandleSignal(ctx context.Context, sig contracts.TradeSignal) {
	if err := contracts.ValidateSignal(sig); err != nil {
		signalsRejected.WithLabelValues("invalid").Inc()
		s.log.Warn().Err(err).Str("model_id", sig.ModelID).Msg("Dropping malformed signal")
		return
	}

	signalsProcessed.Inc()
	s.processed++
	defer s.maybeCheckModelHealth(ctx)

	// HOLD is advisory only and never sizes an order.
	if sig.Signal == contracts.SignalHold {
		return
	}

	if !s.engine.ValidateSignal() {
		if s.engine.KillSwitchActive() {
			signalsRejected.WithLabelValues("kill_switch").Inc()
			s.publishCommand(ctx, contracts.RiskCommand{
				Command: contracts.CommandLiquidateAll,
				Reason:  "kill_switch_active",
			})
		} else {
			signalsRejected.WithLabelValues("manual_approval").Inc()
		}
		return
	}

	if s.engine.CheckKillSwitch() {
		signalsRejected.WithLabelValues("kill_switch").Inc()
		s.publishCommand(ctx, contracts.RiskCommand{
			Command: contracts.CommandLiquidateAll,
			Reason:  "drawdown_or_consecutive_loss_limit_breached",
		})
		if s.auditor != nil {
			s.auditor.LogKillSwitch(ctx, "drawdown_or_consecutive_loss_limit_breached",
				s.engine.DailyPnL(), s.engine.ConsecutiveLosses())
		}
		return
	}

	stop := sig.Price * (1 - s.cfg.StopLossPct)
	if sig.Signal == contracts.SignalSell {
		stop = sig.Price * (1 + s.cfg.StopLossPct)
	}

	qty := s.engine.PositionSize(sig.Price, stop)
	if qty <= 0 {
		signalsRejected.WithLabelValues("zero_size").Inc()
		s.log.Debug().Str("symbol", sig.Symbol).Msg("Position sized to zero, no order")
		return
	}

	side := contracts.OrderSideBuy
	if sig.Signal == contracts.SignalSell {
		side = contracts.OrderSideSell
	}

	req := contracts.ExecutionRequest{
		ModelID:     sig.ModelID,
		Symbol:      sig.Symbol,
		Side:        side,
		Qty:         qty,
		Type:        "market",
		Price:       sig.Price,
		Confidence:  sig.Confidence,
		Explanation: sig.Explanation,
		Timestamp:   time.Now().UTC(),
	}

	if err := s.bus.Publish(ctx, bus.TopicExecutionRequests, req); err != nil {
		s.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Failed to publish execution request")
		return
	}
	ordersApproved.Inc()

	if s.auditor != nil {
		s.auditor.LogOrder(ctx, req.ModelID, req.Symbol, req.Side, req.Qty, req.Price)
	}

	s.log.Info().
		Str("model_id", req.ModelID).
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Int64("qty", req.Qty).
		Float64("price", req.Price).
		Msg("Execution request approved")
}

// HandleFill feeds a fill back into the rolling performance windows.
// Slippage against the decision price proxies the trade's immediate
// return: a buy that filled above decision lost edge, a sell that
// filled below did.
func (s *Service) HandleFill(ctx context.Context, fill contracts.Fill) {
	if fill.Price <= 0 {
		return
	}

	tradeReturn := -fill.Slippage / fill.Price

	correct := tradeReturn >= 0
	if fill.Side == contracts.SignalSell {
		correct = tradeReturn <= 0
	}

	s.engine.RecordTradeResult(tradeReturn)
	s.engine.RecordPrediction(correct, tradeReturn)

	s.log.Debug().
		Str("model_id", fill.ModelID).
		Str("symbol", fill.Symbol).
		Float64("trade_return", tradeReturn).
		Bool("correct", correct).
		Msg("Recorded fill feedback")
}

// HandleCommand applies operator commands addressed to the governor.
// LIQUIDATE_ALL and ACTIVATE_MANUAL_APPROVAL are the governor's own
// output and are ignored here.
func (s *Service) HandleCommand(ctx context.Context, cmd contracts.RiskCommand) {
	switch cmd.Command {
	case contracts.CommandResetKillSwitch:
		s.engine.ResetKillSwitch()
		s.engine.ResetManualApproval()
		s.log.Warn().Str("reason", cmd.Reason).Msg("Kill switch reset by command")
	}
}

// maybeCheckModelHealth runs the rollback evaluation every
// PerfCheckInterval processed signals.
func (s *Service) maybeCheckModelHealth(ctx context.Context) {
	if s.processed%uint64(s.cfg.PerfCheckInterval) != 0 {
		return
	}

	if !s.engine.CheckModelHealth() {
		return
	}

	sharpe := s.engine.RollingSharpe()
	accuracy := s.engine.RollingAccuracy()

	s.publishCommand(ctx, contracts.RiskCommand{
		Command:         contracts.CommandActivateManualApproval,
		Reason:          "model_performance_degraded",
		RollingSharpe:   sharpe,
		RollingAccuracy: accuracy,
	})

	if s.auditor != nil {
		s.auditor.LogManualApproval(ctx, "model_performance_degraded", sharpe, accuracy)
	}
}

func (s *Service) publishCommand(ctx context.Context, cmd contracts.RiskCommand) {
	cmd.Timestamp = time.Now().UTC()
	if err := s.bus.Publish(ctx, bus.TopicRiskCommands, cmd); err != nil {
		s.log.Error().Err(err).Str("command", cmd.Command).Msg("Failed to publish risk command")
		return
	}
	commandsPublished.WithLabelValues(cmd.Command).Inc()
	s.log.Warn().Str("command", cmd.Command).Str("reason", cmd.Reason).Msg("Risk command published")
}
