package broker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/titanflow/arena/internal/audit"
	"github.com/titanflow/arena/internal/bus"
	"github.com/titanflow/arena/internal/contracts"
)

var (
	liveOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "titanflow_broker_orders_total",
		Help: "Live orders by outcome",
	}, []string{"outcome"})
	liveKillSwitch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "titanflow_broker_kill_switch",
		Help: "1 while the live kill switch blocks order submission",
	})
)

// LiveExecutor routes risk-approved requests to the real brokerage.
// Unlike paper mode, a LIQUIDATE_ALL here actually flattens the
// account.
type LiveExecutor struct {
	brokerage Brokerage
	bus       *bus.Bus
	auditor   *audit.Logger
	log       zerolog.Logger

	killSwitch     atomic.Bool
	manualApproval atomic.Bool

	subs []*bus.Subscription
}

// NewLiveExecutor creates a live executor over a brokerage.
func NewLiveExecutor(brokerage Brokerage, b *bus.Bus, auditor *audit.Logger, log zerolog.Logger) *LiveExecutor {
	return &LiveExecutor{
		brokerage: brokerage,
		bus:       b,
		auditor:   auditor,
		log:       log.With().Str("component", "live_executor").Logger(),
	}
}

// KillSwitchActive reports whether live submission is blocked.
func (e *LiveExecutor) KillSwitchActive() bool { return e.killSwitch.Load() }

// Run subscribes to the request and command topics and blocks until
// the context is cancelled.
func (e *LiveExecutor) Run(ctx context.Context) error {
	reqSub, err := e.bus.Subscribe(bus.TopicExecutionRequests, func(data []byte) error {
		req, err := contracts.DecodeRequest(data)
		if err != nil {
			liveOrders.WithLabelValues("not_executable").Inc()
			e.log.Warn().Err(err).Msg("Rejected non-executable payload on request topic")
			return nil
		}
		e.HandleRequest(ctx, req)
		return nil
	})
	if err != nil {
		return err
	}
	e.subs = append(e.subs, reqSub)

	cmdSub, err := bus.SubscribeJSON(e.bus, bus.TopicRiskCommands, func(cmd contracts.RiskCommand) error {
		e.HandleCommand(ctx, cmd)
		return nil
	})
	if err != nil {
		return err
	}
	e.subs = append(e.subs, cmdSub)

	e.log.Info().Msg("Live executor started")
	<-ctx.Done()

	for _, sub := range e.subs {
		_ = sub.Unsubscribe()
	}
	return ctx.Err()
}

// HandleRequest submits one market order unless a safety flag blocks
// it.
func (e *LiveExecutor) HandleRequest(ctx context.Context, req contracts.ExecutionRequest) {
	if e.killSwitch.Load() {
		liveOrders.WithLabelValues("blocked_kill_switch").Inc()
		e.log.Error().Str("symbol", req.Symbol).Msg("Live order blocked, kill switch active")
		return
	}
	if e.manualApproval.Load() {
		liveOrders.WithLabelValues("blocked_manual_approval").Inc()
		e.log.Warn().Str("symbol", req.Symbol).Msg("Live order held, manual approval mode")
		return
	}

	order, err := e.brokerage.SubmitMarketOrder(ctx, req.Symbol, req.Side, req.Qty)
	if err != nil {
		liveOrders.WithLabelValues("error").Inc()
		e.log.Error().Err(err).
			Str("symbol", req.Symbol).
			Str("side", req.Side).
			Int64("qty", req.Qty).
			Msg("Live order failed")
		return
	}
	liveOrders.WithLabelValues("submitted").Inc()

	side, err := contracts.FillSide(req.Side)
	if err != nil {
		return
	}

	fillPrice := order.FilledAvgPrice
	if fillPrice <= 0 {
		// Market orders can come back unpriced before settlement; the
		// decision price is the best estimate we have.
		fillPrice = req.Price
	}

	fill := contracts.Fill{
		ID:            uuid.New(),
		OrderID:       order.ID,
		ModelID:       req.ModelID,
		Symbol:        req.Symbol,
		Side:          side,
		Qty:           req.Qty,
		Price:         fillPrice,
		DecisionPrice: req.Price,
		Slippage:      fillPrice - req.Price,
		Status:        contracts.FillStatusFilled,
		Mode:          contracts.ModeLive,
		Explanation:   req.Explanation,
		Timestamp:     time.Now().UTC(),
	}

	if err := e.bus.Publish(ctx, bus.TopicExecutionFilled, fill); err != nil {
		e.log.Error().Err(err).Str("order_id", order.ID).Msg("Failed to publish live fill")
	}

	if e.auditor != nil {
		e.auditor.LogFill(ctx, fill.ModelID, fill.OrderID, fill.Symbol, fill.Side,
			fill.Qty, fill.Price, fill.Slippage, fill.Mode)
	}

	e.log.Info().
		Str("order_id", order.ID).
		Str("symbol", fill.Symbol).
		Str("side", fill.Side).
		Int64("qty", fill.Qty).
		Float64("price", fill.Price).
		Msg("Live order submitted")
}

// HandleCommand applies a risk command against the real account.
func (e *LiveExecutor) HandleCommand(ctx context.Context, cmd contracts.RiskCommand) {
	switch cmd.Command {
	case contracts.CommandLiquidateAll:
		if !e.killSwitch.CompareAndSwap(false, true) {
			return
		}
		liveKillSwitch.Set(1)
		e.log.Error().Str("reason", cmd.Reason).Msg("Liquidating all live positions")
		if err := e.brokerage.CloseAllPositions(ctx); err != nil {
			e.log.Error().Err(err).Msg("Failed to close positions")
		}
	case contracts.CommandActivateManualApproval:
		e.manualApproval.Store(true)
		e.log.Warn().Str("reason", cmd.Reason).Msg("Manual approval mode activated")
	case contracts.CommandResetKillSwitch:
		e.killSwitch.Store(false)
		e.manualApproval.Store(false)
		liveKillSwitch.Set(0)
		e.log.Warn().Str("reason", cmd.Reason).Msg("Live kill switch reset")
	}
}
