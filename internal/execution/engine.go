package execution

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/titanflow/arena/internal/audit"
	"github.com/titanflow/arena/internal/bus"
	"github.com/titanflow/arena/internal/contracts"
)

// leaderboardKey is the Redis key holding the latest snapshot.
const leaderboardKey = "titan:leaderboard"

var (
	ordersReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "titanflow_execution_orders_received_total",
		Help: "Execution requests received",
	})
	ordersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "titanflow_execution_orders_rejected_total",
		Help: "Execution requests rejected before fill",
	}, []string{"reason"})
	fillsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "titanflow_execution_fills_total",
		Help: "Fills published",
	}, []string{"side"})
	tradingHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "titanflow_execution_halted",
		Help: "1 while a liquidation command has halted new orders",
	})
	manualApproval = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "titanflow_execution_manual_approval",
		Help: "1 while manual approval mode is holding new orders",
	})
)

// EngineConfig configures the paper execution engine.
type EngineConfig struct {
	StartingCash     float64
	LatencyMin       time.Duration
	LatencyMax       time.Duration
	SlippageBaseBps  float64
	MaxOrderValue    float64
	MaxPositionValue float64
	PublishInterval  time.Duration
}

// DefaultEngineConfig returns the stock paper-trading configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StartingCash:     100_000,
		LatencyMin:       50 * time.Millisecond,
		LatencyMax:       200 * time.Millisecond,
		SlippageBaseBps:  2,
		MaxOrderValue:    50_000,
		MaxPositionValue: 25_000,
		PublishInterval:  10 * time.Second,
	}
}

// Engine is the paper execution engine: it consumes risk-approved
// requests, simulates broker latency and slippage, books fills into
// per-model virtual portfolios and publishes the leaderboard.
type Engine struct {
	cfg       EngineConfig
	bus       *bus.Bus
	manager   *PortfolioManager
	validator *Validator
	latency   *LatencySimulator
	slippage  *SlippageModel
	prices    *PriceCache
	auditor   *audit.Logger
	rdb       *redis.Client
	log       zerolog.Logger

	halted atomic.Bool
	manual atomic.Bool

	subs []*bus.Subscription
}

// NewEngine assembles a paper execution engine. rdb and auditor may be
// nil.
func NewEngine(cfg EngineConfig, b *bus.Bus, rdb *redis.Client, auditor *audit.Logger, log zerolog.Logger) *Engine {
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 10 * time.Second
	}
	l := log.With().Str("component", "execution_engine").Logger()
	return &Engine{
		cfg:       cfg,
		bus:       b,
		manager:   NewPortfolioManager(cfg.StartingCash, l),
		validator: NewValidator(cfg.MaxOrderValue, cfg.MaxPositionValue),
		latency:   NewLatencySimulator(cfg.LatencyMin, cfg.LatencyMax),
		slippage:  NewSlippageModel(cfg.SlippageBaseBps),
		prices:    NewPriceCache(rdb, l),
		auditor:   auditor,
		rdb:       rdb,
		log:       l,
	}
}

// Manager exposes the portfolio manager, used by tests and the API.
func (e *Engine) Manager() *PortfolioManager { return e.manager }

// Halted reports whether a liquidation command has blocked new orders.
func (e *Engine) Halted() bool { return e.halted.Load() }

// ManualApproval reports whether manual approval mode is holding new
// orders.
func (e *Engine) ManualApproval() bool { return e.manual.Load() }

// Run subscribes to market data, execution requests and risk commands,
// then publishes leaderboard snapshots until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	tickSub, err := bus.SubscribeJSON(e.bus, bus.TopicMarketData, func(tick contracts.Tick) error {
		// Quotes carry no last-trade price; only trades move the cache.
		if tick.Type == contracts.TickTypeTrade {
			e.prices.Set(ctx, tick.Symbol, tick.Price)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.subs = append(e.subs, tickSub)

	// Requests are decoded from raw bytes so that payloads missing the
	// side and qty keys, a trade signal published straight to the
	// request topic, are rejected instead of zero-filled.
	reqSub, err := e.bus.Subscribe(bus.TopicExecutionRequests, func(data []byte) error {
		req, err := contracts.DecodeRequest(data)
		if err != nil {
			ordersRejected.WithLabelValues("not_executable").Inc()
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

	e.log.Info().Float64("starting_cash", e.cfg.StartingCash).Msg("Paper execution engine started")

	ticker := time.NewTicker(e.cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, sub := range e.subs {
				_ = sub.Unsubscribe()
			}
			return ctx.Err()
		case <-ticker.C:
			e.PublishLeaderboard(ctx)
		}
	}
}

// HandleRequest validates, delays and fills one execution request.
func (e *Engine) HandleRequest(ctx context.Context, req contracts.ExecutionRequest) {
	ordersReceived.Inc()

	if e.halted.Load() {
		ordersRejected.WithLabelValues("halted").Inc()
		e.log.Warn().Str("symbol", req.Symbol).Msg("Order rejected, trading halted")
		return
	}
	if e.manual.Load() {
		ordersRejected.WithLabelValues("manual_approval").Inc()
		e.log.Warn().Str("symbol", req.Symbol).Msg("Order held, manual approval mode active")
		return
	}

	// The decision price carried on the request wins; the last traded
	// price is the fallback when the governor sent none.
	price := req.Price
	if price <= 0 {
		var ok bool
		price, ok = e.prices.Get(ctx, req.Symbol)
		if !ok {
			ordersRejected.WithLabelValues("no_price").Inc()
			e.log.Warn().Str("symbol", req.Symbol).Msg("Order rejected, no price available")
			return
		}
	}

	portfolio := e.manager.Portfolio(req.ModelID)
	if err := e.validator.Validate(req, price, portfolio); err != nil {
		ordersRejected.WithLabelValues(rejectReason(err)).Inc()
		e.log.Warn().Err(err).
			Str("model_id", req.ModelID).
			Str("symbol", req.Symbol).
			Msg("Order rejected by validator")
		return
	}

	orderID := uuid.NewString()
	e.manager.ClaimOrder(orderID, req.ModelID)

	if err := e.latency.Wait(ctx); err != nil {
		return
	}

	buy := req.Side == contracts.OrderSideBuy
	fillPrice := e.slippage.Apply(buy, req.Qty, price)

	side, err := contracts.FillSide(req.Side)
	if err != nil {
		ordersRejected.WithLabelValues("invalid").Inc()
		return
	}

	fill := contracts.Fill{
		ID:            uuid.New(),
		OrderID:       orderID,
		ModelID:       req.ModelID,
		Symbol:        req.Symbol,
		Side:          side,
		Qty:           req.Qty,
		Price:         fillPrice,
		DecisionPrice: price,
		Slippage:      fillPrice - price,
		Status:        contracts.FillStatusFilled,
		Mode:          contracts.ModePaper,
		Explanation:   req.Explanation,
		Timestamp:     time.Now().UTC(),
	}

	if _, ok := e.manager.RouteFill(fill); !ok {
		return
	}

	if err := e.bus.Publish(ctx, bus.TopicExecutionFilled, fill); err != nil {
		e.log.Error().Err(err).Str("order_id", orderID).Msg("Failed to publish fill")
	}
	fillsPublished.WithLabelValues(fill.Side).Inc()

	if e.auditor != nil {
		e.auditor.LogFill(ctx, fill.ModelID, fill.OrderID, fill.Symbol, fill.Side,
			fill.Qty, fill.Price, fill.Slippage, fill.Mode)
	}

	e.log.Info().
		Str("order_id", orderID).
		Str("model_id", fill.ModelID).
		Str("symbol", fill.Symbol).
		Str("side", fill.Side).
		Int64("qty", fill.Qty).
		Float64("price", fill.Price).
		Float64("slippage", fill.Slippage).
		Msg("Order filled")
}

// HandleCommand applies a risk command. In paper mode LIQUIDATE_ALL
// only halts new orders; there is no counterparty to liquidate
// against, and the ledgers stay intact for post-mortem.
func (e *Engine) HandleCommand(ctx context.Context, cmd contracts.RiskCommand) {
	switch cmd.Command {
	case contracts.CommandLiquidateAll:
		if e.halted.CompareAndSwap(false, true) {
			tradingHalted.Set(1)
			e.log.Error().Str("reason", cmd.Reason).Msg("Trading halted by risk command")
		}
	case contracts.CommandActivateManualApproval:
		if e.manual.CompareAndSwap(false, true) {
			manualApproval.Set(1)
			e.log.Warn().Str("reason", cmd.Reason).Msg("Manual approval mode holding orders")
		}
	case contracts.CommandResetKillSwitch:
		if e.halted.CompareAndSwap(true, false) {
			tradingHalted.Set(0)
			e.log.Warn().Str("reason", cmd.Reason).Msg("Trading resumed")
		}
		if e.manual.CompareAndSwap(true, false) {
			manualApproval.Set(0)
		}
	}
}

// PublishLeaderboard marks every portfolio to the latest prices and
// publishes the equity-sorted snapshot, mirroring it to Redis.
func (e *Engine) PublishLeaderboard(ctx context.Context) {
	prices := e.prices.Snapshot()
	e.manager.MarkAll(prices)

	snapshot := contracts.LeaderboardSnapshot{
		Rows:      e.manager.Rows(prices),
		Timestamp: time.Now().UTC(),
	}

	if err := e.bus.Publish(ctx, bus.TopicLeaderboard, snapshot); err != nil {
		e.log.Error().Err(err).Msg("Failed to publish leaderboard")
	}

	if e.rdb != nil {
		data, err := json.Marshal(snapshot)
		if err == nil {
			if err := e.rdb.Set(ctx, leaderboardKey, data, 0).Err(); err != nil {
				e.log.Warn().Err(err).Msg("Failed to mirror leaderboard to Redis")
			}
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrOrderValueExceeded):
		return "order_value"
	case errors.Is(err, ErrPositionValueExceeded):
		return "position_value"
	case errors.Is(err, ErrInsufficientCash):
		return "insufficient_cash"
	case errors.Is(err, ErrInsufficientPosition):
		return "insufficient_position"
	default:
		return "invalid"
	}
}
