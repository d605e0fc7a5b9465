// Package broker adapts the live brokerage API behind a small
// interface so the execution engine and the account poller can run
// against either Alpaca or a test double.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// ErrBrokerUnavailable wraps circuit-breaker rejections.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// Account is the subset of the brokerage account state the arena
// consumes.
type Account struct {
	Equity     float64
	LastEquity float64
	Cash       float64
}

// UnrealizedDayPnL is today's mark-to-market P&L against yesterday's
// close.
func (a Account) UnrealizedDayPnL() float64 {
	return a.Equity - a.LastEquity
}

// Order is a submitted order's terminal state.
type Order struct {
	ID             string
	Symbol         string
	Side           string
	FilledQty      int64
	FilledAvgPrice float64
	Status         string
}

// Brokerage is the live trading surface the arena needs.
type Brokerage interface {
	GetAccount(ctx context.Context) (Account, error)
	SubmitMarketOrder(ctx context.Context, symbol, side string, qty int64) (Order, error)
	CloseAllPositions(ctx context.Context) error
}

// Circuit breaker settings for brokerage calls.
const (
	breakerMinRequests     = 5
	breakerFailureRatio    = 0.6
	breakerOpenTimeout     = 30 * time.Second
	breakerHalfOpenMaxReqs = 3
	breakerCountInterval   = 10 * time.Second
)

var breakerState = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "titanflow_broker_circuit_state",
	Help: "Brokerage circuit breaker state (0=closed, 1=open, 2=half_open)",
})

// AlpacaConfig holds the Alpaca API credentials and endpoint.
type AlpacaConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string
}

// AlpacaBrokerage implements Brokerage over the Alpaca trading API.
// Every call runs through a circuit breaker so a flapping API degrades
// to fast failures instead of hung order flow.
type AlpacaBrokerage struct {
	client  *alpaca.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewAlpacaBrokerage creates a live brokerage client.
func NewAlpacaBrokerage(cfg AlpacaConfig, log zerolog.Logger) *AlpacaBrokerage {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.SecretKey,
		BaseURL:   cfg.BaseURL,
	})

	l := log.With().Str("component", "alpaca").Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alpaca",
		MaxRequests: breakerHalfOpenMaxReqs,
		Interval:    breakerCountInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= breakerFailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			breakerState.Set(v)
			l.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Broker circuit state changed")
		},
	})

	return &AlpacaBrokerage{client: client, breaker: breaker, log: l}
}

// GetAccount fetches the live account state.
func (b *AlpacaBrokerage) GetAccount(ctx context.Context) (Account, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		return b.client.GetAccount()
	})
	if err != nil {
		return Account{}, b.wrapErr("get account", err)
	}

	acct := res.(*alpaca.Account)
	return Account{
		Equity:     acct.Equity.InexactFloat64(),
		LastEquity: acct.LastEquity.InexactFloat64(),
		Cash:       acct.Cash.InexactFloat64(),
	}, nil
}

// SubmitMarketOrder places a day market order for a whole number of
// shares.
func (b *AlpacaBrokerage) SubmitMarketOrder(ctx context.Context, symbol, side string, qty int64) (Order, error) {
	if qty <= 0 {
		return Order{}, fmt.Errorf("invalid qty %d", qty)
	}

	qtyDec := decimal.NewFromInt(qty)
	res, err := b.breaker.Execute(func() (interface{}, error) {
		return b.client.PlaceOrder(alpaca.PlaceOrderRequest{
			Symbol:      symbol,
			Qty:         &qtyDec,
			Side:        alpaca.Side(side),
			Type:        alpaca.Market,
			TimeInForce: alpaca.Day,
		})
	})
	if err != nil {
		return Order{}, b.wrapErr("place order", err)
	}

	order := res.(*alpaca.Order)
	out := Order{
		ID:        order.ID,
		Symbol:    order.Symbol,
		Side:      string(order.Side),
		FilledQty: order.FilledQty.IntPart(),
		Status:    string(order.Status),
	}
	if order.FilledAvgPrice != nil {
		out.FilledAvgPrice = order.FilledAvgPrice.InexactFloat64()
	}
	return out, nil
}

// CloseAllPositions liquidates every open position at market and
// cancels working orders.
func (b *AlpacaBrokerage) CloseAllPositions(ctx context.Context) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return b.client.CloseAllPositions(alpaca.CloseAllPositionsRequest{CancelOrders: true})
	})
	if err != nil {
		return b.wrapErr("close all positions", err)
	}
	return nil
}

func (b *AlpacaBrokerage) wrapErr(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrBrokerUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
