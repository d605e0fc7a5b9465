// Package contracts defines the message payloads exchanged between the
// arena services and the validation rules that bind them together.
package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Signal sides as emitted by strategies. Uppercase by contract.
const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
	SignalHold = "HOLD"
)

// Order sides as emitted by the risk governor. Lowercase by contract;
// execution normalises back to uppercase on the fill.
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Tick types.
const (
	TickTypeTrade = "trade"
	TickTypeQuote = "quote"
)

// FillStatusFilled is the only terminal fill status the arena produces.
const FillStatusFilled = "FILLED"

// Execution modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Tick is a single trade or quote event for one symbol.
type Tick struct {
	Type        string  `json:"type"`
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`
	TimestampNS int64   `json:"timestamp"`
}

// Time converts the nanosecond timestamp to a time.Time.
func (t Tick) Time() time.Time {
	return time.Unix(0, t.TimestampNS)
}

// Bar is an OHLCV aggregate over a time window.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// FlatBar builds a one-tick OHLC bar, used by strategies that only
// operate on bars when fed raw ticks.
func FlatBar(tick Tick) Bar {
	return Bar{
		Symbol:    tick.Symbol,
		Open:      tick.Price,
		High:      tick.Price,
		Low:       tick.Price,
		Close:     tick.Price,
		Volume:    tick.Size,
		Timestamp: tick.Time(),
	}
}

// FeatureImpact is one entry of a signal's explanation: a feature name
// and its contribution to the decision.
type FeatureImpact struct {
	Feature string  `json:"feature"`
	Impact  float64 `json:"value"`
}

// TradeSignal is a strategy's recommendation to act on a symbol. The
// side lives in the "signal" field and is uppercase; a TradeSignal is
// never directly executable.
type TradeSignal struct {
	ModelID     string          `json:"model_id"`
	ModelName   string          `json:"model_name"`
	Symbol      string          `json:"symbol"`
	Signal      string          `json:"signal"`
	Confidence  float64         `json:"confidence"`
	Price       float64         `json:"price"`
	Explanation []FeatureImpact `json:"explanation,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ExecutionRequest is a risk-approved, pre-sized order intent. Only the
// risk governor creates these; the side field is lowercase and the
// quantity is a whole number of shares.
type ExecutionRequest struct {
	ModelID     string          `json:"model_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Qty         int64           `json:"qty"`
	Type        string          `json:"type"`
	Price       float64         `json:"price,omitempty"`
	Confidence  float64         `json:"confidence"`
	Explanation []FeatureImpact `json:"explanation,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Fill confirms that an order executed, with the actual price and qty.
type Fill struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       string          `json:"order_id"`
	ModelID       string          `json:"model_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Qty           int64           `json:"qty"`
	Price         float64         `json:"price"`
	DecisionPrice float64         `json:"decision_price,omitempty"`
	Slippage      float64         `json:"slippage"`
	Status        string          `json:"status"`
	Mode          string          `json:"mode"`
	Explanation   []FeatureImpact `json:"explanation,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Risk command verbs.
const (
	CommandLiquidateAll           = "LIQUIDATE_ALL"
	CommandActivateManualApproval = "ACTIVATE_MANUAL_APPROVAL"
	CommandResetKillSwitch        = "RESET_KILL_SWITCH"
)

// RiskCommand is an operational directive from the risk governor to the
// execution engine. Rolling metrics are carried for provenance when the
// command originates from a model-health check.
type RiskCommand struct {
	Command         string    `json:"command"`
	Reason          string    `json:"reason"`
	RollingSharpe   *float64  `json:"rolling_sharpe,omitempty"`
	RollingAccuracy *float64  `json:"rolling_accuracy,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// LeaderboardRow summarises one portfolio for the leaderboard snapshot.
type LeaderboardRow struct {
	ModelID       string  `json:"model_id"`
	ModelName     string  `json:"model_name"`
	Cash          float64 `json:"cash"`
	Equity        float64 `json:"equity"`
	PnL           float64 `json:"pnl"`
	PnLPct        float64 `json:"pnl_pct"`
	RealizedPnL   float64 `json:"realized_pnl"`
	Trades        int64   `json:"trades"`
	Wins          int64   `json:"wins"`
	ClosedTrades  int64   `json:"closed_trades"`
	WinRate       float64 `json:"win_rate"`
	OpenPositions int     `json:"open_positions"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	Sortino       float64 `json:"sortino,omitempty"`
	Calmar        float64 `json:"calmar,omitempty"`
}

// LeaderboardSnapshot is the periodically published, equity-sorted
// summary of every live portfolio.
type LeaderboardSnapshot struct {
	Rows      []LeaderboardRow `json:"rows"`
	Timestamp time.Time        `json:"timestamp"`
}

// Validation errors. Tests and callers match with errors.Is.
var (
	ErrInvalidSide       = errors.New("invalid side")
	ErrInvalidSignalSide = errors.New("invalid signal side")
	ErrInvalidQty        = errors.New("invalid quantity")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrMissingSymbol     = errors.New("missing symbol")
	ErrNotExecutable     = errors.New("payload is not an executable order")
)

// ValidateSignal checks a TradeSignal against the schema contract.
func ValidateSignal(s TradeSignal) error {
	if s.Symbol == "" {
		return ErrMissingSymbol
	}
	switch s.Signal {
	case SignalBuy, SignalSell, SignalHold:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSignalSide, s.Signal)
	}
	if s.Price <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, s.Price)
	}
	return nil
}

// ValidateRequest checks an ExecutionRequest against the schema
// contract: lowercase side, positive integer qty.
func ValidateRequest(r ExecutionRequest) error {
	if r.Symbol == "" {
		return ErrMissingSymbol
	}
	switch r.Side {
	case OrderSideBuy, OrderSideSell:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSide, r.Side)
	}
	if r.Qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQty, r.Qty)
	}
	return nil
}

// ValidateFill checks a Fill against the schema contract: uppercase
// side, FILLED status, positive qty and price.
func ValidateFill(f Fill) error {
	if f.Symbol == "" {
		return ErrMissingSymbol
	}
	switch f.Side {
	case SignalBuy, SignalSell:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSide, f.Side)
	}
	if f.Qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQty, f.Qty)
	}
	if f.Price <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, f.Price)
	}
	if f.Status != FillStatusFilled {
		return fmt.Errorf("unexpected fill status %q", f.Status)
	}
	return nil
}

// DecodeRequest parses raw bus bytes into an ExecutionRequest, enforcing
// that the payload actually carries the side and qty keys. A raw
// TradeSignal (no side, no qty) decodes into zero values and is rejected
// here, which is the gate that keeps risk from being bypassed.
func DecodeRequest(data []byte) (ExecutionRequest, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return ExecutionRequest{}, fmt.Errorf("failed to decode request: %w", err)
	}
	if _, ok := probe["side"]; !ok {
		return ExecutionRequest{}, fmt.Errorf("%w: missing side", ErrNotExecutable)
	}
	if _, ok := probe["qty"]; !ok {
		return ExecutionRequest{}, fmt.Errorf("%w: missing qty", ErrNotExecutable)
	}
	var req ExecutionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ExecutionRequest{}, fmt.Errorf("failed to decode request: %w", err)
	}
	if err := ValidateRequest(req); err != nil {
		return ExecutionRequest{}, err
	}
	return req, nil
}

// FillSide maps a lowercase order side to the uppercase fill side.
func FillSide(orderSide string) (string, error) {
	switch orderSide {
	case OrderSideBuy:
		return SignalBuy, nil
	case OrderSideSell:
		return SignalSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, orderSide)
	}
}
