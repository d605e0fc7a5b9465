package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSignal(t *testing.T) {
	tests := []struct {
		name    string
		signal  TradeSignal
		wantErr error
	}{
		{
			name:   "valid buy",
			signal: TradeSignal{Symbol: "SPY", Signal: SignalBuy, Price: 450.0},
		},
		{
			name:   "valid hold",
			signal: TradeSignal{Symbol: "SPY", Signal: SignalHold, Price: 450.0},
		},
		{
			name:    "lowercase side rejected",
			signal:  TradeSignal{Symbol: "SPY", Signal: "buy", Price: 450.0},
			wantErr: ErrInvalidSignalSide,
		},
		{
			name:    "zero price rejected",
			signal:  TradeSignal{Symbol: "SPY", Signal: SignalBuy, Price: 0},
			wantErr: ErrInvalidPrice,
		},
		{
			name:    "missing symbol rejected",
			signal:  TradeSignal{Signal: SignalBuy, Price: 450.0},
			wantErr: ErrMissingSymbol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignal(tt.signal)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     ExecutionRequest
		wantErr error
	}{
		{
			name: "valid buy",
			req:  ExecutionRequest{ModelID: "m1", Symbol: "SPY", Side: OrderSideBuy, Qty: 10},
		},
		{
			name:    "uppercase side rejected",
			req:     ExecutionRequest{ModelID: "m1", Symbol: "SPY", Side: "BUY", Qty: 10},
			wantErr: ErrInvalidSide,
		},
		{
			name:    "zero qty rejected",
			req:     ExecutionRequest{ModelID: "m1", Symbol: "SPY", Side: OrderSideSell, Qty: 0},
			wantErr: ErrInvalidQty,
		},
		{
			name:    "negative qty rejected",
			req:     ExecutionRequest{ModelID: "m1", Symbol: "SPY", Side: OrderSideBuy, Qty: -5},
			wantErr: ErrInvalidQty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeRequest_RejectsRawSignal(t *testing.T) {
	// A raw TradeSignal carries no side or qty keys and must never
	// decode into something executable.
	raw, err := json.Marshal(TradeSignal{
		ModelID:    "sma_crossover",
		Symbol:     "SPY",
		Signal:     SignalBuy,
		Confidence: 0.8,
		Price:      150.0,
		Timestamp:  time.Now(),
	})
	require.NoError(t, err)

	_, err = DecodeRequest(raw)
	assert.ErrorIs(t, err, ErrNotExecutable)
}

func TestDecodeRequest_AcceptsSizedOrder(t *testing.T) {
	raw, err := json.Marshal(ExecutionRequest{
		ModelID: "sma_crossover",
		Symbol:  "SPY",
		Side:    OrderSideBuy,
		Qty:     33,
		Type:    "market",
		Price:   150.0,
	})
	require.NoError(t, err)

	req, err := DecodeRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, OrderSideBuy, req.Side)
	assert.Equal(t, int64(33), req.Qty)
}

func TestDecodeRequest_RejectsMalformedJSON(t *testing.T) {
	_, err := DecodeRequest([]byte("{not json"))
	assert.Error(t, err)
}

func TestFillSide(t *testing.T) {
	side, err := FillSide(OrderSideBuy)
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, side)

	side, err = FillSide(OrderSideSell)
	require.NoError(t, err)
	assert.Equal(t, SignalSell, side)

	_, err = FillSide("BUY")
	assert.ErrorIs(t, err, ErrInvalidSide)
}

func TestValidateFill(t *testing.T) {
	fill := Fill{
		Symbol: "SPY",
		Side:   SignalBuy,
		Qty:    33,
		Price:  150.02,
		Status: FillStatusFilled,
	}
	assert.NoError(t, ValidateFill(fill))

	bad := fill
	bad.Side = "buy"
	assert.ErrorIs(t, ValidateFill(bad), ErrInvalidSide)

	bad = fill
	bad.Status = "PENDING"
	assert.Error(t, ValidateFill(bad))
}

func TestFlatBar(t *testing.T) {
	tick := Tick{Type: TickTypeTrade, Symbol: "AAPL", Price: 180.5, Size: 100, TimestampNS: time.Now().UnixNano()}
	bar := FlatBar(tick)

	assert.Equal(t, tick.Price, bar.Open)
	assert.Equal(t, tick.Price, bar.High)
	assert.Equal(t, tick.Price, bar.Low)
	assert.Equal(t, tick.Price, bar.Close)
	assert.Equal(t, tick.Size, bar.Volume)
	assert.Equal(t, "AAPL", bar.Symbol)
}
