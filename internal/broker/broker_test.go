package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanflow/arena/internal/bus"
	"github.com/titanflow/arena/internal/contracts"
)

func startTestNATSServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host: "127.0.0.1",
		Port: -1, // Random port
	}

	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server failed to start")
	}

	t.Cleanup(ns.Shutdown)
	return ns
}

// fakeBrokerage records calls and returns scripted responses.
type fakeBrokerage struct {
	mu sync.Mutex

	account    Account
	accountErr error
	orderErr   error

	submitted []Order
	closedAll int
}

func (f *fakeBrokerage) GetAccount(ctx context.Context) (Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account, f.accountErr
}

func (f *fakeBrokerage) SubmitMarketOrder(ctx context.Context, symbol, side string, qty int64) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.orderErr != nil {
		return Order{}, f.orderErr
	}
	order := Order{
		ID:             "order-1",
		Symbol:         symbol,
		Side:           side,
		FilledQty:      qty,
		FilledAvgPrice: 100.5,
		Status:         "filled",
	}
	f.submitted = append(f.submitted, order)
	return order, nil
}

func (f *fakeBrokerage) CloseAllPositions(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedAll++
	return nil
}

func (f *fakeBrokerage) submittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func (f *fakeBrokerage) closedAllCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedAll
}

func newExecutorFixture(t *testing.T) (*LiveExecutor, *fakeBrokerage, *bus.Bus, chan contracts.Fill) {
	t.Helper()

	ns := startTestNATSServer(t)
	b, err := bus.Connect(bus.Config{URL: ns.ClientURL()})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	fills := make(chan contracts.Fill, 4)
	_, err = bus.SubscribeJSON(b, bus.TopicExecutionFilled, func(f contracts.Fill) error {
		fills <- f
		return nil
	})
	require.NoError(t, err)

	fake := &fakeBrokerage{account: Account{Equity: 100_000, LastEquity: 100_000, Cash: 100_000}}
	return NewLiveExecutor(fake, b, nil, zerolog.Nop()), fake, b, fills
}

func liveRequest() contracts.ExecutionRequest {
	return contracts.ExecutionRequest{
		ModelID:   "m1",
		Symbol:    "SPY",
		Side:      contracts.OrderSideBuy,
		Qty:       10,
		Type:      "market",
		Price:     100,
		Timestamp: time.Now(),
	}
}

func TestLiveExecutor_SubmitsAndPublishesFill(t *testing.T) {
	exec, fake, _, fills := newExecutorFixture(t)

	exec.HandleRequest(context.Background(), liveRequest())

	require.Equal(t, 1, fake.submittedCount())

	select {
	case fill := <-fills:
		assert.Equal(t, "order-1", fill.OrderID)
		assert.Equal(t, contracts.SignalBuy, fill.Side)
		assert.Equal(t, contracts.ModeLive, fill.Mode)
		assert.Equal(t, 100.5, fill.Price)
		assert.InDelta(t, 0.5, fill.Slippage, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("fill never published")
	}
}

func TestLiveExecutor_BrokerErrorPublishesNoFill(t *testing.T) {
	exec, fake, b, fills := newExecutorFixture(t)
	fake.orderErr = errors.New("rejected")

	exec.HandleRequest(context.Background(), liveRequest())
	require.NoError(t, b.Flush())

	select {
	case fill := <-fills:
		t.Fatalf("failed order published a fill: %+v", fill)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLiveExecutor_KillSwitchBlocksAndLiquidates(t *testing.T) {
	exec, fake, _, _ := newExecutorFixture(t)
	ctx := context.Background()

	exec.HandleCommand(ctx, contracts.RiskCommand{
		Command: contracts.CommandLiquidateAll,
		Reason:  "kill_switch_active",
	})

	assert.True(t, exec.KillSwitchActive())
	assert.Equal(t, 1, fake.closedAllCount())

	exec.HandleRequest(ctx, liveRequest())
	assert.Equal(t, 0, fake.submittedCount())

	// Repeated liquidation commands are idempotent.
	exec.HandleCommand(ctx, contracts.RiskCommand{Command: contracts.CommandLiquidateAll})
	assert.Equal(t, 1, fake.closedAllCount())

	exec.HandleCommand(ctx, contracts.RiskCommand{Command: contracts.CommandResetKillSwitch})
	assert.False(t, exec.KillSwitchActive())

	exec.HandleRequest(ctx, liveRequest())
	assert.Equal(t, 1, fake.submittedCount())
}

func TestLiveExecutor_ManualApprovalHoldsOrders(t *testing.T) {
	exec, fake, _, _ := newExecutorFixture(t)
	ctx := context.Background()

	exec.HandleCommand(ctx, contracts.RiskCommand{
		Command: contracts.CommandActivateManualApproval,
		Reason:  "model_performance_degraded",
	})

	exec.HandleRequest(ctx, liveRequest())
	assert.Equal(t, 0, fake.submittedCount())
	// Manual approval does not flatten the book.
	assert.Equal(t, 0, fake.closedAllCount())
}

type sinkRecorder struct {
	mu       sync.Mutex
	equity   float64
	dailyPnL float64
	calls    int
}

func (s *sinkRecorder) UpdateAccountState(equity, dailyPnL float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = equity
	s.dailyPnL = dailyPnL
	s.calls++
}

func TestAccountPoller_FeedsSink(t *testing.T) {
	ns := startTestNATSServer(t)
	b, err := bus.Connect(bus.Config{URL: ns.ClientURL()})
	require.NoError(t, err)
	defer b.Close()

	fake := &fakeBrokerage{account: Account{Equity: 101_000, LastEquity: 100_000}}
	sink := &sinkRecorder{}

	p := NewAccountPoller(PollerConfig{Interval: time.Hour, MaxDailyDrawdownPct: 0.03},
		fake, sink, b, nil, zerolog.Nop())
	p.Poll(context.Background())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 101_000.0, sink.equity)
	assert.Equal(t, 1_000.0, sink.dailyPnL)
	assert.Equal(t, 0, fake.closedAllCount())
}

func TestAccountPoller_DrawdownLiquidates(t *testing.T) {
	ns := startTestNATSServer(t)
	b, err := bus.Connect(bus.Config{URL: ns.ClientURL()})
	require.NoError(t, err)
	defer b.Close()

	commands := make(chan contracts.RiskCommand, 2)
	_, err = bus.SubscribeJSON(b, bus.TopicRiskCommands, func(cmd contracts.RiskCommand) error {
		commands <- cmd
		return nil
	})
	require.NoError(t, err)

	// Down exactly 3% on the day.
	fake := &fakeBrokerage{account: Account{Equity: 97_000, LastEquity: 100_000}}

	p := NewAccountPoller(PollerConfig{Interval: time.Hour, MaxDailyDrawdownPct: 0.03},
		fake, nil, b, nil, zerolog.Nop())
	p.Poll(context.Background())

	select {
	case cmd := <-commands:
		assert.Equal(t, contracts.CommandLiquidateAll, cmd.Command)
		assert.Equal(t, "intraday_drawdown_limit_breached", cmd.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("liquidation command never published")
	}
	assert.Equal(t, 1, fake.closedAllCount())

	// The trip latches: the next poll does not liquidate again.
	p.Poll(context.Background())
	assert.Equal(t, 1, fake.closedAllCount())
}

func TestAccountPoller_SurvivesBrokerError(t *testing.T) {
	ns := startTestNATSServer(t)
	b, err := bus.Connect(bus.Config{URL: ns.ClientURL()})
	require.NoError(t, err)
	defer b.Close()

	fake := &fakeBrokerage{accountErr: errors.New("api down")}
	sink := &sinkRecorder{}

	p := NewAccountPoller(PollerConfig{Interval: time.Hour, MaxDailyDrawdownPct: 0.03},
		fake, sink, b, nil, zerolog.Nop())
	p.Poll(context.Background())

	sink.mu.Lock()
	assert.Equal(t, 0, sink.calls)
	sink.mu.Unlock()
}
