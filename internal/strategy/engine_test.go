package strategy

import (
	"context"
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

// fixedSignalStrategy emits one fixed signal on every input.
type fixedSignalStrategy struct {
	id     string
	signal *contracts.TradeSignal
	err    error
	panics bool
	calls  int
}

func (s *fixedSignalStrategy) OnTick(contracts.Tick) (*contracts.TradeSignal, error) {
	s.calls++
	if s.panics {
		panic("strategy blew up")
	}
	return s.signal, s.err
}

func (s *fixedSignalStrategy) OnBar(contracts.Bar) (*contracts.TradeSignal, error) {
	return s.OnTick(contracts.Tick{})
}

func (s *fixedSignalStrategy) WarmupPeriod() int { return 0 }
func (s *fixedSignalStrategy) ModelID() string   { return s.id }
func (s *fixedSignalStrategy) ModelName() string { return s.id }

func TestEngine_RoutesBySymbol(t *testing.T) {
	ns := startTestNATSServer(t)
	b, err := bus.Connect(bus.Config{URL: ns.ClientURL()})
	require.NoError(t, err)
	defer b.Close()

	engine := NewEngine(b, nil, nil, zerolog.Nop())

	spy := &fixedSignalStrategy{id: "spy_model"}
	aapl := &fixedSignalStrategy{id: "aapl_model"}
	engine.Register("SPY", spy)
	engine.Register("AAPL", aapl)

	engine.HandleTick(context.Background(), contracts.Tick{Symbol: "SPY", Price: 450})

	assert.Equal(t, 1, spy.calls)
	assert.Equal(t, 0, aapl.calls)
}

func TestEngine_PublishesSignals(t *testing.T) {
	ns := startTestNATSServer(t)
	b, err := bus.Connect(bus.Config{URL: ns.ClientURL()})
	require.NoError(t, err)
	defer b.Close()

	received := make(chan contracts.TradeSignal, 1)
	_, err = bus.SubscribeJSON(b, bus.TopicTradeSignals, func(sig contracts.TradeSignal) error {
		received <- sig
		return nil
	})
	require.NoError(t, err)

	engine := NewEngine(b, nil, nil, zerolog.Nop())
	engine.Register("SPY", &fixedSignalStrategy{
		id: "m1",
		signal: &contracts.TradeSignal{
			ModelID: "m1", Symbol: "SPY", Signal: contracts.SignalBuy,
			Confidence: 0.8, Price: 450, Timestamp: time.Now(),
		},
	})

	engine.HandleTick(context.Background(), contracts.Tick{Symbol: "SPY", Price: 450})
	require.NoError(t, b.Flush())

	select {
	case sig := <-received:
		assert.Equal(t, "m1", sig.ModelID)
		assert.Equal(t, contracts.SignalBuy, sig.Signal)
	case <-time.After(2 * time.Second):
		t.Fatal("signal never published")
	}
}

func TestEngine_PanicIsolation(t *testing.T) {
	ns := startTestNATSServer(t)
	b, err := bus.Connect(bus.Config{URL: ns.ClientURL()})
	require.NoError(t, err)
	defer b.Close()

	engine := NewEngine(b, nil, nil, zerolog.Nop())

	bad := &fixedSignalStrategy{id: "bad", panics: true}
	good := &fixedSignalStrategy{id: "good", signal: &contracts.TradeSignal{
		ModelID: "good", Symbol: "SPY", Signal: contracts.SignalSell, Confidence: 0.6, Price: 450,
	}}
	engine.Register("SPY", bad)
	engine.Register("SPY", good)

	// The panicking strategy must not prevent the healthy one from
	// seeing the tick.
	engine.HandleTick(context.Background(), contracts.Tick{Symbol: "SPY", Price: 450})

	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
}

func TestEngine_DropsInvalidSignals(t *testing.T) {
	ns := startTestNATSServer(t)
	b, err := bus.Connect(bus.Config{URL: ns.ClientURL()})
	require.NoError(t, err)
	defer b.Close()

	received := make(chan contracts.TradeSignal, 1)
	_, err = bus.SubscribeJSON(b, bus.TopicTradeSignals, func(sig contracts.TradeSignal) error {
		received <- sig
		return nil
	})
	require.NoError(t, err)

	engine := NewEngine(b, nil, nil, zerolog.Nop())
	engine.Register("SPY", &fixedSignalStrategy{
		id:     "m1",
		signal: &contracts.TradeSignal{ModelID: "m1", Symbol: "SPY", Signal: "buy", Price: 450},
	})

	engine.HandleTick(context.Background(), contracts.Tick{Symbol: "SPY", Price: 450})
	require.NoError(t, b.Flush())

	select {
	case sig := <-received:
		t.Fatalf("invalid signal published: %+v", sig)
	case <-time.After(200 * time.Millisecond):
	}
}
