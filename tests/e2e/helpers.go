// Shared helpers for the end-to-end pipeline tests.
package e2e

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"

	"github.com/titanflow/arena/internal/bus"
)

// startEmbeddedNATS starts an in-process NATS server on a random port.
func startEmbeddedNATS(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host: "127.0.0.1",
		Port: -1,
	}

	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server failed to start")
	}

	t.Cleanup(ns.Shutdown)
	return ns
}

// connectBus dials the embedded server with the default subject prefix.
func connectBus(t *testing.T, ns *natsserver.Server) *bus.Bus {
	t.Helper()

	b, err := bus.Connect(bus.Config{URL: ns.ClientURL()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}
