// Package bus provides the NATS-backed topic bus connecting the arena
// services. Every inter-service interaction is a published message on
// one of the fixed topics below.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Fixed topic set. Subjects on the wire are namespaced under the
// configured prefix (default "titan.").
const (
	TopicMarketData        = "market_data"
	TopicTradeSignals      = "trade_signals"
	TopicExecutionRequests = "execution_requests"
	TopicExecutionFilled   = "execution_filled"
	TopicRiskCommands      = "risk_commands"
	TopicAuditEvents       = "audit_events"
	TopicLeaderboard       = "leaderboard"
	TopicHeartbeat         = "heartbeat"
)

// DefaultPrefix namespaces arena subjects on a shared NATS cluster.
const DefaultPrefix = "titan."

// Config configures the bus connection.
type Config struct {
	URL    string
	Name   string // Connection name reported to the server
	Prefix string // Subject prefix (default: "titan.")
}

// DefaultConfig returns default bus configuration.
func DefaultConfig() Config {
	return Config{
		URL:    nats.DefaultURL,
		Name:   "titanflow",
		Prefix: DefaultPrefix,
	}
}

// Bus is a topic-based publish/subscribe fan-out over NATS. Payloads
// are JSON-encoded contract structs.
type Bus struct {
	nc     *nats.Conn
	prefix string
}

// Handler is a callback for raw topic payloads. Decode errors belong to
// the handler; returning an error logs and drops the message.
type Handler func(data []byte) error

// Connect dials NATS with infinite reconnects and bounded back-off,
// logging connection state changes.
func Connect(cfg Config) (*Bus, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Name == "" {
		cfg.Name = "titanflow"
	}

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().
		Str("nats_url", cfg.URL).
		Str("prefix", cfg.Prefix).
		Msg("Message bus connected")

	return &Bus{nc: nc, prefix: cfg.Prefix}, nil
}

// Publish JSON-encodes payload and publishes it on the topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload interface{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !b.nc.IsConnected() {
		return fmt.Errorf("message bus not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	subject := b.prefix + topic
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	log.Debug().
		Str("topic", topic).
		Str("subject", subject).
		Int("bytes", len(data)).
		Msg("Published message")

	return nil
}

// Subscribe registers handler for every message on the topic. Handler
// errors are logged and the message dropped; the subscription survives.
func (b *Bus) Subscribe(topic string, handler Handler) (*Subscription, error) {
	subject := b.prefix + topic

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(msg.Data); err != nil {
			log.Error().
				Err(err).
				Str("topic", topic).
				Str("subject", subject).
				Msg("Message handler error")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	log.Info().
		Str("topic", topic).
		Str("subject", subject).
		Msg("Subscribed to topic")

	return &Subscription{sub: sub, topic: topic, subject: subject}, nil
}

// Flush waits for all buffered publishes to reach the server.
func (b *Bus) Flush() error {
	return b.nc.Flush()
}

// IsConnected reports whether the underlying connection is up.
func (b *Bus) IsConnected() bool {
	return b.nc.IsConnected()
}

// Conn exposes the raw NATS connection for components that publish
// directly, like the heartbeat publisher.
func (b *Bus) Conn() *nats.Conn {
	return b.nc
}

// Stats returns bus connection statistics.
func (b *Bus) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	if b.nc != nil {
		stats["connected"] = b.nc.IsConnected()
		stats["status"] = b.nc.Status().String()
		stats["connected_url"] = b.nc.ConnectedUrl()
		stats["in_msgs"] = b.nc.Stats().InMsgs
		stats["out_msgs"] = b.nc.Stats().OutMsgs
		stats["reconnects"] = b.nc.Stats().Reconnects
	}
	return stats
}

// Close drains and closes the connection.
func (b *Bus) Close() error {
	if b.nc != nil {
		b.nc.Close()
		log.Info().Msg("Message bus closed")
	}
	return nil
}

// Subscription represents an active topic subscription.
type Subscription struct {
	sub     *nats.Subscription
	topic   string
	subject string
}

// Unsubscribe removes the subscription.
func (s *Subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	log.Info().
		Str("topic", s.topic).
		Str("subject", s.subject).
		Msg("Unsubscribed from topic")

	return nil
}

// IsValid returns whether the subscription is still active.
func (s *Subscription) IsValid() bool {
	return s.sub.IsValid()
}

// SubscribeJSON wires a typed handler to a topic: payloads that fail to
// decode are logged and dropped without reaching the handler.
func SubscribeJSON[T any](b *Bus, topic string, handler func(T) error) (*Subscription, error) {
	return b.Subscribe(topic, func(data []byte) error {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			log.Warn().
				Err(err).
				Str("topic", topic).
				Msg("Dropping undecodable message")
			return nil
		}
		return handler(v)
	})
}
