package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HeartbeatConfig holds configuration for heartbeat publishing.
type HeartbeatConfig struct {
	// Interval between heartbeat messages (default: 30 seconds)
	Interval time.Duration
	// Topic is the bus topic heartbeats publish on
	Topic string
}

// DefaultHeartbeatConfig returns the default heartbeat configuration.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Topic:    TopicHeartbeat,
	}
}

// Heartbeat is the liveness ping published by every long-lived
// subscriber.
type Heartbeat struct {
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// HeartbeatPublisher publishes periodic liveness pings for a service.
type HeartbeatPublisher struct {
	bus     *Bus
	config  HeartbeatConfig
	service string
	log     zerolog.Logger
	stopCh  chan struct{}
	running atomic.Bool
}

// NewHeartbeatPublisher creates a heartbeat publisher for a service.
func NewHeartbeatPublisher(b *Bus, service string, config HeartbeatConfig, log zerolog.Logger) *HeartbeatPublisher {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Topic == "" {
		config.Topic = TopicHeartbeat
	}
	return &HeartbeatPublisher{
		bus:     b,
		config:  config,
		service: service,
		log:     log.With().Str("component", "heartbeat").Logger(),
		stopCh:  make(chan struct{}),
	}
}

// Start begins publishing at the configured interval. The first beat is
// published immediately.
func (h *HeartbeatPublisher) Start() {
	if h.running.Load() {
		h.log.Warn().Msg("Heartbeat publisher already running")
		return
	}

	h.running.Store(true)
	ticker := time.NewTicker(h.config.Interval)

	go func() {
		h.publish("healthy")

		for {
			select {
			case <-ticker.C:
				h.publish("healthy")
			case <-h.stopCh:
				ticker.Stop()
				h.running.Store(false)
				h.log.Info().Str("topic", h.config.Topic).Msg("Heartbeat publishing stopped")
				return
			}
		}
	}()

	h.log.Info().
		Str("topic", h.config.Topic).
		Dur("interval", h.config.Interval).
		Msg("Heartbeat publishing started")
}

func (h *HeartbeatPublisher) publish(status string) {
	beat := Heartbeat{
		Service:   h.service,
		Timestamp: time.Now().UTC(),
		Status:    status,
	}

	data, err := json.Marshal(beat)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal heartbeat")
		return
	}

	if err := h.bus.Conn().Publish(h.bus.prefix+h.config.Topic, data); err != nil {
		h.log.Error().Err(err).Msg("Failed to publish heartbeat")
		return
	}

	h.log.Debug().Str("topic", h.config.Topic).Msg("Heartbeat published")
}

// PublishStatus immediately publishes a beat with a custom status.
func (h *HeartbeatPublisher) PublishStatus(status string) {
	h.publish(status)
}

// Stop stops the heartbeat publisher.
func (h *HeartbeatPublisher) Stop() {
	if !h.running.Load() {
		return
	}
	close(h.stopCh)
}

// IsRunning reports whether the publisher is active.
func (h *HeartbeatPublisher) IsRunning() bool {
	return h.running.Load()
}

// Run publishes heartbeats until the context is cancelled. It is the
// errgroup-friendly variant of Start/Stop.
func (h *HeartbeatPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.publish("healthy")
	for {
		select {
		case <-ticker.C:
			h.publish("healthy")
		case <-ctx.Done():
			return nil
		}
	}
}
