// Package audit appends self-contained trade-lifecycle records to an
// append-only JSONL trail and mirrors each record on the audit topic.
// This trail is the only mechanism linking a downstream fill to the
// upstream signal that caused it.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/titanflow/arena/internal/bus"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventTypeSignal         EventType = "SIGNAL"
	EventTypeOrder          EventType = "ORDER"
	EventTypeFill           EventType = "FILL"
	EventTypeKillSwitch     EventType = "KILL_SWITCH"
	EventTypeManualApproval EventType = "MANUAL_APPROVAL_MODE"
)

// Record is a single audit trail entry. Every record carries the base
// fields; event-specific data lives in Fields.
type Record struct {
	ID           uuid.UUID              `json:"id"`
	EventType    EventType              `json:"event_type"`
	LoggedAt     time.Time              `json:"logged_at"`
	ModelID      string                 `json:"model_id"`
	ModelVersion string                 `json:"model_version"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
}

// Publisher is the subset of the bus the logger needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Logger appends audit records to disk and publishes them on the bus.
// Disk and bus failures log and never propagate; an audit failure must
// never block a fill.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	pub  Publisher
	log  zerolog.Logger
}

// NewLogger opens (or creates) the JSONL trail at path. A nil publisher
// disables the bus mirror; an empty path disables the disk trail.
func NewLogger(path string, pub Publisher, log zerolog.Logger) (*Logger, error) {
	l := &Logger{
		pub: pub,
		log: log.With().Str("component", "audit").Logger(),
	}

	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			// Per policy the trail is best-effort: run without disk
			l.log.Error().Err(err).Str("path", path).Msg("Failed to open audit trail, disk persistence disabled")
		} else {
			l.file = f
		}
	}

	return l, nil
}

// Log records an audit event. Defaults are applied, the record is
// structured-logged for immediate visibility, then appended to disk and
// published on the audit topic. All failures are swallowed after
// logging.
func (l *Logger) Log(ctx context.Context, rec *Record) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.LoggedAt.IsZero() {
		rec.LoggedAt = time.Now().UTC()
	} else {
		rec.LoggedAt = rec.LoggedAt.UTC()
	}
	if rec.ModelVersion == "" {
		rec.ModelVersion = "v1"
	}

	l.log.Info().
		Str("event_id", rec.ID.String()).
		Str("event_type", string(rec.EventType)).
		Str("model_id", rec.ModelID).
		Str("model_version", rec.ModelVersion).
		Msg("Audit event")

	data, err := json.Marshal(rec)
	if err != nil {
		l.log.Error().Err(err).Msg("Failed to marshal audit record")
		return
	}

	l.appendLine(data)

	if l.pub != nil {
		if err := l.pub.Publish(ctx, bus.TopicAuditEvents, rec); err != nil {
			l.log.Error().Err(err).Msg("Failed to publish audit record")
		}
	}
}

func (l *Logger) appendLine(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		l.log.Error().Err(err).Msg("Failed to append audit record")
	}
}

// Close closes the disk trail.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// LogSignal records a SIGNAL event for an emitted trade signal.
func (l *Logger) LogSignal(ctx context.Context, modelID, modelVersion, symbol, side string, confidence, price float64) {
	l.Log(ctx, &Record{
		EventType:    EventTypeSignal,
		ModelID:      modelID,
		ModelVersion: modelVersion,
		Fields: map[string]interface{}{
			"symbol":     symbol,
			"signal":     side,
			"confidence": confidence,
			"price":      price,
		},
	})
}

// LogOrder records an ORDER event for a risk-approved request.
func (l *Logger) LogOrder(ctx context.Context, modelID, symbol, side string, qty int64, price float64) {
	l.Log(ctx, &Record{
		EventType: EventTypeOrder,
		ModelID:   modelID,
		Fields: map[string]interface{}{
			"symbol": symbol,
			"side":   side,
			"qty":    qty,
			"price":  price,
		},
	})
}

// LogFill records a FILL event for an executed order.
func (l *Logger) LogFill(ctx context.Context, modelID, orderID, symbol, side string, qty int64, price, slippage float64, mode string) {
	l.Log(ctx, &Record{
		EventType: EventTypeFill,
		ModelID:   modelID,
		Fields: map[string]interface{}{
			"order_id": orderID,
			"symbol":   symbol,
			"side":     side,
			"qty":      qty,
			"price":    price,
			"slippage": slippage,
			"mode":     mode,
		},
	})
}

// LogKillSwitch records a KILL_SWITCH activation with its trigger.
func (l *Logger) LogKillSwitch(ctx context.Context, reason string, dailyPnL float64, consecutiveLosses int) {
	l.Log(ctx, &Record{
		EventType: EventTypeKillSwitch,
		ModelID:   "risk_governor",
		Fields: map[string]interface{}{
			"reason":             reason,
			"daily_pnl":          dailyPnL,
			"consecutive_losses": consecutiveLosses,
		},
	})
}

// LogManualApproval records a MANUAL_APPROVAL_MODE transition with the
// rolling metrics that triggered it.
func (l *Logger) LogManualApproval(ctx context.Context, reason string, rollingSharpe, rollingAccuracy *float64) {
	fields := map[string]interface{}{
		"reason": reason,
	}
	if rollingSharpe != nil {
		fields["rolling_sharpe"] = *rollingSharpe
	}
	if rollingAccuracy != nil {
		fields["rolling_accuracy"] = *rollingAccuracy
	}
	l.Log(ctx, &Record{
		EventType: EventTypeManualApproval,
		ModelID:   "risk_governor",
		Fields:    fields,
	})
}
