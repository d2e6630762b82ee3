// Package audit appends every event to an immutable log. Entries are
// keyed by event id so at-least-once redelivery deduplicates at write
// time; nothing in this package updates or deletes a row.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gmarchetti/donna/internal/events"
	"github.com/gmarchetti/donna/internal/observability"
)

const ConsumerName = "audit-logger"

// Store appends audit entries. Append must be idempotent on the
// envelope id.
type Store interface {
	Append(ctx context.Context, env events.Envelope) error
	Close() error
}

// Logger is the bus consumer that feeds the audit store.
type Logger struct {
	store   Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewLogger(store Store, logger *slog.Logger, metrics *observability.Metrics) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, logger: logger, metrics: metrics}
}

// Register subscribes the logger to every topic on the bus.
func (l *Logger) Register(bus events.Bus) {
	bus.Subscribe(ConsumerName, events.AllTopics(), l.Handle)
}

func (l *Logger) Handle(ctx context.Context, env events.Envelope) error {
	if err := l.store.Append(ctx, env); err != nil {
		l.metrics.ObserveConsumed(ConsumerName, "error")
		return fmt.Errorf("append audit entry: %w", err)
	}
	l.metrics.ObserveConsumed(ConsumerName, "ok")
	return nil
}
