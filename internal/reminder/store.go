package reminder

import (
	"context"
	"time"

	"github.com/gmarchetti/donna/internal/events"
)

// Store persists reminder schedules.
type Store interface {
	// Upsert creates or replaces the schedule for a task and resets it
	// to pending.
	Upsert(ctx context.Context, sched Schedule) error
	// Cancel moves a pending schedule to cancelled. Cancelling a task
	// without a pending schedule is a no-op.
	Cancel(ctx context.Context, ownerID, taskID string) error
	// DueAndClaim returns pending schedules with fire_at <= now and
	// atomically claims them until now+ttl, so concurrent scheduler
	// replicas never fire the same schedule twice.
	DueAndClaim(ctx context.Context, now time.Time, ttl time.Duration, limit int) ([]Schedule, error)
	// MarkFired commits the fired status together with the reminder
	// event. Firing a schedule that is no longer pending is a no-op and
	// emits nothing.
	MarkFired(ctx context.Context, taskID string, env events.Envelope) error
	Close() error
}
