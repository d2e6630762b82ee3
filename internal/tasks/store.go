package tasks

import (
	"context"

	"github.com/gmarchetti/donna/internal/events"
)

// Store persists tasks. Mutating methods take the event envelope that
// must commit with the change: implementations append it to the event
// outbox atomically with the task write, so a committed mutation can
// never lose its event.
type Store interface {
	Create(ctx context.Context, task Task, env events.Envelope) error
	Get(ctx context.Context, ownerID, taskID string) (Task, error)
	List(ctx context.Context, ownerID string, filter Filter) ([]Task, error)
	Update(ctx context.Context, task Task, env events.Envelope) error
	// Complete marks the task completed. It reports changed=false when
	// the task was already complete, in which case no event is appended.
	Complete(ctx context.Context, ownerID, taskID string, env events.Envelope) (task Task, changed bool, err error)
	Delete(ctx context.Context, ownerID, taskID string, env events.Envelope) error
	Close() error
}
