// Package recurring advances recurring task series. It re-enters the
// command executor to create the next instance instead of writing
// storage directly, so event production stays with its single
// authorized producer.
package recurring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gmarchetti/donna/internal/events"
	"github.com/gmarchetti/donna/internal/observability"
	"github.com/gmarchetti/donna/internal/tasks"
)

const ConsumerName = "recurring-generator"

type Generator struct {
	executor  *tasks.Executor
	processed events.ProcessedStore
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func NewGenerator(executor *tasks.Executor, processed events.ProcessedStore, logger *slog.Logger, metrics *observability.Metrics) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		executor:  executor,
		processed: processed,
		logger:    logger,
		metrics:   metrics,
	}
}

// Register subscribes the generator on the bus. Only completion
// advances a series; task.created is deliberately not subscribed, which
// keeps a recurring add from spawning the next instance immediately.
func (g *Generator) Register(bus events.Bus) {
	bus.Subscribe(ConsumerName, []string{events.TopicTaskCompleted}, g.Handle)
}

func (g *Generator) Handle(ctx context.Context, env events.Envelope) error {
	var completed tasks.Task
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &completed); err != nil {
			// A malformed payload will not improve on retry.
			g.logger.Error("recurring: undecodable completion payload", "event_id", env.ID, "error", err)
			g.metrics.ObserveConsumed(ConsumerName, "bad_payload")
			return nil
		}
	}
	if completed.Recurrence == nil {
		g.metrics.ObserveConsumed(ConsumerName, "skipped")
		return nil
	}

	seen, err := g.processed.Seen(ctx, ConsumerName, env.ID)
	if err != nil {
		return fmt.Errorf("check idempotency record: %w", err)
	}
	if seen {
		g.metrics.ObserveConsumed(ConsumerName, "duplicate")
		return nil
	}

	anchor := env.EmittedAt
	if completed.DueDate != nil {
		anchor = *completed.DueDate
	}
	next := completed.Recurrence.Next(anchor)
	if next.IsZero() {
		// Series ended; record the event so a redelivery is a no-op.
		if _, err := g.processed.MarkProcessed(ctx, ConsumerName, env.ID); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		g.metrics.ObserveConsumed(ConsumerName, "series_ended")
		return nil
	}

	created, err := g.executor.Add(ctx, env.OwnerID, tasks.AddRequest{
		Title:          completed.Title,
		Description:    completed.Description,
		Recurrence:     completed.Recurrence,
		DueDate:        &next,
		ReminderOffset: completed.ReminderOffset,
	})
	if err != nil {
		return fmt.Errorf("add next occurrence: %w", err)
	}
	if _, err := g.processed.MarkProcessed(ctx, ConsumerName, env.ID); err != nil {
		// The instance exists but the record write failed; a redelivery
		// in this window could duplicate it. Surface the error so the
		// failure is visible instead of widening the window silently.
		return fmt.Errorf("mark processed after add: %w", err)
	}

	g.logger.Info("recurring: generated next occurrence",
		"owner_id", env.OwnerID,
		"completed_task_id", env.TaskID,
		"new_task_id", created.ID,
		"due", next,
	)
	g.metrics.ObserveConsumed(ConsumerName, "generated")
	return nil
}
