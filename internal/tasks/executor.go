package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gmarchetti/donna/internal/events"
	"github.com/gmarchetti/donna/internal/observability"
)

const (
	maxTitleLen       = 255
	maxDescriptionLen = 5000
)

// Executor applies the five task mutations. It is stateless: every call
// is owner-scoped and self-contained, and each successful mutation
// commits exactly one event through the store's outbox. It is the only
// component allowed to mutate tasks.
type Executor struct {
	store     Store
	publisher *events.Publisher
	metrics   *observability.Metrics
}

func NewExecutor(store Store, publisher *events.Publisher, metrics *observability.Metrics) *Executor {
	return &Executor{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
	}
}

// Add creates a task. The title must be non-empty after trimming.
func (e *Executor) Add(ctx context.Context, ownerID string, req AddRequest) (Task, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Task{}, invalid("owner_id", "must not be empty")
	}
	title, err := validTitle(req.Title)
	if err != nil {
		e.metrics.ObserveCommand("add", "invalid")
		return Task{}, err
	}
	if err := validDescription(req.Description); err != nil {
		e.metrics.ObserveCommand("add", "invalid")
		return Task{}, err
	}
	if req.Recurrence != nil {
		if err := req.Recurrence.Validate(); err != nil {
			e.metrics.ObserveCommand("add", "invalid")
			return Task{}, &ValidationError{Field: "recurrence", Reason: err.Error()}
		}
	}
	if req.ReminderOffset != nil && *req.ReminderOffset <= 0 {
		e.metrics.ObserveCommand("add", "invalid")
		return Task{}, invalid("reminder_offset", "must be positive")
	}

	now := time.Now().UTC()
	task := Task{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Title:          title,
		Description:    req.Description,
		Recurrence:     req.Recurrence,
		DueDate:        req.DueDate,
		ReminderOffset: req.ReminderOffset,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	env, err := e.publisher.Envelope(events.TopicTaskCreated, ownerID, task.ID, task.Clone())
	if err != nil {
		return Task{}, err
	}
	if err := e.store.Create(ctx, task, env); err != nil {
		e.metrics.ObserveCommand("add", "error")
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	e.metrics.ObserveCommand("add", "ok")
	return task, nil
}

// List returns the owner's tasks ordered by created_at descending. An
// empty result is not an error.
func (e *Executor) List(ctx context.Context, ownerID string, filter Filter) ([]Task, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, invalid("owner_id", "must not be empty")
	}
	switch filter {
	case "", FilterAll:
		filter = FilterAll
	case FilterPending, FilterCompleted:
	default:
		e.metrics.ObserveCommand("list", "invalid")
		return nil, invalid("filter", fmt.Sprintf("unknown filter %q", filter))
	}
	out, err := e.store.List(ctx, ownerID, filter)
	if err != nil {
		e.metrics.ObserveCommand("list", "error")
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	e.metrics.ObserveCommand("list", "ok")
	return out, nil
}

// Complete marks a task done. Completing an already-complete task is a
// success and emits no second event.
func (e *Executor) Complete(ctx context.Context, ownerID, taskID string) (Task, error) {
	ownerID = strings.TrimSpace(ownerID)
	taskID = strings.TrimSpace(taskID)
	if ownerID == "" || taskID == "" {
		return Task{}, invalid("task_id", "owner and task id are required")
	}

	current, err := e.store.Get(ctx, ownerID, taskID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			e.metrics.ObserveCommand("complete", "not_found")
			return Task{}, ErrNotFound
		}
		e.metrics.ObserveCommand("complete", "error")
		return Task{}, fmt.Errorf("load task: %w", err)
	}
	if current.Completed {
		// Idempotent: same result, no second event.
		e.metrics.ObserveCommand("complete", "ok")
		return current, nil
	}

	payload := current.Clone()
	payload.Completed = true
	env, err := e.publisher.Envelope(events.TopicTaskCompleted, ownerID, taskID, payload)
	if err != nil {
		return Task{}, err
	}
	task, _, err := e.store.Complete(ctx, ownerID, taskID, env)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			e.metrics.ObserveCommand("complete", "not_found")
			return Task{}, ErrNotFound
		}
		e.metrics.ObserveCommand("complete", "error")
		return Task{}, fmt.Errorf("complete task: %w", err)
	}
	e.metrics.ObserveCommand("complete", "ok")
	return task, nil
}

// Delete removes a task permanently. Unlike Complete it is NOT
// idempotent: a second Delete for the same id returns ErrNotFound, so
// callers that retry deletes must treat ErrNotFound as terminal.
func (e *Executor) Delete(ctx context.Context, ownerID, taskID string) error {
	ownerID = strings.TrimSpace(ownerID)
	taskID = strings.TrimSpace(taskID)
	if ownerID == "" || taskID == "" {
		return invalid("task_id", "owner and task id are required")
	}

	current, err := e.store.Get(ctx, ownerID, taskID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			e.metrics.ObserveCommand("delete", "not_found")
			return ErrNotFound
		}
		e.metrics.ObserveCommand("delete", "error")
		return fmt.Errorf("load task: %w", err)
	}

	env, err := e.publisher.Envelope(events.TopicTaskDeleted, ownerID, taskID, current.Clone())
	if err != nil {
		return err
	}
	if err := e.store.Delete(ctx, ownerID, taskID, env); err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			e.metrics.ObserveCommand("delete", "not_found")
			return ErrNotFound
		}
		e.metrics.ObserveCommand("delete", "error")
		return fmt.Errorf("delete task: %w", err)
	}
	e.metrics.ObserveCommand("delete", "ok")
	return nil
}

// Update changes the title and/or description. At least one field must
// be present; an empty title is rejected.
func (e *Executor) Update(ctx context.Context, ownerID, taskID string, req UpdateRequest) (Task, error) {
	ownerID = strings.TrimSpace(ownerID)
	taskID = strings.TrimSpace(taskID)
	if ownerID == "" || taskID == "" {
		return Task{}, invalid("task_id", "owner and task id are required")
	}
	if req.Title == nil && req.Description == nil {
		e.metrics.ObserveCommand("update", "invalid")
		return Task{}, invalid("update", "at least one of title or description is required")
	}
	if req.Title != nil {
		title, err := validTitle(*req.Title)
		if err != nil {
			e.metrics.ObserveCommand("update", "invalid")
			return Task{}, err
		}
		req.Title = &title
	}
	if req.Description != nil {
		if err := validDescription(*req.Description); err != nil {
			e.metrics.ObserveCommand("update", "invalid")
			return Task{}, err
		}
	}

	task, err := e.store.Get(ctx, ownerID, taskID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			e.metrics.ObserveCommand("update", "not_found")
			return Task{}, ErrNotFound
		}
		e.metrics.ObserveCommand("update", "error")
		return Task{}, fmt.Errorf("load task: %w", err)
	}
	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	task.UpdatedAt = time.Now().UTC()

	env, err := e.publisher.Envelope(events.TopicTaskUpdated, ownerID, taskID, task.Clone())
	if err != nil {
		return Task{}, err
	}
	if err := e.store.Update(ctx, task, env); err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			e.metrics.ObserveCommand("update", "not_found")
			return Task{}, ErrNotFound
		}
		e.metrics.ObserveCommand("update", "error")
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	e.metrics.ObserveCommand("update", "ok")
	return task, nil
}

func validTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", invalid("title", "must not be empty")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "", invalid("title", fmt.Sprintf("must be at most %d characters", maxTitleLen))
	}
	return title, nil
}

func validDescription(desc string) error {
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return invalid("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLen))
	}
	return nil
}
