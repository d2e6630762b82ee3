package tasks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gmarchetti/donna/internal/events"
)

func newTestExecutor() (*Executor, *events.MemOutbox) {
	outbox := events.NewMemOutbox()
	store := NewMemStore(outbox)
	return NewExecutor(store, events.NewTaskPublisher(), nil), outbox
}

func pendingTopics(t *testing.T, outbox *events.MemOutbox) []string {
	t.Helper()
	envs, err := outbox.Pending(context.Background(), 0)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	topics := make([]string, len(envs))
	for i, env := range envs {
		topics[i] = env.Topic
	}
	return topics
}

func TestAddCreatesTaskAndEvent(t *testing.T) {
	e, outbox := newTestExecutor()

	task, err := e.Add(context.Background(), "owner-1", AddRequest{Title: "  buy milk  "})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if task.ID == "" {
		t.Fatalf("task ID should not be empty")
	}
	if task.Title != "buy milk" {
		t.Fatalf("Title = %q, want trimmed %q", task.Title, "buy milk")
	}
	if task.Completed {
		t.Fatalf("new task should not be completed")
	}

	topics := pendingTopics(t, outbox)
	if len(topics) != 1 || topics[0] != events.TopicTaskCreated {
		t.Fatalf("outbox topics = %v, want [%s]", topics, events.TopicTaskCreated)
	}
}

func TestAddValidation(t *testing.T) {
	e, outbox := newTestExecutor()
	ctx := context.Background()
	negOffset := -time.Minute

	cases := []struct {
		name string
		req  AddRequest
	}{
		{"empty title", AddRequest{Title: "   "}},
		{"title too long", AddRequest{Title: string(make([]byte, maxTitleLen+1))}},
		{"description too long", AddRequest{Title: "ok", Description: string(make([]byte, maxDescriptionLen+1))}},
		{"bad recurrence", AddRequest{Title: "ok", Recurrence: &Recurrence{Pattern: "fortnightly"}}},
		{"negative reminder offset", AddRequest{Title: "ok", ReminderOffset: &negOffset}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Add(ctx, "owner-1", tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Add() error = %v, want ValidationError", err)
			}
		})
	}

	if topics := pendingTopics(t, outbox); len(topics) != 0 {
		t.Fatalf("rejected Add must not emit events, got %v", topics)
	}
}

func TestTitleLimitCountsRunes(t *testing.T) {
	e, _ := newTestExecutor()
	ctx := context.Background()

	// Each rune is three bytes, so the byte length is far past the
	// limit while the rune count is exactly at it.
	atLimit := strings.Repeat("あ", maxTitleLen)
	if _, err := e.Add(ctx, "owner-1", AddRequest{Title: atLimit}); err != nil {
		t.Fatalf("Add() with %d-rune title error = %v", maxTitleLen, err)
	}

	var verr *ValidationError
	_, err := e.Add(ctx, "owner-1", AddRequest{Title: atLimit + "あ"})
	if !errors.As(err, &verr) {
		t.Fatalf("Add() with %d-rune title error = %v, want ValidationError", maxTitleLen+1, err)
	}
}

func TestListScopedToOwnerAndFiltered(t *testing.T) {
	e, _ := newTestExecutor()
	ctx := context.Background()

	a, err := e.Add(ctx, "alice", AddRequest{Title: "alpha"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := e.Add(ctx, "alice", AddRequest{Title: "beta"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := e.Add(ctx, "bob", AddRequest{Title: "gamma"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := e.Complete(ctx, "alice", a.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	all, err := e.List(ctx, "alice", FilterAll)
	if err != nil {
		t.Fatalf("List(all) error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List(all) returned %d tasks, want 2", len(all))
	}

	pending, err := e.List(ctx, "alice", FilterPending)
	if err != nil {
		t.Fatalf("List(pending) error = %v", err)
	}
	if len(pending) != 1 || pending[0].Title != "beta" {
		t.Fatalf("List(pending) = %+v, want only beta", pending)
	}

	done, err := e.List(ctx, "alice", FilterCompleted)
	if err != nil {
		t.Fatalf("List(completed) error = %v", err)
	}
	if len(done) != 1 || done[0].ID != a.ID {
		t.Fatalf("List(completed) = %+v, want only %s", done, a.ID)
	}

	if _, err := e.List(ctx, "alice", Filter("bogus")); err == nil {
		t.Fatalf("List with unknown filter should fail")
	}

	// Empty filter defaults to all.
	byDefault, err := e.List(ctx, "alice", "")
	if err != nil {
		t.Fatalf("List(\"\") error = %v", err)
	}
	if len(byDefault) != 2 {
		t.Fatalf("List(\"\") returned %d tasks, want 2", len(byDefault))
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	e, outbox := newTestExecutor()
	ctx := context.Background()

	task, err := e.Add(ctx, "owner-1", AddRequest{Title: "water plants"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	first, err := e.Complete(ctx, "owner-1", task.ID)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !first.Completed {
		t.Fatalf("task should be completed")
	}

	second, err := e.Complete(ctx, "owner-1", task.ID)
	if err != nil {
		t.Fatalf("second Complete() error = %v", err)
	}
	if !second.Completed {
		t.Fatalf("second Complete should return the completed task")
	}

	completed := 0
	for _, topic := range pendingTopics(t, outbox) {
		if topic == events.TopicTaskCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("task.completed emitted %d times, want exactly 1", completed)
	}
}

func TestCompleteUnknownTask(t *testing.T) {
	e, _ := newTestExecutor()
	if _, err := e.Complete(context.Background(), "owner-1", "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Complete() error = %v, want ErrNotFound", err)
	}
}

func TestCompleteWrongOwner(t *testing.T) {
	e, _ := newTestExecutor()
	ctx := context.Background()

	task, err := e.Add(ctx, "alice", AddRequest{Title: "private"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := e.Complete(ctx, "bob", task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-owner Complete() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteIsNotIdempotent(t *testing.T) {
	e, outbox := newTestExecutor()
	ctx := context.Background()

	task, err := e.Add(ctx, "owner-1", AddRequest{Title: "old task"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := e.Delete(ctx, "owner-1", task.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := e.Delete(ctx, "owner-1", task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}

	deleted := 0
	for _, topic := range pendingTopics(t, outbox) {
		if topic == events.TopicTaskDeleted {
			deleted++
		}
	}
	if deleted != 1 {
		t.Fatalf("task.deleted emitted %d times, want exactly 1", deleted)
	}
}

func TestUpdateFields(t *testing.T) {
	e, outbox := newTestExecutor()
	ctx := context.Background()

	task, err := e.Add(ctx, "owner-1", AddRequest{Title: "draft", Description: "old"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if _, err := e.Update(ctx, "owner-1", task.ID, UpdateRequest{}); err == nil {
		t.Fatalf("Update with no fields should fail")
	}

	title := "final"
	updated, err := e.Update(ctx, "owner-1", task.ID, UpdateRequest{Title: &title})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Title != "final" || updated.Description != "old" {
		t.Fatalf("Update changed wrong fields: %+v", updated)
	}

	desc := "new text"
	updated, err = e.Update(ctx, "owner-1", task.ID, UpdateRequest{Description: &desc})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Title != "final" || updated.Description != "new text" {
		t.Fatalf("Update changed wrong fields: %+v", updated)
	}

	empty := "  "
	if _, err := e.Update(ctx, "owner-1", task.ID, UpdateRequest{Title: &empty}); err == nil {
		t.Fatalf("Update with blank title should fail")
	}

	if _, err := e.Update(ctx, "owner-1", "no-such-id", UpdateRequest{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}

	updates := 0
	for _, topic := range pendingTopics(t, outbox) {
		if topic == events.TopicTaskUpdated {
			updates++
		}
	}
	if updates != 2 {
		t.Fatalf("task.updated emitted %d times, want 2", updates)
	}
}
