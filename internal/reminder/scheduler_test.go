package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/gmarchetti/donna/internal/events"
	"github.com/gmarchetti/donna/internal/tasks"
)

func newScheduler(t *testing.T) (*Scheduler, *MemStore, *events.MemOutbox) {
	t.Helper()
	outbox := events.NewMemOutbox()
	store := NewMemStore(outbox)
	s := NewScheduler(Config{
		Store:     store,
		Publisher: events.NewReminderPublisher(),
		Interval:  time.Hour, // ticks driven manually in tests
	})
	return s, store, outbox
}

func taskEnvelope(t *testing.T, topic string, task tasks.Task) events.Envelope {
	t.Helper()
	env, err := events.NewTaskPublisher().Envelope(topic, task.OwnerID, task.ID, task)
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}
	return env
}

func reminderTask(due time.Time, offset time.Duration) tasks.Task {
	return tasks.Task{
		ID:             "task-1",
		OwnerID:        "alice",
		Title:          "dentist",
		DueDate:        &due,
		ReminderOffset: &offset,
	}
}

func firedTopics(t *testing.T, outbox *events.MemOutbox) []events.Envelope {
	t.Helper()
	envs, err := outbox.Pending(context.Background(), 0)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	return envs
}

func TestHandleSchedulesFromCreatedEvent(t *testing.T) {
	s, store, _ := newScheduler(t)
	ctx := context.Background()

	due := time.Now().UTC().Add(2 * time.Hour)
	task := reminderTask(due, 30*time.Minute)
	if err := s.Handle(ctx, taskEnvelope(t, events.TopicTaskCreated, task)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	sched, ok := store.schedules[task.ID]
	if !ok {
		t.Fatalf("no schedule recorded")
	}
	if !sched.FireAt.Equal(due.Add(-30 * time.Minute)) {
		t.Fatalf("FireAt = %v, want due minus offset", sched.FireAt)
	}
	if sched.Status != StatusPending {
		t.Fatalf("Status = %s, want pending", sched.Status)
	}
}

func TestHandleSkipsTaskWithoutReminder(t *testing.T) {
	s, store, _ := newScheduler(t)
	ctx := context.Background()

	due := time.Now().UTC().Add(time.Hour)
	task := tasks.Task{ID: "task-1", OwnerID: "alice", DueDate: &due}
	if err := s.Handle(ctx, taskEnvelope(t, events.TopicTaskCreated, task)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(store.schedules) != 0 {
		t.Fatalf("task without reminder offset must not schedule")
	}
}

func TestUpdateMovesSchedule(t *testing.T) {
	s, store, _ := newScheduler(t)
	ctx := context.Background()

	due := time.Now().UTC().Add(2 * time.Hour)
	task := reminderTask(due, 30*time.Minute)
	if err := s.Handle(ctx, taskEnvelope(t, events.TopicTaskCreated, task)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	laterDue := due.Add(24 * time.Hour)
	task.DueDate = &laterDue
	if err := s.Handle(ctx, taskEnvelope(t, events.TopicTaskUpdated, task)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	sched := store.schedules[task.ID]
	if !sched.FireAt.Equal(laterDue.Add(-30 * time.Minute)) {
		t.Fatalf("FireAt = %v, update should move the schedule", sched.FireAt)
	}
}

func TestCompleteAndDeleteCancelSchedule(t *testing.T) {
	for _, topic := range []string{events.TopicTaskCompleted, events.TopicTaskDeleted} {
		s, store, outbox := newScheduler(t)
		ctx := context.Background()

		due := time.Now().UTC().Add(-time.Hour) // already due
		task := reminderTask(due, 30*time.Minute)
		if err := s.Handle(ctx, taskEnvelope(t, events.TopicTaskCreated, task)); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if err := s.Handle(ctx, taskEnvelope(t, topic, task)); err != nil {
			t.Fatalf("Handle(%s) error = %v", topic, err)
		}

		s.Tick(ctx)
		if envs := firedTopics(t, outbox); len(envs) != 0 {
			t.Fatalf("cancelled schedule fired on %s: %+v", topic, envs)
		}
		if store.schedules[task.ID].Status != StatusCancelled {
			t.Fatalf("Status = %s, want cancelled", store.schedules[task.ID].Status)
		}
	}
}

func TestTickFiresDueSchedules(t *testing.T) {
	s, store, outbox := newScheduler(t)
	ctx := context.Background()

	due := time.Now().UTC().Add(time.Minute)
	task := reminderTask(due, 2*time.Minute) // fire time already past
	if err := s.Handle(ctx, taskEnvelope(t, events.TopicTaskCreated, task)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	s.Tick(ctx)

	envs := firedTopics(t, outbox)
	if len(envs) != 1 {
		t.Fatalf("fired %d events, want 1", len(envs))
	}
	if envs[0].Topic != events.TopicReminderTriggered {
		t.Fatalf("Topic = %s, want %s", envs[0].Topic, events.TopicReminderTriggered)
	}
	if envs[0].OwnerID != "alice" || envs[0].TaskID != task.ID {
		t.Fatalf("envelope = %+v", envs[0])
	}
	if store.schedules[task.ID].Status != StatusFired {
		t.Fatalf("Status = %s, want fired", store.schedules[task.ID].Status)
	}
}

func TestTickDoesNotFireFutureSchedules(t *testing.T) {
	s, _, outbox := newScheduler(t)
	ctx := context.Background()

	due := time.Now().UTC().Add(2 * time.Hour)
	task := reminderTask(due, 30*time.Minute)
	if err := s.Handle(ctx, taskEnvelope(t, events.TopicTaskCreated, task)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	s.Tick(ctx)
	if envs := firedTopics(t, outbox); len(envs) != 0 {
		t.Fatalf("future schedule fired early: %+v", envs)
	}
}

func TestTickFiresEachScheduleOnce(t *testing.T) {
	s, _, outbox := newScheduler(t)
	ctx := context.Background()

	due := time.Now().UTC()
	task := reminderTask(due, time.Hour)
	if err := s.Handle(ctx, taskEnvelope(t, events.TopicTaskCreated, task)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	s.Tick(ctx)
	s.Tick(ctx)
	s.Tick(ctx)

	if envs := firedTopics(t, outbox); len(envs) != 1 {
		t.Fatalf("fired %d events across ticks, want exactly 1", len(envs))
	}
}

func TestStartCatchesUpMissedReminders(t *testing.T) {
	outbox := events.NewMemOutbox()
	store := NewMemStore(outbox)
	ctx := context.Background()

	// Schedule written by a previous run, already past due.
	if err := store.Upsert(ctx, Schedule{
		TaskID:  "task-1",
		OwnerID: "alice",
		FireAt:  time.Now().UTC().Add(-time.Hour),
		Status:  StatusPending,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	s := NewScheduler(Config{
		Store:     store,
		Publisher: events.NewReminderPublisher(),
		Interval:  time.Hour,
	})
	s.Start(ctx)
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		envs, err := outbox.Pending(ctx, 0)
		if err != nil {
			t.Fatalf("Pending() error = %v", err)
		}
		if len(envs) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("missed reminder not fired on startup, have %d events", len(envs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRescheduleAfterFireArmsAgain(t *testing.T) {
	s, _, outbox := newScheduler(t)
	ctx := context.Background()

	due := time.Now().UTC()
	task := reminderTask(due, time.Hour)
	if err := s.Handle(ctx, taskEnvelope(t, events.TopicTaskCreated, task)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	s.Tick(ctx)

	// An update re-arms the schedule even after it fired.
	past := time.Now().UTC().Add(-time.Minute)
	offset := time.Second
	task.DueDate = &past
	task.ReminderOffset = &offset
	if err := s.Handle(ctx, taskEnvelope(t, events.TopicTaskUpdated, task)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	s.Tick(ctx)

	if envs := firedTopics(t, outbox); len(envs) != 2 {
		t.Fatalf("fired %d events, want 2 after re-arm", len(envs))
	}
}
