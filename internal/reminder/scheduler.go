// Package reminder tracks due dates observed from task events and fires
// task.reminder_triggered at the right time. Schedules are persisted:
// a reminder that comes due while no scheduler is running fires late on
// the next tick rather than being dropped.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gmarchetti/donna/internal/events"
	"github.com/gmarchetti/donna/internal/observability"
	"github.com/gmarchetti/donna/internal/tasks"
)

const ConsumerName = "reminder-scheduler"

// Config holds the dependencies for the reminder scheduler.
type Config struct {
	Store     Store
	Publisher *events.Publisher
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Interval  time.Duration // poll interval; defaults to 10s if zero
	ClaimTTL  time.Duration // claim duration; defaults to 30s if zero
}

// Scheduler consumes task events to maintain schedules and runs the
// poll loop that fires due ones.
type Scheduler struct {
	store     Store
	publisher *events.Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	claimTTL  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	claimTTL := cfg.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		logger:    logger,
		metrics:   cfg.Metrics,
		interval:  interval,
		claimTTL:  claimTTL,
	}
}

// Register subscribes the scheduler to the task lifecycle topics.
func (s *Scheduler) Register(bus events.Bus) {
	bus.Subscribe(ConsumerName, []string{
		events.TopicTaskCreated,
		events.TopicTaskUpdated,
		events.TopicTaskCompleted,
		events.TopicTaskDeleted,
	}, s.Handle)
}

// Handle maintains the schedule row implied by one task event. Upsert
// and cancel are idempotent, so at-least-once redelivery is harmless.
func (s *Scheduler) Handle(ctx context.Context, env events.Envelope) error {
	switch env.Topic {
	case events.TopicTaskCompleted, events.TopicTaskDeleted:
		if err := s.store.Cancel(ctx, env.OwnerID, env.TaskID); err != nil {
			return fmt.Errorf("cancel schedule: %w", err)
		}
		s.metrics.ObserveConsumed(ConsumerName, "cancelled")
		return nil
	case events.TopicTaskCreated, events.TopicTaskUpdated:
	default:
		return nil
	}

	var task tasks.Task
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &task); err != nil {
			s.logger.Error("reminder: undecodable task payload", "event_id", env.ID, "error", err)
			s.metrics.ObserveConsumed(ConsumerName, "bad_payload")
			return nil
		}
	}
	if task.DueDate == nil || task.ReminderOffset == nil {
		s.metrics.ObserveConsumed(ConsumerName, "skipped")
		return nil
	}

	now := time.Now().UTC()
	if err := s.store.Upsert(ctx, Schedule{
		TaskID:    env.TaskID,
		OwnerID:   env.OwnerID,
		FireAt:    task.DueDate.Add(-*task.ReminderOffset),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	s.metrics.ObserveConsumed(ConsumerName, "scheduled")
	return nil
}

// Start begins the poll loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("reminder scheduler started", "interval", s.interval)
}

// Stop cancels the poll loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("reminder scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup so reminders that came due while the
	// process was down are caught up right away.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick claims due schedules and fires each one.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueAndClaim(ctx, now, s.claimTTL, 0)
	if err != nil {
		s.logger.Error("reminder: failed to claim due schedules", "error", err)
		return
	}
	for _, sched := range due {
		s.fire(ctx, sched)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched Schedule) {
	env, err := s.publisher.Envelope(events.TopicReminderTriggered, sched.OwnerID, sched.TaskID, Triggered{
		TaskID:  sched.TaskID,
		OwnerID: sched.OwnerID,
		FireAt:  sched.FireAt,
	})
	if err != nil {
		s.logger.Error("reminder: envelope rejected", "task_id", sched.TaskID, "error", err)
		return
	}
	if err := s.store.MarkFired(ctx, sched.TaskID, env); err != nil {
		// The claim expires and the next tick retries the fire.
		s.logger.Error("reminder: failed to fire schedule",
			"task_id", sched.TaskID,
			"owner_id", sched.OwnerID,
			"error", err,
		)
		return
	}

	if s.metrics != nil {
		s.metrics.ReminderFired()
	}
	s.logger.Info("reminder: schedule fired",
		"task_id", sched.TaskID,
		"owner_id", sched.OwnerID,
		"fire_at", sched.FireAt,
	)
}
