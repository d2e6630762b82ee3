package reminder

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gmarchetti/donna/internal/events"
)

// MemStore is the in-process schedule store for local/dev use and tests.
type MemStore struct {
	mu        sync.Mutex
	schedules map[string]Schedule
	claims    map[string]time.Time
	outbox    events.Outbox
}

func NewMemStore(outbox events.Outbox) *MemStore {
	return &MemStore{
		schedules: make(map[string]Schedule),
		claims:    make(map[string]time.Time),
		outbox:    outbox,
	}
}

func (s *MemStore) Upsert(_ context.Context, sched Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched.Status = StatusPending
	s.schedules[sched.TaskID] = sched
	delete(s.claims, sched.TaskID)
	return nil
}

func (s *MemStore) Cancel(_ context.Context, ownerID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[taskID]
	if !ok || sched.OwnerID != ownerID || sched.Status != StatusPending {
		return nil
	}
	sched.Status = StatusCancelled
	sched.UpdatedAt = time.Now().UTC()
	s.schedules[taskID] = sched
	return nil
}

func (s *MemStore) DueAndClaim(_ context.Context, now time.Time, ttl time.Duration, limit int) ([]Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]Schedule, 0, limit)
	for id, sched := range s.schedules {
		if sched.Status != StatusPending || sched.FireAt.After(now) {
			continue
		}
		if until, claimed := s.claims[id]; claimed && until.After(now) {
			continue
		}
		s.claims[id] = now.Add(ttl)
		out = append(out, sched)
		if len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (s *MemStore) MarkFired(ctx context.Context, taskID string, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[taskID]
	if !ok || sched.Status != StatusPending {
		return nil
	}
	sched.Status = StatusFired
	sched.UpdatedAt = time.Now().UTC()
	s.schedules[taskID] = sched
	delete(s.claims, taskID)
	return s.outbox.Append(ctx, env)
}

func (s *MemStore) Close() error { return nil }
