package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gmarchetti/donna/internal/events"
)

// MemStore is the in-process task store for local/dev use and tests.
// Mutations append to the outbox under the store lock, which stands in
// for the transactional coupling the Postgres store gets for free.
type MemStore struct {
	mu     sync.RWMutex
	tasks  map[string]Task
	outbox events.Outbox
}

func NewMemStore(outbox events.Outbox) *MemStore {
	return &MemStore{
		tasks:  make(map[string]Task),
		outbox: outbox,
	}
}

func (s *MemStore) Create(ctx context.Context, task Task, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return s.outbox.Append(ctx, env)
}

func (s *MemStore) Get(_ context.Context, ownerID, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok || task.OwnerID != ownerID {
		return Task{}, ErrStoreNotFound
	}
	return task.Clone(), nil
}

func (s *MemStore) List(_ context.Context, ownerID string, filter Filter) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, 16)
	for _, task := range s.tasks {
		if task.OwnerID != ownerID {
			continue
		}
		switch filter {
		case FilterPending:
			if task.Completed {
				continue
			}
		case FilterCompleted:
			if !task.Completed {
				continue
			}
		}
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemStore) Update(ctx context.Context, task Task, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tasks[task.ID]
	if !ok || existing.OwnerID != task.OwnerID {
		return ErrStoreNotFound
	}
	s.tasks[task.ID] = task.Clone()
	return s.outbox.Append(ctx, env)
}

func (s *MemStore) Complete(ctx context.Context, ownerID, taskID string, env events.Envelope) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.OwnerID != ownerID {
		return Task{}, false, ErrStoreNotFound
	}
	if task.Completed {
		return task.Clone(), false, nil
	}
	task.Completed = true
	task.UpdatedAt = time.Now().UTC()
	s.tasks[taskID] = task
	if err := s.outbox.Append(ctx, env); err != nil {
		return Task{}, false, err
	}
	return task.Clone(), true, nil
}

func (s *MemStore) Delete(ctx context.Context, ownerID, taskID string, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.OwnerID != ownerID {
		return ErrStoreNotFound
	}
	delete(s.tasks, taskID)
	return s.outbox.Append(ctx, env)
}

func (s *MemStore) Close() error { return nil }
