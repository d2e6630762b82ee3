package audit

import (
	"context"
	"sync"

	"github.com/gmarchetti/donna/internal/events"
)

// MemStore is the in-process audit store for local/dev use and tests.
// Entries are kept per month key, mirroring the Postgres partitioning.
type MemStore struct {
	mu      sync.RWMutex
	byMonth map[string][]events.Envelope
	seen    map[string]bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		byMonth: make(map[string][]events.Envelope),
		seen:    make(map[string]bool),
	}
}

func (s *MemStore) Append(_ context.Context, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[env.ID] {
		return nil
	}
	s.seen[env.ID] = true
	month := env.EmittedAt.UTC().Format("200601")
	s.byMonth[month] = append(s.byMonth[month], env)
	return nil
}

// Entries returns the stored envelopes for a month key (YYYYMM).
func (s *MemStore) Entries(month string) []events.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.Envelope, len(s.byMonth[month]))
	copy(out, s.byMonth[month])
	return out
}

func (s *MemStore) Close() error { return nil }
