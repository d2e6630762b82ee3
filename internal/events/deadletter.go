package events

import (
	"context"
	"sync"
	"time"
)

// DeadLetter holds an envelope a consumer repeatedly failed to process,
// kept for inspection instead of silent loss.
type DeadLetter struct {
	Consumer string    `json:"consumer"`
	Envelope Envelope  `json:"envelope"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

type DeadLetterStore interface {
	Append(ctx context.Context, dl DeadLetter) error
	List(ctx context.Context, consumer string, limit int) ([]DeadLetter, error)
}

// MemDeadLetters is the in-process dead-letter store for local/dev use
// and tests.
type MemDeadLetters struct {
	mu      sync.Mutex
	letters []DeadLetter
}

func NewMemDeadLetters() *MemDeadLetters {
	return &MemDeadLetters{}
}

func (s *MemDeadLetters) Append(_ context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, dl)
	return nil
}

func (s *MemDeadLetters) List(_ context.Context, consumer string, limit int) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetter, 0, limit)
	for _, dl := range s.letters {
		if consumer != "" && dl.Consumer != consumer {
			continue
		}
		out = append(out, dl)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
