package events

import (
	"context"
	"sync"
)

// ProcessedStore is a consumer-side idempotency record. Each consumer
// keeps its own record: the bus never deduplicates on a consumer's
// behalf.
type ProcessedStore interface {
	// Seen reports whether the consumer already processed the event.
	Seen(ctx context.Context, consumer, eventID string) (bool, error)
	// MarkProcessed records the (consumer, event id) pair and reports
	// whether this call was the first to do so.
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
}

// MemProcessed is the in-process idempotency record for local/dev use
// and tests.
type MemProcessed struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemProcessed() *MemProcessed {
	return &MemProcessed{seen: make(map[string]bool)}
}

func (s *MemProcessed) Seen(_ context.Context, consumer, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[consumer+"\x00"+eventID], nil
}

func (s *MemProcessed) MarkProcessed(_ context.Context, consumer, eventID string) (bool, error) {
	key := consumer + "\x00" + eventID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}
