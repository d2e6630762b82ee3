package events

import (
	"context"
	"sync"
)

// Outbox buffers committed envelopes until the relay hands them to the
// bus. Producers append in the same storage transaction that commits
// the state change, so a committed mutation can never lose its event.
type Outbox interface {
	// Append records an envelope as pending. Used by producers whose
	// store has no transactional coupling (the in-memory stores); the
	// Postgres stores append inside their own transactions instead.
	Append(ctx context.Context, env Envelope) error
	// Pending returns unpublished envelopes in insert order.
	Pending(ctx context.Context, limit int) ([]Envelope, error)
	// MarkPublished flags the given event ids as handed to the bus.
	MarkPublished(ctx context.Context, ids []string) error
}

// MemOutbox is the in-process outbox for local/dev use and tests.
type MemOutbox struct {
	mu        sync.Mutex
	pending   []Envelope
	published map[string]bool
}

func NewMemOutbox() *MemOutbox {
	return &MemOutbox{published: make(map[string]bool)}
}

func (o *MemOutbox) Append(_ context.Context, env Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, env)
	return nil
}

func (o *MemOutbox) Pending(_ context.Context, limit int) ([]Envelope, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Envelope, 0, limit)
	for _, env := range o.pending {
		if o.published[env.ID] {
			continue
		}
		out = append(out, env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (o *MemOutbox) MarkPublished(_ context.Context, ids []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		o.published[id] = true
	}
	// Compact fully-published prefix so the slice does not grow forever.
	i := 0
	for i < len(o.pending) && o.published[o.pending[i].ID] {
		delete(o.published, o.pending[i].ID)
		i++
	}
	o.pending = o.pending[i:]
	return nil
}
