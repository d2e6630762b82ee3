package events

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gmarchetti/donna/internal/observability"
)

const (
	defaultPartitions   = 8
	defaultQueueSize    = 256
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 100 * time.Millisecond
)

// Handler processes one delivered envelope. Handlers must be idempotent
// on the envelope id: delivery is at-least-once.
type Handler func(ctx context.Context, env Envelope) error

// Bus is an ordered, partitioned, at-least-once delivery channel.
// Ordering holds per owner id only; cross-owner ordering is unspecified.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	PublishHandled(ctx context.Context, env Envelope) (<-chan struct{}, error)
	Subscribe(name string, topics []string, h Handler)
}

// delivery pairs an envelope with a completion callback. Workers call
// done after the handler ran to completion, including the dead-letter
// path.
type delivery struct {
	env  Envelope
	done func()
}

type subscriber struct {
	name   string
	topics map[string]bool
	h      Handler
	queues []chan delivery
}

func (s *subscriber) wants(topic string) bool {
	return len(s.topics) == 0 || s.topics[topic]
}

// BusConfig holds the tunables for the in-process bus.
type BusConfig struct {
	Partitions   int
	QueueSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
	DeadLetters  DeadLetterStore
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// InProcBus delivers envelopes to subscribers over per-partition worker
// goroutines. Each subscriber gets its own queues and workers, so a slow
// or failing consumer never stalls another consumer's deliveries.
type InProcBus struct {
	cfg  BusConfig
	mu   sync.Mutex
	subs []*subscriber

	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewInProcBus(cfg BusConfig) *InProcBus {
	if cfg.Partitions <= 0 {
		cfg.Partitions = defaultPartitions
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &InProcBus{cfg: cfg}
}

// Subscribe registers a named consumer for the given topics. An empty
// topic list subscribes to everything. Subscribe must be called before
// Start.
func (b *InProcBus) Subscribe(name string, topics []string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic("bus: Subscribe after Start")
	}
	sub := &subscriber{
		name:   name,
		topics: make(map[string]bool, len(topics)),
		h:      h,
		queues: make([]chan delivery, b.cfg.Partitions),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}
	for i := range sub.queues {
		sub.queues[i] = make(chan delivery, b.cfg.QueueSize)
	}
	b.subs = append(b.subs, sub)
}

// Start spawns one worker goroutine per subscriber per partition.
func (b *InProcBus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(ctx)
	for _, sub := range b.subs {
		for _, q := range sub.queues {
			b.wg.Add(1)
			go b.work(sub, q)
		}
	}
}

// Stop cancels the workers and waits for them to drain out.
func (b *InProcBus) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

// Publish enqueues the envelope on each matching subscriber's partition
// for the envelope's owner. Enqueueing blocks when a queue is full, so
// backpressure lands on the publisher (the outbox relay) rather than
// events being lost.
func (b *InProcBus) Publish(ctx context.Context, env Envelope) error {
	_, err := b.PublishHandled(ctx, env)
	return err
}

// PublishHandled enqueues the envelope like Publish and additionally
// returns a channel that closes once every matching subscriber has
// finished with it, successfully or into the dead-letter store. The
// relay waits on it before marking the outbox row published, so a crash
// mid-delivery redelivers on restart instead of losing the event.
func (b *InProcBus) PublishHandled(ctx context.Context, env Envelope) (<-chan struct{}, error) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus: publish before Start")
	}
	subs := b.subs
	b.mu.Unlock()

	p := b.partition(env.OwnerID)
	targets := make([]chan delivery, 0, len(subs))
	for _, sub := range subs {
		if sub.wants(env.Topic) {
			targets = append(targets, sub.queues[p])
		}
	}

	handled := make(chan struct{})
	if len(targets) == 0 {
		close(handled)
		return handled, nil
	}
	remaining := int64(len(targets))
	done := func() {
		if atomic.AddInt64(&remaining, -1) == 0 {
			close(handled)
		}
	}
	for _, q := range targets {
		select {
		case q <- delivery{env: env, done: done}:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.ctx.Done():
			return nil, b.ctx.Err()
		}
	}
	return handled, nil
}

func (b *InProcBus) partition(ownerID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ownerID))
	return int(h.Sum32() % uint32(b.cfg.Partitions))
}

func (b *InProcBus) work(sub *subscriber, q chan delivery) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case d := <-q:
			b.deliver(sub, d.env)
			d.done()
		}
	}
}

// deliver invokes the handler with bounded retries. After the attempts
// are exhausted the envelope goes to the dead-letter store instead of
// being dropped.
func (b *InProcBus) deliver(sub *subscriber, env Envelope) {
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		lastErr = sub.h(b.ctx, env)
		if lastErr == nil {
			return
		}
		if b.ctx.Err() != nil {
			return
		}
		if attempt < b.cfg.MaxAttempts {
			backoff := b.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-b.ctx.Done():
				return
			}
		}
	}

	b.cfg.Logger.Error("bus: handler failed, dead-lettering",
		"consumer", sub.name,
		"topic", env.Topic,
		"event_id", env.ID,
		"attempts", b.cfg.MaxAttempts,
		"error", lastErr,
	)
	b.cfg.Metrics.DeadLettered()
	if b.cfg.DeadLetters == nil {
		return
	}
	dl := DeadLetter{
		Consumer: sub.name,
		Envelope: env,
		Reason:   lastErr.Error(),
		Attempts: b.cfg.MaxAttempts,
		FailedAt: time.Now().UTC(),
	}
	if err := b.cfg.DeadLetters.Append(b.ctx, dl); err != nil {
		b.cfg.Logger.Error("bus: dead-letter append failed",
			"consumer", sub.name,
			"event_id", env.ID,
			"error", err,
		)
	}
}
