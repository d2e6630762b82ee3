package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gmarchetti/donna/internal/observability"
)

const (
	defaultRelayInterval = 250 * time.Millisecond
	defaultRelayBatch    = 128
)

// Relay moves committed outbox rows onto the bus. It is the only reader
// of the outbox, which keeps the bus seeing events in commit order and
// therefore in per-owner order.
type Relay struct {
	outbox   Outbox
	bus      Bus
	logger   *slog.Logger
	metrics  *observability.Metrics
	interval time.Duration
	batch    int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type RelayConfig struct {
	Outbox   Outbox
	Bus      Bus
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Interval time.Duration // poll interval; defaults to 250ms if zero
	Batch    int
}

func NewRelay(cfg RelayConfig) *Relay {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = defaultRelayBatch
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		outbox:   cfg.Outbox,
		bus:      cfg.Bus,
		logger:   logger,
		metrics:  cfg.Metrics,
		interval: interval,
		batch:    batch,
	}
}

func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("outbox relay started", "interval", r.interval)
}

func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("outbox relay stopped")
}

func (r *Relay) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Drain immediately on startup so events committed before a restart
	// are relayed without waiting a full interval.
	r.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain publishes every pending envelope, batch by batch. A storage
// error ends the pass; the next tick retries, so a transient failure
// delays events rather than dropping them.
func (r *Relay) drain(ctx context.Context) {
	for {
		batch, err := r.outbox.Pending(ctx, r.batch)
		if err != nil {
			r.logger.Error("relay: pending query failed", "error", err)
			return
		}
		if len(batch) == 0 {
			return
		}

		published := make([]string, 0, len(batch))
		handled := make([]<-chan struct{}, 0, len(batch))
		for _, env := range batch {
			h, err := r.bus.PublishHandled(ctx, env)
			if err != nil {
				r.logger.Error("relay: publish failed",
					"topic", env.Topic,
					"event_id", env.ID,
					"error", err,
				)
				break
			}
			r.metrics.ObservePublished(env.Topic)
			published = append(published, env.ID)
			handled = append(handled, h)
		}

		// Rows are marked only after every consumer finished with the
		// envelope. A crash before the mark redelivers on restart and
		// the event-id dedup absorbs the duplicate; nothing is lost.
		for _, h := range handled {
			select {
			case <-h:
			case <-ctx.Done():
				return
			}
		}

		if len(published) > 0 {
			if err := r.outbox.MarkPublished(ctx, published); err != nil {
				// Rows stay pending and will be republished next tick;
				// consumers tolerate the duplicates via the event id.
				r.logger.Error("relay: mark published failed", "error", err)
				return
			}
		}
		if len(published) < len(batch) {
			return
		}
	}
}
