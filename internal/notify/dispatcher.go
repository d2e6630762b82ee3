// Package notify fans task and reminder events out to connected
// clients. Delivery is best effort: a disconnected client simply misses
// events, and a slow client loses its oldest queued events instead of
// stalling the bus.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gmarchetti/donna/internal/events"
	"github.com/gmarchetti/donna/internal/observability"
)

const ConsumerName = "notification-dispatcher"

const defaultClientQueue = 64

// Client is one connected push-channel client, scoped to an owner.
type Client struct {
	ownerID string
	ch      chan events.Envelope
}

// Ch returns the channel to receive the owner's events on.
func (c *Client) Ch() <-chan events.Envelope {
	return c.ch
}

// Dispatcher routes each event to the clients of its owner.
type Dispatcher struct {
	mu        sync.RWMutex
	clients   map[string]map[*Client]bool
	queueSize int
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func NewDispatcher(queueSize int, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultClientQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		clients:   make(map[string]map[*Client]bool),
		queueSize: queueSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// Register subscribes the dispatcher to every topic on the bus.
func (d *Dispatcher) Register(bus events.Bus) {
	bus.Subscribe(ConsumerName, events.AllTopics(), d.Handle)
}

// Connect adds a client for the owner and returns it with its
// disconnect function.
func (d *Dispatcher) Connect(ownerID string) (*Client, func()) {
	client := &Client{
		ownerID: ownerID,
		ch:      make(chan events.Envelope, d.queueSize),
	}

	d.mu.Lock()
	if _, ok := d.clients[ownerID]; !ok {
		d.clients[ownerID] = make(map[*Client]bool)
	}
	d.clients[ownerID][client] = true
	d.mu.Unlock()

	d.metrics.ClientConnected()

	var once sync.Once
	return client, func() {
		once.Do(func() {
			d.mu.Lock()
			owners := d.clients[ownerID]
			if owners != nil && owners[client] {
				delete(owners, client)
				close(client.ch)
				if len(owners) == 0 {
					delete(d.clients, ownerID)
				}
			}
			d.mu.Unlock()
			d.metrics.ClientDisconnected()
		})
	}
}

// Handle enqueues the event for every client of its owner. A full queue
// drops the client's oldest event to make room; the handler itself never
// blocks, so other consumers and the bus stay unaffected.
func (d *Dispatcher) Handle(_ context.Context, env events.Envelope) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for client := range d.clients[env.OwnerID] {
		d.enqueue(client, env)
	}
	d.metrics.ObserveConsumed(ConsumerName, "ok")
	return nil
}

func (d *Dispatcher) enqueue(client *Client, env events.Envelope) {
	for {
		select {
		case client.ch <- env:
			return
		default:
		}
		// Queue full: drop the oldest queued event to make room.
		select {
		case <-client.ch:
			d.metrics.NotificationDropped()
		default:
		}
	}
}
