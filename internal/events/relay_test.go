package events

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestRelayPublishesPendingInOrder(t *testing.T) {
	outbox := NewMemOutbox()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env := NewEnvelope(TopicTaskCreated, "owner", "t", nil)
		env.ID = fmt.Sprintf("ev-%d", i)
		if err := outbox.Append(ctx, env); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	bus := NewInProcBus(BusConfig{})
	got := make(chan string, 8)
	bus.Subscribe("recorder", nil, func(_ context.Context, env Envelope) error {
		got <- env.ID
		return nil
	})
	bus.Start(ctx)
	defer bus.Stop()

	relay := NewRelay(RelayConfig{Outbox: outbox, Bus: bus, Interval: 10 * time.Millisecond})
	relay.Start(ctx)
	defer relay.Stop()

	for i := 0; i < 5; i++ {
		select {
		case id := <-got:
			want := fmt.Sprintf("ev-%d", i)
			if id != want {
				t.Fatalf("delivery %d = %s, want %s", i, id, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d deliveries", i)
		}
	}

	// Everything got marked published, so the outbox drains for good.
	deadline := time.Now().Add(time.Second)
	for {
		pending, err := outbox.Pending(ctx, 0)
		if err != nil {
			t.Fatalf("Pending() error = %v", err)
		}
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("outbox still has %d pending rows", len(pending))
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case id := <-got:
		t.Fatalf("relay republished %s after marking", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelayMarksPublishedAfterHandlersFinish(t *testing.T) {
	outbox := NewMemOutbox()
	ctx := context.Background()
	env := NewEnvelope(TopicTaskCreated, "owner", "t", nil)
	if err := outbox.Append(ctx, env); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	bus := NewInProcBus(BusConfig{})
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	bus.Subscribe("slow", nil, func(_ context.Context, _ Envelope) error {
		entered <- struct{}{}
		<-release
		return nil
	})
	bus.Start(ctx)
	defer bus.Stop()

	relay := NewRelay(RelayConfig{Outbox: outbox, Bus: bus, Interval: 10 * time.Millisecond})
	relay.Start(ctx)
	defer relay.Stop()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never saw the envelope")
	}

	// The handler is still inside the envelope, so the row must stay
	// pending; a restart here redelivers instead of losing the event.
	time.Sleep(50 * time.Millisecond)
	pending, err := outbox.Pending(ctx, 0)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending rows = %d while the handler runs, want 1", len(pending))
	}

	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		pending, err := outbox.Pending(ctx, 0)
		if err != nil {
			t.Fatalf("Pending() error = %v", err)
		}
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("row never marked published after handler finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayPicksUpLateAppends(t *testing.T) {
	outbox := NewMemOutbox()
	ctx := context.Background()

	bus := NewInProcBus(BusConfig{})
	got := make(chan string, 2)
	bus.Subscribe("recorder", nil, func(_ context.Context, env Envelope) error {
		got <- env.ID
		return nil
	})
	bus.Start(ctx)
	defer bus.Stop()

	relay := NewRelay(RelayConfig{Outbox: outbox, Bus: bus, Interval: 10 * time.Millisecond})
	relay.Start(ctx)
	defer relay.Stop()

	env := NewEnvelope(TopicTaskCompleted, "owner", "t", nil)
	if err := outbox.Append(ctx, env); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	select {
	case id := <-got:
		if id != env.ID {
			t.Fatalf("delivered %s, want %s", id, env.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("appended envelope never relayed")
	}
}
