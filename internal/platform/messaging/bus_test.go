package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	contractsv1 "ledgerflow/contracts/gen/events/v1"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBusDeliversToEverySubscriber(t *testing.T) {
	bus := NewBus(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan contractsv1.Envelope, 1)
	second := make(chan contractsv1.Envelope, 1)
	bus.Subscribe(ctx, "topic-a", "group-1", func(_ context.Context, event contractsv1.Envelope) error {
		first <- event
		return nil
	})
	bus.Subscribe(ctx, "topic-a", "group-2", func(_ context.Context, event contractsv1.Envelope) error {
		second <- event
		return errors.New("handler errors are logged, not returned")
	})
	bus.Subscribe(ctx, "topic-b", "group-3", func(_ context.Context, event contractsv1.Envelope) error {
		t.Errorf("unexpected delivery on topic-b: %s", event.EventID)
		return nil
	})

	if err := bus.Publish(ctx, "topic-a", contractsv1.Envelope{EventID: "evt-1", EventType: "transaction.approved"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, ch := range []chan contractsv1.Envelope{first, second} {
		select {
		case event := <-ch:
			if event.EventID != "evt-1" {
				t.Fatalf("unexpected event %q", event.EventID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery")
		}
	}
}

func TestBusUnsubscribesOnCancel(t *testing.T) {
	bus := NewBus(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	bus.Subscribe(ctx, "topic-a", "group-1", func(context.Context, contractsv1.Envelope) error { return nil })
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.mu.RLock()
		remaining := len(bus.subscribers["topic-a"])
		bus.mu.RUnlock()
		if remaining == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscriber still registered after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBusPublishHonorsCancelledContext(t *testing.T) {
	bus := NewBus(quietLogger())
	subCtx, stop := context.WithCancel(context.Background())
	defer stop()
	bus.Subscribe(subCtx, "topic-a", "group-1", func(context.Context, contractsv1.Envelope) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := bus.Publish(ctx, "topic-a", contractsv1.Envelope{EventID: "evt-1"})
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("expected nil or context.Canceled, got %v", err)
	}
}
