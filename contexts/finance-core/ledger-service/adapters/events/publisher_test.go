package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

type recordingBus struct {
	topics []string
	events []ports.EventEnvelope
	err    error
}

func (b *recordingBus) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	if b.err != nil {
		return b.err
	}
	b.topics = append(b.topics, topic)
	b.events = append(b.events, event)
	return nil
}

func TestPublisherUsesNotificationsTopic(t *testing.T) {
	bus := &recordingBus{}
	publisher := NewPublisher(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	envelope := ports.EventEnvelope{EventID: "evt-1", EventType: "transaction.approved", TenantID: "tenant-1"}
	if err := publisher.Publish(context.Background(), envelope); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(bus.topics) != 1 || bus.topics[0] != NotificationsTopic {
		t.Fatalf("expected one publish on %q, got %v", NotificationsTopic, bus.topics)
	}
	if bus.events[0].EventID != "evt-1" {
		t.Fatalf("unexpected envelope %+v", bus.events[0])
	}
}

func TestPublisherReturnsBusError(t *testing.T) {
	failure := errors.New("bus down")
	publisher := NewPublisher(&recordingBus{err: failure}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := publisher.Publish(context.Background(), ports.EventEnvelope{EventID: "evt-1"}); !errors.Is(err, failure) {
		t.Fatalf("expected bus error, got %v", err)
	}
}
