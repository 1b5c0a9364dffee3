package events

import (
	"context"
	"log/slog"

	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// NotificationsTopic carries notification envelopes fanned out from the outbox.
const NotificationsTopic = "ledger.notifications.v1"

// Bus is the subset of the platform message bus the publisher needs.
type Bus interface {
	Publish(ctx context.Context, topic string, event ports.EventEnvelope) error
}

// Publisher forwards notification envelopes onto the message bus.
type Publisher struct {
	bus    Bus
	topic  string
	logger *slog.Logger
}

func NewPublisher(bus Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bus: bus, topic: NotificationsTopic, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, event ports.EventEnvelope) error {
	if err := p.bus.Publish(ctx, p.topic, event); err != nil {
		p.logger.Error("notification publish failed",
			"event", "ledger_notification_publish_failed",
			"module", "finance-core/ledger-service",
			"layer", "adapter",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"error", err.Error(),
		)
		return err
	}
	p.logger.Info("notification published",
		"event", "ledger_notification_published",
		"module", "finance-core/ledger-service",
		"layer", "adapter",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"partition_key", event.PartitionKey,
	)
	return nil
}

var _ ports.EventPublisher = (*Publisher)(nil)
