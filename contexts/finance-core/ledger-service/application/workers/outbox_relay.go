package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// DeliveryHandler consumes one claimed outbox event. Handlers run at least
// once per event and must tolerate re-delivery.
type DeliveryHandler interface {
	Name() string
	Deliver(ctx context.Context, event entities.OutboxEvent, payload entities.EventPayload) error
}

// OutboxRelay claims due outbox events and drives them to DONE, FAILED or DEAD.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Handlers  []DeliveryHandler
	Clock     ports.Clock
	Policy    services.RetryPolicy
	Observer  ports.PipelineObserver
	BatchSize int
	Logger    *slog.Logger
}

type Filter struct {
	TenantID string
	EventID  string
}

func (r OutboxRelay) RunOnce(ctx context.Context, filter Filter) (entities.RunCounters, error) {
	logger := application.ResolveLogger(r.Logger)
	observer := application.ResolveObserver(r.Observer)
	now := resolveNow(r.Clock)

	var counters entities.RunCounters
	due, err := r.Outbox.ListDueOutbox(ctx, ports.WorkFilter{
		TenantID:    filter.TenantID,
		EventID:     filter.EventID,
		Now:         now,
		StaleBefore: r.Policy.StaleBefore(now),
		Limit:       batchSize(r.BatchSize),
	})
	if err != nil {
		logger.Error("outbox list failed",
			"event", "ledger_outbox_list_failed",
			"module", application.Module,
			"layer", "worker",
			"error", err.Error(),
		)
		return counters, err
	}
	counters.Scanned = len(due)

	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return counters, err
		}
		event, claimed, err := r.Outbox.ClaimOutbox(ctx, candidate.ID, now, r.Policy.StaleBefore(now))
		if err != nil {
			logger.Error("outbox claim failed",
				"event", "ledger_outbox_claim_failed",
				"module", application.Module,
				"layer", "worker",
				"outbox_id", candidate.ID,
				"error", err.Error(),
			)
			return counters, err
		}
		if !claimed {
			continue
		}
		counters.Processed++

		deliverErr := r.deliver(ctx, event)
		if deliverErr == nil {
			if err := r.Outbox.CompleteOutbox(ctx, event.ID, resolveNow(r.Clock)); err != nil {
				return counters, err
			}
			counters.Succeeded++
			observer.ObserveOutbox("done")
			continue
		}

		dead, nextAttemptAt := r.Policy.OnFailure(event.Attempts, now)
		if err := r.Outbox.RetryOutbox(ctx, ports.RetryInput{
			ID:            event.ID,
			LastError:     deliverErr.Error(),
			NextAttemptAt: nextAttemptAt,
			Dead:          dead,
			Now:           resolveNow(r.Clock),
		}); err != nil {
			return counters, err
		}
		if dead {
			counters.Dead++
			observer.ObserveOutbox("dead")
		} else {
			counters.Failed++
			observer.ObserveOutbox("failed")
		}
		logger.Warn("outbox delivery failed",
			"event", "ledger_outbox_delivery_failed",
			"module", application.Module,
			"layer", "worker",
			"outbox_id", event.ID,
			"event_type", event.EventType,
			"attempts", event.Attempts,
			"dead", dead,
			"next_attempt_at", nextAttemptAt,
			"error", deliverErr.Error(),
		)
	}
	return counters, nil
}

func (r OutboxRelay) deliver(ctx context.Context, event entities.OutboxEvent) error {
	payload, err := services.DecodeEventPayload(event.Payload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	for _, handler := range r.Handlers {
		if err := handler.Deliver(ctx, event, payload); err != nil {
			return fmt.Errorf("%s: %w", handler.Name(), err)
		}
	}
	return nil
}

func resolveNow(clock ports.Clock) time.Time {
	if clock != nil {
		return clock.Now().UTC()
	}
	return time.Now().UTC()
}

func batchSize(size int) int {
	if size <= 0 {
		return 100
	}
	return size
}
