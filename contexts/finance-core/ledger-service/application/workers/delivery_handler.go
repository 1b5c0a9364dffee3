package workers

import (
	"context"
	"encoding/json"
	"log/slog"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

const fanoutHandlerName = "fanout"

// FanoutHandler is the default delivery handler. It enqueues read-view jobs,
// creates and publishes notifications, and records its receipt last. Jobs,
// notifications and receipts are create-if-absent, so re-delivery adds no rows;
// publishing is at-least-once.
type FanoutHandler struct {
	Receipts      ports.DeliveryReceiptStore
	Queue         ports.WorkQueueRepository
	Notifications ports.NotificationStore
	Documents     ports.DocumentStore
	Publisher     ports.EventPublisher
	Policy        entities.RolePolicy
	Clock         ports.Clock
	SourceService string
	Logger        *slog.Logger
}

func (h FanoutHandler) Name() string { return fanoutHandlerName }

func (h FanoutHandler) Deliver(ctx context.Context, event entities.OutboxEvent, payload entities.EventPayload) error {
	logger := application.ResolveLogger(h.Logger)
	now := resolveNow(h.Clock)
	plan := services.PlanDelivery(payload)

	for _, spec := range plan.Jobs {
		job, err := entities.NewJob(event.TenantID, event.ID, spec.View, spec.Key, "", now)
		if err != nil {
			return err
		}
		if _, err := h.Queue.EnqueueJob(ctx, job); err != nil {
			return err
		}
	}

	for _, spec := range plan.Notifications {
		recipients, err := h.recipients(ctx, event.TenantID, payload.ActorID, spec)
		if err != nil {
			return err
		}
		for _, recipient := range recipients {
			notification := entities.Notification{
				ID:          services.NotificationID(event.ID, recipient, spec.Kind),
				TenantID:    event.TenantID,
				RecipientID: recipient,
				EventID:     event.ID,
				Kind:        spec.Kind,
				EntityType:  event.EntityType,
				EntityID:    event.EntityID,
				Message:     spec.Message,
				CreatedAt:   now,
			}
			if _, err := h.Notifications.CreateNotification(ctx, notification); err != nil {
				return err
			}
			if err := h.publish(ctx, notification); err != nil {
				return err
			}
		}
	}

	created, err := h.Receipts.RecordDelivery(ctx, entities.DeliveryReceipt{
		EventID:     event.ID,
		Handler:     fanoutHandlerName,
		TenantID:    event.TenantID,
		DeliveredAt: now,
	})
	if err != nil {
		return err
	}
	logger.Debug("outbox event fanned out",
		"event", "ledger_fanout_delivered",
		"module", application.Module,
		"layer", "worker",
		"outbox_id", event.ID,
		"jobs", len(plan.Jobs),
		"notifications", len(plan.Notifications),
		"redelivery", !created,
	)
	return nil
}

func (h FanoutHandler) recipients(
	ctx context.Context,
	tenantID string,
	actorID string,
	spec services.NotificationSpec,
) ([]string, error) {
	if spec.RecipientPermission == "" {
		return []string{spec.RecipientID}, nil
	}
	members, err := h.Documents.ListDocuments(ctx, tenantID, entities.EntityTypeMember)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(members))
	for _, member := range members {
		if !h.Policy.HasPermission(member.StringField("role"), spec.RecipientPermission) {
			continue
		}
		userID := member.StringField("userId")
		if userID == "" {
			userID = member.Key.ID
		}
		if userID == actorID {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		out = append(out, userID)
	}
	return out, nil
}

func (h FanoutHandler) publish(ctx context.Context, notification entities.Notification) error {
	if h.Publisher == nil {
		return nil
	}
	data, err := json.Marshal(map[string]any{
		"notificationId": notification.ID,
		"recipientId":    notification.RecipientID,
		"kind":           notification.Kind,
		"message":        notification.Message,
	})
	if err != nil {
		return err
	}
	return h.Publisher.Publish(ctx, ports.EventEnvelope{
		EventID:          notification.ID,
		EventType:        "notification." + notification.Kind,
		TenantID:         notification.TenantID,
		EntityType:       notification.EntityType,
		EntityID:         notification.EntityID,
		OccurredAt:       notification.CreatedAt,
		SourceService:    h.SourceService,
		SchemaVersion:    1,
		PartitionKeyPath: "tenant_id",
		PartitionKey:     notification.TenantID,
		Data:             data,
	})
}
