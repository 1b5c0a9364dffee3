package services

import (
	"encoding/json"
	"strings"
	"time"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
)

// OutboxSpec is what a caller knows about the event before the write runs.
// Before/after state is only known inside the store transaction, so the
// store completes the event through BuildOutboxEvent.
type OutboxSpec struct {
	ID        string
	EventType string
	ActorID   string
	RequestID string
	ToState   string
	Reason    string
}

// BuildOutboxEvent renders the pending outbox row for a committed write.
// An empty EventType derives "<entity>.created" or "<entity>.updated".
func BuildOutboxEvent(spec OutboxSpec, before *entities.Document, after entities.Document, now time.Time) (entities.OutboxEvent, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return entities.OutboxEvent{}, domainerrors.ErrInvalidRequest
	}
	now = now.UTC()
	eventType := spec.EventType
	if eventType == "" {
		eventType = entities.EntityEventType(after.Key.EntityType, before == nil)
	}
	payload := entities.EventPayload{
		EventID:    spec.ID,
		EventType:  eventType,
		TenantID:   after.Key.TenantID,
		EntityType: string(after.Key.EntityType),
		EntityID:   after.Key.ID,
		Version:    after.Version,
		ActorID:    spec.ActorID,
		RequestID:  spec.RequestID,
		After:      after.Snapshot(),
		ToState:    spec.ToState,
		Reason:     strings.TrimSpace(spec.Reason),
		OccurredAt: now,
	}
	if before != nil {
		payload.Before = before.Snapshot()
		if spec.ToState != "" {
			payload.FromState = string(entities.CurrentTransactionState(*before))
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return entities.OutboxEvent{}, err
	}
	return entities.OutboxEvent{
		ID:            spec.ID,
		TenantID:      after.Key.TenantID,
		EventType:     eventType,
		EntityType:    string(after.Key.EntityType),
		EntityID:      after.Key.ID,
		Payload:       body,
		Status:        entities.WorkStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// DecodeEventPayload parses an outbox payload, keeping numbers exact.
func DecodeEventPayload(raw []byte) (entities.EventPayload, error) {
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.UseNumber()
	var payload entities.EventPayload
	if err := decoder.Decode(&payload); err != nil {
		return entities.EventPayload{}, err
	}
	return payload, nil
}
