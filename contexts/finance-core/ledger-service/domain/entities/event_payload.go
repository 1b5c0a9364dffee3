package entities

import "time"

// EventPayload is the JSON body stored in OutboxEvent.Payload.
type EventPayload struct {
	EventID    string         `json:"eventId"`
	EventType  string         `json:"eventType"`
	TenantID   string         `json:"tenantId"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Version    int64          `json:"version"`
	ActorID    string         `json:"actorId"`
	RequestID  string         `json:"requestId,omitempty"`
	Before     map[string]any `json:"before"`
	After      map[string]any `json:"after"`
	FromState  string         `json:"fromState,omitempty"`
	ToState    string         `json:"toState,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Field reads a string field from the after-state, falling back to before.
func (p EventPayload) Field(name string) string {
	if value, ok := p.After[name].(string); ok && value != "" {
		return value
	}
	value, _ := p.Before[name].(string)
	return value
}
