package entities

import (
	"strings"
	"time"
)

// WorkStatus is shared by outbox events and work-queue jobs.
type WorkStatus string

const (
	WorkStatusPending    WorkStatus = "PENDING"
	WorkStatusProcessing WorkStatus = "PROCESSING"
	WorkStatusDone       WorkStatus = "DONE"
	WorkStatusFailed     WorkStatus = "FAILED"
	WorkStatusDead       WorkStatus = "DEAD"
)

// Claimable reports whether an item in this status may be picked up when due.
func (s WorkStatus) Claimable() bool {
	return s == WorkStatusPending || s == WorkStatusFailed
}

const (
	EventTypeTransactionStateChange = "transaction.state_changed"
	EventTypeMemberRoleChanged      = "member.role_changed"
)

// EntityEventType renders the per-entity event name, e.g. "project.created".
func EntityEventType(entityType EntityType, created bool) string {
	if created {
		return string(entityType) + ".created"
	}
	return string(entityType) + ".updated"
}

// EventVerb returns the suffix of an event type ("created", "state_changed", ...).
func EventVerb(eventType string) string {
	if idx := strings.LastIndex(eventType, "."); idx >= 0 {
		return eventType[idx+1:]
	}
	return eventType
}

// OutboxEvent is the durable "event occurred" marker co-committed with a write.
type OutboxEvent struct {
	ID            string
	TenantID      string
	EventType     string
	EntityType    string
	EntityID      string
	Payload       []byte
	Status        WorkStatus
	Attempts      int
	NextAttemptAt time.Time
	ClaimedAt     *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryReceipt records that a handler delivered an event. One per (event, handler).
type DeliveryReceipt struct {
	EventID     string
	Handler     string
	TenantID    string
	DeliveredAt time.Time
}

// Notification is a recipient-facing message derived from an outbox event.
type Notification struct {
	ID          string
	TenantID    string
	RecipientID string
	EventID     string
	Kind        string
	EntityType  string
	EntityID    string
	Message     string
	CreatedAt   time.Time
}

// RunCounters summarize one worker pass.
type RunCounters struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
	Scanned   int `json:"scanned"`
}

func (c *RunCounters) Add(other RunCounters) {
	c.Processed += other.Processed
	c.Succeeded += other.Succeeded
	c.Failed += other.Failed
	c.Dead += other.Dead
	c.Scanned += other.Scanned
}
