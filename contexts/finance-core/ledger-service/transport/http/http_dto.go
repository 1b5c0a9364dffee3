package httptransport

import "time"

// CreateEntityRequest is the body of POST /v1/entities/{entity_type}.
type CreateEntityRequest struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
	Mode   string         `json:"mode,omitempty"`
}

// UpdateEntityRequest is the body of PATCH /v1/entities/{entity_type}/{entity_id}.
type UpdateEntityRequest struct {
	ExpectedVersion *int64         `json:"expectedVersion"`
	Fields          map[string]any `json:"fields"`
	Mode            string         `json:"mode,omitempty"`
}

type TransitionRequest struct {
	NewState        string `json:"newState"`
	ExpectedVersion *int64 `json:"expectedVersion"`
	Reason          string `json:"reason,omitempty"`
}

type ChangeRoleRequest struct {
	Role            string `json:"role"`
	ExpectedVersion *int64 `json:"expectedVersion"`
}

type RebuildReadViewRequest struct {
	Key    string `json:"key,omitempty"`
	Replay bool   `json:"replay,omitempty"`
}

// WorkerRunRequest scopes a worker pass. Both fields are optional.
type WorkerRunRequest struct {
	TenantID string `json:"tenantId,omitempty"`
	EventID  string `json:"eventId,omitempty"`
}

type WorkerRunResponse struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
	Scanned   int `json:"scanned"`
}

type VerifyAuditResponse struct {
	OK         bool   `json:"ok"`
	Checked    int    `json:"checked"`
	LastSeq    *int64 `json:"lastSeq,omitempty"`
	LastHash   string `json:"lastHash,omitempty"`
	BrokenAtID string `json:"brokenAtId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type DocumentResponse struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	Version    int64          `json:"version"`
	CreatedAt  time.Time      `json:"createdAt"`
	CreatedBy  string         `json:"createdBy"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	UpdatedBy  string         `json:"updatedBy"`
	Fields     map[string]any `json:"fields"`
}

type ReadViewResponse struct {
	ViewName      string         `json:"viewName"`
	Key           string         `json:"key"`
	Data          map[string]any `json:"data"`
	SourceEventID string         `json:"sourceEventId,omitempty"`
	SourceJobID   string         `json:"sourceJobId,omitempty"`
	RebuiltAt     time.Time      `json:"rebuiltAt"`
}

type OutboxEventResponse struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	EventType     string     `json:"eventType"`
	EntityType    string     `json:"entityType"`
	EntityID      string     `json:"entityId"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt time.Time  `json:"nextAttemptAt"`
	ClaimedAt     *time.Time `json:"claimedAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type JobResponse struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	EventID       string     `json:"eventId"`
	ViewName      string     `json:"viewName"`
	ViewKey       string     `json:"viewKey"`
	DedupeKey     string     `json:"dedupeKey"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt time.Time  `json:"nextAttemptAt"`
	ClaimedAt     *time.Time `json:"claimedAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
