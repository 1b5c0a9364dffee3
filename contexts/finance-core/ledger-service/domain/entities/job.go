package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
)

type ViewName string

const (
	ViewProjectFinancials ViewName = "project_financials"
	ViewApprovalInbox     ViewName = "approval_inbox"
	ViewMemberWorkload    ViewName = "member_workload"
)

// TenantWideViewKey keys views that aggregate a whole tenant.
const TenantWideViewKey = "all"

func ParseViewName(raw string) (ViewName, error) {
	switch name := ViewName(strings.TrimSpace(raw)); name {
	case ViewProjectFinancials, ViewApprovalInbox, ViewMemberWorkload:
		return name, nil
	default:
		return "", domainerrors.ErrUnknownReadView
	}
}

// Job asks the work queue to rebuild one read-view.
type Job struct {
	ID            string
	TenantID      string
	EventID       string
	ViewName      ViewName
	ViewKey       string
	DedupeKey     string
	Status        WorkStatus
	Attempts      int
	NextAttemptAt time.Time
	ClaimedAt     *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobID derives the deterministic job identity. Re-enqueuing the same
// (eventID, viewName, dedupeKey) always lands on the same id.
func JobID(eventID string, viewName ViewName, dedupeKey string) string {
	sum := sha256.Sum256([]byte(eventID + "\x1f" + string(viewName) + "\x1f" + dedupeKey))
	return "job_" + hex.EncodeToString(sum[:16])
}

// ReplayDedupeKey appends a nonce so an explicit replay never collapses into an earlier job.
func ReplayDedupeKey(dedupeKey string, nonce string) string {
	if strings.TrimSpace(nonce) == "" {
		return dedupeKey
	}
	return dedupeKey + "#replay:" + nonce
}

// NewJob builds a pending job due immediately.
func NewJob(tenantID string, eventID string, viewName ViewName, viewKey string, dedupeKey string, now time.Time) (Job, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Job{}, domainerrors.ErrMissingTenant
	}
	if strings.TrimSpace(eventID) == "" || strings.TrimSpace(viewKey) == "" {
		return Job{}, domainerrors.ErrInvalidRequest
	}
	if _, err := ParseViewName(string(viewName)); err != nil {
		return Job{}, err
	}
	if dedupeKey == "" {
		dedupeKey = tenantID + ":" + viewKey
	}
	now = now.UTC()
	return Job{
		ID:            JobID(eventID, viewName, dedupeKey),
		TenantID:      tenantID,
		EventID:       eventID,
		ViewName:      viewName,
		ViewKey:       viewKey,
		DedupeKey:     dedupeKey,
		Status:        WorkStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ReadView is a derived projection, always written as a full overwrite.
type ReadView struct {
	TenantID      string
	ViewName      ViewName
	Key           string
	Data          map[string]any
	SourceEventID string
	SourceJobID   string
	RebuiltAt     time.Time
}
