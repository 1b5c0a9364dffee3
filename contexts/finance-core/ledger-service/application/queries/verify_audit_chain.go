package queries

import (
	"context"
	"log/slog"
	"strings"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

const (
	defaultVerifyLimit = 1000
	maxVerifyLimit     = 10000
	verifyPageSize     = 200
)

type VerifyAuditChainQuery struct {
	TenantID  string
	ActorRole string
	Limit     int
}

// VerifyAuditChainUseCase scans a tenant chain from the first entry and
// reports the first break. The head pointer is compared only when the scan
// reached the end of the chain within the limit.
type VerifyAuditChainUseCase struct {
	Audit    ports.AuditLedger
	Policy   entities.RolePolicy
	Observer ports.PipelineObserver
	PageSize int
	Logger   *slog.Logger
}

func (u VerifyAuditChainUseCase) Execute(ctx context.Context, query VerifyAuditChainQuery) (entities.ChainVerification, error) {
	logger := application.ResolveLogger(u.Logger)
	observer := application.ResolveObserver(u.Observer)

	if strings.TrimSpace(query.TenantID) == "" {
		return entities.ChainVerification{}, domainerrors.ErrMissingTenant
	}
	if !u.Policy.HasPermission(query.ActorRole, entities.PermissionAuditVerify) {
		return entities.ChainVerification{}, domainerrors.ErrForbidden
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultVerifyLimit
	}
	if limit > maxVerifyLimit {
		limit = maxVerifyLimit
	}
	pageSize := u.PageSize
	if pageSize <= 0 {
		pageSize = verifyPageSize
	}

	verifier := services.NewChainVerifier()
	var afterSeq int64
	remaining := limit
	reachedEnd := false
	for remaining > 0 {
		size := pageSize
		if size > remaining {
			size = remaining
		}
		page, err := u.Audit.ListAuditEntries(ctx, query.TenantID, afterSeq, size)
		if err != nil {
			logger.Error("audit chain page load failed",
				"event", "ledger_audit_verify_list_failed",
				"module", application.Module,
				"layer", "application",
				"tenant_id", query.TenantID,
				"after_seq", afterSeq,
				"error", err.Error(),
			)
			return entities.ChainVerification{}, err
		}
		broken := false
		for _, entry := range page {
			if !verifier.Check(entry) {
				broken = true
				break
			}
			afterSeq = entry.ChainSeq
		}
		if broken {
			break
		}
		remaining -= len(page)
		if len(page) < size {
			reachedEnd = true
			break
		}
	}

	if reachedEnd {
		head, err := u.Audit.GetAuditHead(ctx, query.TenantID)
		if err != nil {
			return entities.ChainVerification{}, err
		}
		verifier.CheckHead(head)
	}

	result := verifier.Result()
	if result.OK {
		observer.ObserveAuditVerify("ok")
		logger.Debug("audit chain verified",
			"event", "ledger_audit_verify_ok",
			"module", application.Module,
			"layer", "application",
			"tenant_id", query.TenantID,
			"checked", result.Checked,
			"last_seq", result.LastSeq,
		)
		return result, nil
	}
	observer.ObserveAuditVerify(string(result.Reason))
	logger.Warn("audit chain broken",
		"event", "ledger_audit_verify_broken",
		"module", application.Module,
		"layer", "application",
		"tenant_id", query.TenantID,
		"checked", result.Checked,
		"broken_at_id", result.BrokenAtID,
		"reason", string(result.Reason),
	)
	return result, nil
}
