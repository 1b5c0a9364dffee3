package workers

import (
	"context"
	"log/slog"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// ProjectionHandler rebuilds a read-view from the full document set and
// overwrites the stored view. Running it twice yields the same view.
type ProjectionHandler struct {
	Documents ports.DocumentStore
	ReadViews ports.ReadViewStore
	Clock     ports.Clock
	Logger    *slog.Logger
}

func (h ProjectionHandler) Handle(ctx context.Context, job entities.Job) error {
	sources := services.ViewSources(job.ViewName)
	if len(sources) == 0 {
		return domainerrors.ErrUnknownReadView
	}
	var src services.ProjectionSource
	for _, entityType := range sources {
		docs, err := h.Documents.ListDocuments(ctx, job.TenantID, entityType)
		if err != nil {
			return err
		}
		switch entityType {
		case entities.EntityTypeProject:
			src.Projects = docs
		case entities.EntityTypeLedger:
			src.Ledgers = docs
		case entities.EntityTypeTransaction:
			src.Transactions = docs
		case entities.EntityTypeMember:
			src.Members = docs
		}
	}

	view := entities.ReadView{
		TenantID:      job.TenantID,
		ViewName:      job.ViewName,
		Key:           job.ViewKey,
		Data:          services.BuildReadView(job.ViewName, job.ViewKey, src),
		SourceEventID: job.EventID,
		SourceJobID:   job.ID,
		RebuiltAt:     resolveNow(h.Clock),
	}
	if err := h.ReadViews.PutReadView(ctx, view); err != nil {
		return err
	}
	application.ResolveLogger(h.Logger).Debug("read view rebuilt",
		"event", "ledger_read_view_rebuilt",
		"module", application.Module,
		"layer", "worker",
		"tenant_id", job.TenantID,
		"view_name", string(job.ViewName),
		"view_key", job.ViewKey,
		"job_id", job.ID,
	)
	return nil
}
