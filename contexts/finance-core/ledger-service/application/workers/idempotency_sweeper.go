package workers

import (
	"context"
	"log/slog"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// IdempotencySweeper deletes idempotency records past their expiry.
type IdempotencySweeper struct {
	Idempotency ports.IdempotencyStore
	Clock       ports.Clock
	BatchSize   int
	Logger      *slog.Logger
}

func (s IdempotencySweeper) RunOnce(ctx context.Context) (int, error) {
	purged, err := s.Idempotency.PurgeExpiredIdempotency(ctx, resolveNow(s.Clock), batchSize(s.BatchSize))
	if err != nil {
		application.ResolveLogger(s.Logger).Error("idempotency sweep failed",
			"event", "ledger_idempotency_sweep_failed",
			"module", application.Module,
			"layer", "worker",
			"error", err.Error(),
		)
		return 0, err
	}
	if purged > 0 {
		application.ResolveLogger(s.Logger).Info("idempotency records purged",
			"event", "ledger_idempotency_swept",
			"module", application.Module,
			"layer", "worker",
			"purged", purged,
		)
	}
	return purged, nil
}
