package commands

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// manualRebuildEventPrefix scopes operator-requested rebuilds to the request
// that asked for them. Each idempotency key yields its own job.
const manualRebuildEventPrefix = "manual-rebuild:"

type RebuildReadViewCommand struct {
	Mutation Mutation
	ViewName string
	Key      string
	// Replay forces a new job even when an identical one already ran.
	Replay bool
}

type RebuildReadViewResult struct {
	JobID    string `json:"jobId"`
	ViewName string `json:"viewName"`
	Key      string `json:"key"`
	Created  bool   `json:"created"`
	Status   string `json:"status"`
}

// RebuildReadViewUseCase enqueues a full recompute of one read-view.
type RebuildReadViewUseCase struct {
	Pipeline Pipeline
	Queue    ports.WorkQueueRepository
	Logger   *slog.Logger
}

func (u RebuildReadViewUseCase) Execute(ctx context.Context, cmd RebuildReadViewCommand) (Response, error) {
	logger := application.ResolveLogger(u.Logger)

	return u.Pipeline.Run(ctx, "rebuild_read_view", cmd.Mutation, func(ctx context.Context, now time.Time) (int, any, error) {
		view, err := entities.ParseViewName(cmd.ViewName)
		if err != nil {
			return 0, nil, err
		}
		if err := u.Pipeline.requirePermission(cmd.Mutation, entities.PermissionViewRebuild); err != nil {
			return 0, nil, err
		}
		key := strings.TrimSpace(cmd.Key)
		if key == "" {
			if view == entities.ViewProjectFinancials {
				return 0, nil, domainerrors.ErrInvalidRequest
			}
			key = entities.TenantWideViewKey
		}

		dedupeKey := cmd.Mutation.TenantID + ":" + key
		if cmd.Replay {
			nonce, err := u.Pipeline.newID(ctx)
			if err != nil {
				return 0, nil, err
			}
			dedupeKey = entities.ReplayDedupeKey(dedupeKey, nonce)
		}
		eventID := manualRebuildEventPrefix + cmd.Mutation.IdempotencyKey
		job, err := entities.NewJob(cmd.Mutation.TenantID, eventID, view, key, dedupeKey, now)
		if err != nil {
			return 0, nil, err
		}
		created, err := u.Queue.EnqueueJob(ctx, job)
		if err != nil {
			return 0, nil, err
		}
		if !created {
			if existing, getErr := u.Queue.GetJob(ctx, job.ID); getErr == nil {
				job = existing
			}
		}

		logger.Info("read view rebuild enqueued",
			"event", "ledger_read_view_rebuild_enqueued",
			"module", application.Module,
			"layer", "application",
			"tenant_id", cmd.Mutation.TenantID,
			"view_name", string(view),
			"view_key", key,
			"job_id", job.ID,
			"created", created,
		)
		return http.StatusAccepted, RebuildReadViewResult{
			JobID:    job.ID,
			ViewName: string(view),
			Key:      key,
			Created:  created,
			Status:   string(job.Status),
		}, nil
	})
}
