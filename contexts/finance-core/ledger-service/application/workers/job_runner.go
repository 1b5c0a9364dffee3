package workers

import (
	"context"
	"fmt"
	"log/slog"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// JobHandler executes one claimed job.
type JobHandler interface {
	Handle(ctx context.Context, job entities.Job) error
}

// JobRunner mirrors the outbox relay for read-view jobs.
type JobRunner struct {
	Queue     ports.WorkQueueRepository
	Handler   JobHandler
	Clock     ports.Clock
	Policy    services.RetryPolicy
	Observer  ports.PipelineObserver
	BatchSize int
	Logger    *slog.Logger
}

func (r JobRunner) RunOnce(ctx context.Context, filter Filter) (entities.RunCounters, error) {
	logger := application.ResolveLogger(r.Logger)
	observer := application.ResolveObserver(r.Observer)
	now := resolveNow(r.Clock)

	var counters entities.RunCounters
	due, err := r.Queue.ListDueJobs(ctx, ports.WorkFilter{
		TenantID:    filter.TenantID,
		EventID:     filter.EventID,
		Now:         now,
		StaleBefore: r.Policy.StaleBefore(now),
		Limit:       batchSize(r.BatchSize),
	})
	if err != nil {
		logger.Error("job list failed",
			"event", "ledger_jobs_list_failed",
			"module", application.Module,
			"layer", "worker",
			"error", err.Error(),
		)
		return counters, err
	}
	counters.Scanned = len(due)

	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return counters, err
		}
		job, claimed, err := r.Queue.ClaimJob(ctx, candidate.ID, now, r.Policy.StaleBefore(now))
		if err != nil {
			logger.Error("job claim failed",
				"event", "ledger_job_claim_failed",
				"module", application.Module,
				"layer", "worker",
				"job_id", candidate.ID,
				"error", err.Error(),
			)
			return counters, err
		}
		if !claimed {
			continue
		}
		counters.Processed++

		handleErr := r.handle(ctx, job)
		if handleErr == nil {
			if err := r.Queue.CompleteJob(ctx, job.ID, resolveNow(r.Clock)); err != nil {
				return counters, err
			}
			counters.Succeeded++
			observer.ObserveJob("done")
			continue
		}

		dead, nextAttemptAt := r.Policy.OnFailure(job.Attempts, now)
		if err := r.Queue.RetryJob(ctx, ports.RetryInput{
			ID:            job.ID,
			LastError:     handleErr.Error(),
			NextAttemptAt: nextAttemptAt,
			Dead:          dead,
			Now:           resolveNow(r.Clock),
		}); err != nil {
			return counters, err
		}
		if dead {
			counters.Dead++
			observer.ObserveJob("dead")
		} else {
			counters.Failed++
			observer.ObserveJob("failed")
		}
		logger.Warn("job failed",
			"event", "ledger_job_failed",
			"module", application.Module,
			"layer", "worker",
			"job_id", job.ID,
			"view_name", string(job.ViewName),
			"attempts", job.Attempts,
			"dead", dead,
			"error", handleErr.Error(),
		)
	}
	return counters, nil
}

func (r JobRunner) handle(ctx context.Context, job entities.Job) error {
	if r.Handler == nil {
		return fmt.Errorf("no handler for view %s", job.ViewName)
	}
	return r.Handler.Handle(ctx, job)
}
