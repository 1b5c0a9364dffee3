package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"ledgerflow/contexts/finance-core/ledger-service/adapters/memory"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
)

func newTestPipeline() Pipeline {
	store := memory.NewStore()
	return Pipeline{
		Idempotency: store,
		Audit:       store,
		Clock:       store,
		IDGenerator: store,
		Policy:      entities.DefaultRolePolicy(),
	}
}

func testMutation(key string) Mutation {
	return Mutation{
		TenantID:       "tenant-a",
		ActorID:        "owner-1",
		ActorRole:      "owner",
		IdempotencyKey: key,
		RequestID:      "req-1",
		Method:         http.MethodPost,
		Path:           "/v1/entities/project",
		Body:           []byte(`{"fields":{"name":"A"}}`),
	}
}

func TestPipelineDoesNotRerunAfterCommittedEncodeFailure(t *testing.T) {
	pipeline := newTestPipeline()
	runs := 0
	fn := func(context.Context, time.Time) (int, any, error) {
		runs++
		return http.StatusCreated, map[string]any{"unencodable": make(chan int)}, nil
	}

	first, err := pipeline.Run(context.Background(), "create", testMutation("idem-encode"), fn)
	if err == nil || first.Status != http.StatusInternalServerError {
		t.Fatalf("expected encode failure to surface as 500, got %d err=%v", first.Status, err)
	}
	second, err := pipeline.Run(context.Background(), "create", testMutation("idem-encode"), fn)
	if err != nil {
		t.Fatalf("expected stored failure replay, got %v", err)
	}
	if runs != 1 {
		t.Fatalf("expected a single execution, got %d", runs)
	}
	if !second.Replayed || second.Status != first.Status || string(second.Body) != string(first.Body) {
		t.Fatalf("expected identical replay of the stored failure, got %+v", second)
	}
}

func TestPipelineRerunsRetryableFailureBeforeCommit(t *testing.T) {
	pipeline := newTestPipeline()
	runs := 0
	fn := func(context.Context, time.Time) (int, any, error) {
		runs++
		if runs == 1 {
			return 0, nil, errors.New("connection reset")
		}
		return http.StatusCreated, map[string]any{"id": "p1"}, nil
	}

	if _, err := pipeline.Run(context.Background(), "create", testMutation("idem-retry"), fn); err == nil {
		t.Fatalf("expected first attempt to fail")
	}
	resp, err := pipeline.Run(context.Background(), "create", testMutation("idem-retry"), fn)
	if err != nil || resp.Status != http.StatusCreated || resp.Replayed {
		t.Fatalf("expected second attempt to execute, got %+v err=%v", resp, err)
	}
	if runs != 2 {
		t.Fatalf("expected two executions, got %d", runs)
	}
}

func TestRetryableExcludesCommittedFailures(t *testing.T) {
	infra := errors.New("connection reset")
	if !retryable(infra) {
		t.Fatalf("expected infrastructure failure to be retryable")
	}
	if retryable(afterCommit(infra)) {
		t.Fatalf("expected committed failure to be final")
	}
	wrapped := fmt.Errorf("audit: %w", afterCommit(infra))
	if retryable(wrapped) {
		t.Fatalf("expected wrapped committed failure to be final")
	}
	if retryable(domainerrors.ErrForbidden) {
		t.Fatalf("expected client failure to be final")
	}
	if afterCommit(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
}
