package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New("ledgerflow-test")
	router := chi.NewRouter()
	router.Use(m.Middleware)
	router.Get("/v1/entities/{entity_type}/{entity_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/entities/ledger/"+id, nil))
	}

	body := scrape(t, m)
	want := `http_requests_total{method="GET",path="/v1/entities/{entity_type}/{entity_id}",service="ledgerflow-test",status="404"} 2`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in exposition:\n%s", want, body)
	}
}

func TestObserverCountersAreExposed(t *testing.T) {
	m := New("ledgerflow-test")
	m.ObserveOutbox("dead")
	m.ObserveIdempotency("replayed")
	m.ObserveAuditVerify("hash_mismatch")

	body := scrape(t, m)
	for _, want := range []string{
		`ledger_outbox_events_total{outcome="dead",service="ledgerflow-test"} 1`,
		`ledger_idempotency_total{outcome="replayed",service="ledgerflow-test"} 1`,
		`ledger_audit_verify_total{result="hash_mismatch",service="ledgerflow-test"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, body)
		}
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics scrape failed: %d", rec.Code)
	}
	return rec.Body.String()
}
