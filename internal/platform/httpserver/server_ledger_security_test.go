package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ledger "ledgerflow/contexts/finance-core/ledger-service"
	"ledgerflow/internal/platform/metrics"

	"github.com/golang-jwt/jwt/v5"
)

const testWorkerSecret = "worker-secret-1"

func newTestServer(options Options) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(options, ledger.NewInMemoryModule(logger), metrics.New("ledgerflow-test"), logger)
}

func ownerRequest(method string, path string, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "tenant-a")
	req.Header.Set("X-Actor-Id", "owner-1")
	req.Header.Set("X-Actor-Role", "owner")
	return req
}

func serve(server *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	code, _ := body["code"].(string)
	return code
}

func TestHealthz(t *testing.T) {
	server := newTestServer(Options{})
	rr := serve(server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateEntityRequiresIdempotencyKeyFirst(t *testing.T) {
	server := newTestServer(Options{})
	// Unknown entity type and malformed body: the missing key still wins.
	req := httptest.NewRequest(http.MethodPost, "/v1/entities/spaceship", strings.NewReader(`{not json`))

	rr := serve(server, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != "idempotency_key_required" {
		t.Fatalf("expected idempotency_key_required, got %q", code)
	}
}

func TestCreateEntityReplayCarriesMarkerAndSameBytes(t *testing.T) {
	server := newTestServer(Options{})
	body := `{"id":"p1","fields":{"name":"Roof"}}`

	first := ownerRequest(http.MethodPost, "/v1/entities/project", body)
	first.Header.Set("Idempotency-Key", "idem-create-1")
	rr1 := serve(server, first)
	if rr1.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr1.Code, rr1.Body.String())
	}
	if rr1.Header().Get(replayedHeader) != "" {
		t.Fatalf("first response must not carry %s", replayedHeader)
	}

	retry := ownerRequest(http.MethodPost, "/v1/entities/project", body)
	retry.Header.Set("Idempotency-Key", "idem-create-1")
	rr2 := serve(server, retry)
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d body=%s", rr2.Code, rr2.Body.String())
	}
	if rr2.Header().Get(replayedHeader) != "true" {
		t.Fatalf("expected %s: true on replay", replayedHeader)
	}
	if !bytes.Equal(rr1.Body.Bytes(), rr2.Body.Bytes()) {
		t.Fatalf("replay body differs:\n%s\n%s", rr1.Body.String(), rr2.Body.String())
	}

	reuse := ownerRequest(http.MethodPost, "/v1/entities/project", `{"id":"p2","fields":{"name":"Other"}}`)
	reuse.Header.Set("Idempotency-Key", "idem-create-1")
	rr3 := serve(server, reuse)
	if rr3.Code != http.StatusConflict || errorCode(t, rr3) != "idempotency_conflict" {
		t.Fatalf("expected 409 idempotency_conflict, got %d body=%s", rr3.Code, rr3.Body.String())
	}
}

func TestUpdateEntityStaleVersionConflicts(t *testing.T) {
	server := newTestServer(Options{})
	create := ownerRequest(http.MethodPost, "/v1/entities/project", `{"id":"p1","fields":{"name":"Roof"}}`)
	create.Header.Set("Idempotency-Key", "idem-create-p1")
	if rr := serve(server, create); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	patch := ownerRequest(http.MethodPatch, "/v1/entities/project/p1", `{"expectedVersion":4,"fields":{"name":"Roof 2"}}`)
	patch.Header.Set("Idempotency-Key", "idem-patch-p1")
	rr := serve(server, patch)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "version_conflict" || body["expectedVersion"] != float64(4) || body["actualVersion"] != float64(1) {
		t.Fatalf("unexpected conflict body: %v", body)
	}
}

func TestVerifyAuditLimitValidation(t *testing.T) {
	server := newTestServer(Options{})
	create := ownerRequest(http.MethodPost, "/v1/entities/project", `{"id":"p1","fields":{"name":"Roof"}}`)
	create.Header.Set("Idempotency-Key", "idem-create-p1")
	if rr := serve(server, create); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr := serve(server, ownerRequest(http.MethodGet, "/v1/audit-logs/verify?limit=50", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var verify struct {
		OK      bool  `json:"ok"`
		Checked int   `json:"checked"`
		LastSeq int64 `json:"lastSeq"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &verify); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if !verify.OK || verify.Checked != 1 || verify.LastSeq != 1 {
		t.Fatalf("unexpected verify result: %+v", verify)
	}

	for _, limit := range []string{"0", "-3", "abc"} {
		rr := serve(server, ownerRequest(http.MethodGet, "/v1/audit-logs/verify?limit="+limit, ""))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: expected 400, got %d body=%s", limit, rr.Code, rr.Body.String())
		}
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestBearerTokenIdentity(t *testing.T) {
	server := newTestServer(Options{JWTSecret: "jwt-secret", JWTIssuer: "ledgerflow"})
	valid := jwt.MapClaims{
		"sub":       "owner-1",
		"tenant_id": "tenant-a",
		"role":      "owner",
		"iss":       "ledgerflow",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
	wrongIssuer := jwt.MapClaims{
		"sub":       "owner-1",
		"tenant_id": "tenant-a",
		"role":      "owner",
		"iss":       "someone-else",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}

	cases := map[string]string{
		"missing":      "",
		"wrong issuer": "Bearer " + signToken(t, "jwt-secret", wrongIssuer),
		"forged":       "Bearer " + signToken(t, "other-secret", valid),
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/entities/project", strings.NewReader(`{"fields":{"name":"Roof"}}`))
		req.Header.Set("Idempotency-Key", "idem-jwt-"+name)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := serve(server, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d body=%s", name, rr.Code, rr.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/entities/project", strings.NewReader(`{"fields":{"name":"Roof"}}`))
	req.Header.Set("Idempotency-Key", "idem-jwt-valid")
	req.Header.Set("Authorization", "Bearer "+signToken(t, "jwt-secret", valid))
	// Identity headers are ignored once tokens are required.
	req.Header.Set("X-Actor-Role", "viewer")
	rr := serve(server, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for a valid token, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestMetricsExposeRouteLabels(t *testing.T) {
	server := newTestServer(Options{})
	serve(server, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := serve(server, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	exposition := rr.Body.String()
	if !strings.Contains(exposition, "http_requests_total{") || !strings.Contains(exposition, `path="/healthz"`) {
		t.Fatalf("expected request counter labelled by route, got:\n%s", exposition)
	}
}
