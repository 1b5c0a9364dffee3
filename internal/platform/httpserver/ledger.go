package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	httpadapter "ledgerflow/contexts/finance-core/ledger-service/adapters/http"
	"ledgerflow/contexts/finance-core/ledger-service/application/commands"

	"github.com/go-chi/chi/v5"
)

const replayedHeader = "Idempotent-Replayed"

type mutationCall func(req httpadapter.MutationRequest) (commands.Response, error)

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entity_type")
	s.serveMutation(w, r, func(req httpadapter.MutationRequest) (commands.Response, error) {
		return s.ledger.Handler.CreateEntityHandler(r.Context(), req, entityType)
	})
}

func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entity_type")
	entityID := chi.URLParam(r, "entity_id")
	s.serveMutation(w, r, func(req httpadapter.MutationRequest) (commands.Response, error) {
		return s.ledger.Handler.UpdateEntityHandler(r.Context(), req, entityType, entityID)
	})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "entity_id")
	s.serveMutation(w, r, func(req httpadapter.MutationRequest) (commands.Response, error) {
		return s.ledger.Handler.TransitionHandler(r.Context(), req, transactionID)
	})
}

func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "entity_id")
	s.serveMutation(w, r, func(req httpadapter.MutationRequest) (commands.Response, error) {
		return s.ledger.Handler.ChangeRoleHandler(r.Context(), req, memberID)
	})
}

func (s *Server) handleRebuildReadView(w http.ResponseWriter, r *http.Request) {
	viewName := chi.URLParam(r, "view_name")
	s.serveMutation(w, r, func(req httpadapter.MutationRequest) (commands.Response, error) {
		return s.ledger.Handler.RebuildReadViewHandler(r.Context(), req, viewName)
	})
}

// serveMutation writes the pipeline response verbatim. Replays carry the
// stored status and bytes plus the replay marker header.
func (s *Server) serveMutation(w http.ResponseWriter, r *http.Request, call mutationCall) {
	if strings.TrimSpace(r.Header.Get("Idempotency-Key")) == "" {
		writeError(w, http.StatusBadRequest, "idempotency_key_required", "Idempotency-Key header is required")
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body could not be read")
		return
	}

	resp, err := call(httpadapter.MutationRequest{
		Caller:         callerFrom(r.Context()),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Method:         r.Method,
		Path:           r.URL.Path,
		Body:           body,
	})
	if resp.Replayed {
		w.Header().Set(replayedHeader, "true")
	}
	if len(resp.Body) > 0 {
		writeRaw(w, resp.Status, resp.Body)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(resp.Status)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.GetEntityHandler(r.Context(), callerFrom(r.Context()),
		chi.URLParam(r, "entity_type"), chi.URLParam(r, "entity_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetReadView(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.GetReadViewHandler(r.Context(), callerFrom(r.Context()),
		chi.URLParam(r, "view_name"), chi.URLParam(r, "key"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	resp, err := s.ledger.Handler.VerifyAuditHandler(r.Context(), callerFrom(r.Context()), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func decodeStrict(body []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
