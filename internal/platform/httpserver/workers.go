package httpserver

import (
	"crypto/subtle"
	"net/http"

	httptransport "ledgerflow/contexts/finance-core/ledger-service/transport/http"

	"github.com/go-chi/chi/v5"
)

// requireWorkerSecret gates the internal routes. Without a configured
// secret the routes are closed.
func (s *Server) requireWorkerSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.options.WorkerSecret == "" {
			writeError(w, http.StatusServiceUnavailable, "worker_secret_not_configured", "internal worker routes are disabled")
			return
		}
		provided := r.Header.Get("X-Worker-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.options.WorkerSecret)) != 1 {
			s.logger.Warn("worker secret rejected",
				"event", "http_worker_secret_rejected",
				"module", "internal/platform/httpserver",
				"layer", "platform",
				"path", r.URL.Path,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid worker secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRunOutbox(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeWorkerRun(w, r)
	if !ok {
		return
	}
	resp, err := s.ledger.Handler.RunOutboxHandler(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunJobs(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeWorkerRun(w, r)
	if !ok {
		return
	}
	resp, err := s.ledger.Handler.RunJobsHandler(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequeueOutbox(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.RequeueOutboxHandler(r.Context(), chi.URLParam(r, "event_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.RequeueJobHandler(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetOutboxEvent(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.GetOutboxEventHandler(r.Context(), chi.URLParam(r, "event_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.GetJobHandler(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeWorkerRun accepts an empty body as "no filter".
func decodeWorkerRun(w http.ResponseWriter, r *http.Request) (httptransport.WorkerRunRequest, bool) {
	var req httptransport.WorkerRunRequest
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body could not be read")
		return req, false
	}
	if len(body) == 0 {
		return req, true
	}
	if err := decodeStrict(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return req, false
	}
	return req, true
}
