package httpserver

import (
	"encoding/json"
	"net/http"

	"ledgerflow/contexts/finance-core/ledger-service/application/commands"
	httptransport "ledgerflow/contexts/finance-core/ledger-service/transport/http"
)

// writeDomainError renders the classified status and stable error body.
func writeDomainError(w http.ResponseWriter, err error) {
	status, body := commands.ErrorResponse(err)
	writeRaw(w, status, body)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, httptransport.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
