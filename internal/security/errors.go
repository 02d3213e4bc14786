package security

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the wire shape of every non-2xx API response. ReasonCode
// carries the ledger's typed rejection reason when the error is a business
// outcome rather than a transport problem.
type ErrorResponse struct {
	Error         string `json:"error"`
	ReasonCode    string `json:"reason_code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code string) {
	WriteJSONErrorReason(w, r, status, code, "")
}

func WriteJSONErrorReason(w http.ResponseWriter, r *http.Request, status int, code, reason string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:         code,
		ReasonCode:    reason,
		CorrelationID: CorrelationIDFromContext(r.Context()),
	})
}
