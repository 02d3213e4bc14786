package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v as the response body. The correlation id header is
// already set by the CorrelationID middleware for every response.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
