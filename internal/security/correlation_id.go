// Package security provides the HTTP hardening middleware for the ledger
// API: correlation ids, request body limits, JSON schema validation, TLS
// setup and source-IP allowlisting.
package security

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const CorrelationIDHeader = "X-Correlation-ID"

type correlationIDKey struct{}

// CorrelationID tags every request with a correlation id and echoes it in
// the response headers. A fresh id is minted when the caller supplied none,
// or supplied one that is unsafe to print in log lines.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := clientCorrelationID(r)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, cid)

		ctx := context.WithValue(r.Context(), correlationIDKey{}, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientCorrelationID accepts the caller's id only when it is short and
// printable ASCII, so arbitrary header bytes never reach the logs.
func clientCorrelationID(r *http.Request) string {
	cid := r.Header.Get(CorrelationIDHeader)
	if len(cid) == 0 || len(cid) > 64 {
		return ""
	}
	for _, c := range cid {
		if c < '!' || c > '~' {
			return ""
		}
	}
	return cid
}

func CorrelationIDFromContext(ctx context.Context) string {
	cid, _ := ctx.Value(correlationIDKey{}).(string)
	return cid
}
