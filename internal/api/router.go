// Package api exposes the ledger engine over JSON HTTP. Transport concerns
// stop here: handlers translate between wire shapes and engine types and
// map typed outcomes to status codes, nothing more.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/securebank/ledger-core/internal/engine"
	"github.com/securebank/ledger-core/internal/security"
)

// Processor is the slice of the engine the API needs.
type Processor interface {
	Submit(ctx context.Context, req engine.TransactionRequest) (engine.TransactionResult, error)
	Reverse(ctx context.Context, entryID string) (engine.TransactionResult, error)
}

// Dependencies wires the router's collaborators.
type Dependencies struct {
	Logger    *slog.Logger
	Processor Processor
	Accounts  AccountAdmin
	Journal   JournalReader

	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

// NewRouter assembles the HTTP surface: hardening middleware, schema
// validation on every mutating route, then the handlers.
func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	submitV, err := security.NewJSONSchemaValidator(submitSchema)
	if err != nil {
		return nil, err
	}
	createAccountV, err := security.NewJSONSchemaValidator(createAccountSchema)
	if err != nil {
		return nil, err
	}
	setStatusV, err := security.NewJSONSchemaValidator(setStatusSchema)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.With(submitV.Middleware).Post("/", handleSubmit(deps))
			r.Post("/{entryID}/reverse", handleReverse(deps))
		})

		r.Route("/accounts", func(r chi.Router) {
			r.With(createAccountV.Middleware).Post("/", handleCreateAccount(deps))
			r.Get("/{accountID}/balance", handleBalance(deps))
			r.Get("/{accountID}/entries", handleEntries(deps))
			r.With(setStatusV.Middleware).Post("/{accountID}/status", handleSetStatus(deps))
			r.Post("/{accountID}/close", handleCloseAccount(deps))
		})

		r.Get("/entries/{entryID}", handleGetEntry(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}
