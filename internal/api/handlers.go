package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/securebank/ledger-core/internal/account"
	"github.com/securebank/ledger-core/internal/engine"
	"github.com/securebank/ledger-core/internal/journal"
	"github.com/securebank/ledger-core/internal/security"
)

// AccountAdmin is the slice of the account store the API needs.
type AccountAdmin interface {
	CreateAccount(ctx context.Context, acct account.Account) error
	GetAccount(ctx context.Context, id string) (account.Account, error)
	GetBalance(ctx context.Context, id string) (account.Balance, error)
	SetStatus(ctx context.Context, id string, status account.Status) error
	Close(ctx context.Context, id string) error
}

// JournalReader is the read-only slice of the journal the API needs.
type JournalReader interface {
	Get(ctx context.Context, entryID string) (*journal.LedgerEntry, error)
	QueryByAccount(ctx context.Context, accountID string, from, to time.Time) ([]*journal.LedgerEntry, error)
}

type submissionResponse struct {
	CorrelationID string                   `json:"correlation_id"`
	Result        engine.TransactionResult `json:"result"`
}

// writeResult maps a terminal engine outcome to a status code: new applies
// are 201, replays and reversals 200, rejections 422 with the reason code.
func writeResult(w http.ResponseWriter, r *http.Request, res engine.TransactionResult) {
	status := http.StatusOK
	switch res.Status {
	case engine.StatusApplied:
		status = http.StatusCreated
	case engine.StatusRejected:
		security.WriteJSONErrorReason(w, r, http.StatusUnprocessableEntity, "transaction_rejected", res.ReasonCode)
		return
	}
	writeJSON(w, r, status, submissionResponse{
		CorrelationID: security.CorrelationIDFromContext(r.Context()),
		Result:        res,
	})
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, engine.ErrServiceUnavailable) {
		security.WriteJSONError(w, r, http.StatusServiceUnavailable, "service_unavailable")
		return
	}
	security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
}

func handleSubmit(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req engine.TransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		res, err := deps.Processor.Submit(r.Context(), req)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeResult(w, r, res)
	}
}

func handleReverse(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Processor.Reverse(r.Context(), chi.URLParam(r, "entryID"))
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeResult(w, r, res)
	}
}

type createAccountRequest struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	Number         string `json:"number"`
	Class          string `json:"class"`
	Asset          string `json:"asset"`
	OverdraftLimit int64  `json:"overdraft_limit"`
}

type accountResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Account       account.Account `json:"account"`
}

func handleCreateAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		acct := account.Account{
			ID:             req.ID,
			OwnerID:        req.OwnerID,
			Number:         req.Number,
			Class:          account.Class(req.Class),
			Asset:          req.Asset,
			Status:         account.StatusActive,
			OverdraftLimit: req.OverdraftLimit,
			CreatedAt:      time.Now().UTC(),
		}
		if err := deps.Accounts.CreateAccount(r.Context(), acct); err != nil {
			if errors.Is(err, account.ErrExists) {
				security.WriteJSONError(w, r, http.StatusConflict, "account_exists")
				return
			}
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusCreated, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       acct,
		})
	}
}

type balanceResponse struct {
	CorrelationID string `json:"correlation_id"`
	AccountID     string `json:"account_id"`
	Asset         string `json:"asset"`
	Balance       int64  `json:"balance"`
	Version       int64  `json:"version"`
}

func handleBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "accountID")

		acct, err := deps.Accounts.GetAccount(r.Context(), id)
		if err != nil {
			writeAccountError(w, r, err)
			return
		}
		bal, err := deps.Accounts.GetBalance(r.Context(), id)
		if err != nil {
			writeAccountError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, balanceResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccountID:     id,
			Asset:         acct.Asset,
			Balance:       bal.Amount,
			Version:       bal.Version,
		})
	}
}

type entriesResponse struct {
	CorrelationID string                 `json:"correlation_id"`
	AccountID     string                 `json:"account_id"`
	Entries       []*journal.LedgerEntry `json:"entries"`
}

func handleEntries(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "accountID")

		var from, to time.Time
		if v := r.URL.Query().Get("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
				return
			}
			from = t
		}
		if v := r.URL.Query().Get("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
				return
			}
			to = t
		}

		entries, err := deps.Journal.QueryByAccount(r.Context(), id, from, to)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusOK, entriesResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccountID:     id,
			Entries:       entries,
		})
	}
}

type entryResponse struct {
	CorrelationID string               `json:"correlation_id"`
	Entry         *journal.LedgerEntry `json:"entry"`
}

func handleGetEntry(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := deps.Journal.Get(r.Context(), chi.URLParam(r, "entryID"))
		if err != nil {
			if errors.Is(err, journal.ErrNotFound) {
				security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
				return
			}
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusOK, entryResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Entry:         entry,
		})
	}
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func handleSetStatus(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		id := chi.URLParam(r, "accountID")
		if err := deps.Accounts.SetStatus(r.Context(), id, account.Status(req.Status)); err != nil {
			writeAccountError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleCloseAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "accountID")
		if err := deps.Accounts.Close(r.Context(), id); err != nil {
			writeAccountError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeAccountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, account.ErrNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, account.ErrNonZeroBalance):
		security.WriteJSONError(w, r, http.StatusConflict, "balance_not_zero")
	case errors.Is(err, account.ErrClosed):
		security.WriteJSONError(w, r, http.StatusConflict, "account_closed")
	default:
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}
