// Package journal is the append-only, hash-chained record of every
// transaction outcome. Entries are immutable once written; each account has
// its own totally ordered, tamper-evident chain.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/securebank/ledger-core/pkg/audit"
)

// Status is the recorded outcome an entry describes.
type Status string

const (
	StatusApplied  Status = "APPLIED"
	StatusRejected Status = "REJECTED"
	// StatusReversal marks a compensating entry that undoes an earlier
	// applied entry. The original entry is never mutated.
	StatusReversal Status = "REVERSAL"
)

var (
	// ErrNotFound is returned for unknown entry ids.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrEmptyBatch rejects an Append call with no entries.
	ErrEmptyBatch = errors.New("empty entry batch")
)

// LedgerEntry is one immutable line of the journal: the effect of a single
// request on a single account. Amount is a signed delta in the asset's
// minor unit; rejected entries carry a zero delta and no BalanceAfter.
type LedgerEntry struct {
	ID           string            `json:"id"`
	RequestID    string            `json:"request_id"`
	AccountID    string            `json:"account_id"`
	Seq          int64             `json:"seq"`
	Type         string            `json:"type"`
	Status       Status            `json:"status"`
	Asset        string            `json:"asset"`
	Amount       int64             `json:"amount"`
	BalanceAfter *int64            `json:"balance_after,omitempty"`
	ReasonCode   string            `json:"reason_code,omitempty"`
	Rate         string            `json:"rate,omitempty"`
	PrevHash     string            `json:"prev_hash"`
	Hash         string            `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Payload returns the JSON document the entry hash commits to. The hash
// itself is excluded; PrevHash is part of the payload and also chained by
// audit.ChainHash.
func (e *LedgerEntry) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// Seal assigns the entry's chain hash from prevHash.
func (e *LedgerEntry) Seal(prevHash string) error {
	e.PrevHash = prevHash
	payload, err := e.Payload()
	if err != nil {
		return err
	}
	h, err := audit.ChainHash(prevHash, payload)
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}

// Link adapts the entry for audit.VerifyChain.
func (e *LedgerEntry) Link() (audit.Link, error) {
	payload, err := e.Payload()
	if err != nil {
		return audit.Link{}, err
	}
	return audit.Link{PrevHash: e.PrevHash, Hash: e.Hash, Payload: payload}, nil
}

// Journal is the persistence contract for ledger entries.
//
// Append is atomic for the whole batch: either every entry is written with
// its per-account sequence number and chain hash assigned, or none is.
type Journal interface {
	Append(ctx context.Context, entries []*LedgerEntry) error
	Get(ctx context.Context, entryID string) (*LedgerEntry, error)
	// QueryByAccount returns the account's entries with CreatedAt in
	// [from, to), ordered by Seq.
	QueryByAccount(ctx context.Context, accountID string, from, to time.Time) ([]*LedgerEntry, error)
	// QueryByRequest returns every entry written for one request id.
	QueryByRequest(ctx context.Context, requestID string) ([]*LedgerEntry, error)
	// Head returns the newest entry of an account's chain, or nil for an
	// account with no history.
	Head(ctx context.Context, accountID string) (*LedgerEntry, error)
	// SumDebitsForDay totals the applied outflow (absolute value of
	// negative deltas) of one transaction type for the UTC day containing
	// day. Used for daily-limit accounting.
	SumDebitsForDay(ctx context.Context, accountID, txType string, day time.Time) (int64, error)
	// Accounts lists every account id with at least one entry.
	Accounts(ctx context.Context) ([]string, error)
}

// replayOfExisting reports whether the batch repeats the outcome already
// written for the same request id (same accounts, statuses, amounts), and if so
// copies the stored entries back into the caller's slice. The account store
// re-runs its critical section after a serialization failure, which can
// hand the journal an identical batch whose first append already committed;
// without this check that retry would double-write the request. A batch
// with a different shape (a later rejection under a reused key, a rejected
// reversal attempt after the reversal landed) is a new outcome and is
// appended normally.
func replayOfExisting(entries []*LedgerEntry, existing []*LedgerEntry) bool {
	if len(existing) != len(entries) {
		return false
	}
	byAccount := make(map[string]*LedgerEntry, len(existing))
	for _, e := range existing {
		byAccount[e.AccountID] = e
	}
	for _, e := range entries {
		prior, ok := byAccount[e.AccountID]
		if !ok || prior.RequestID != e.RequestID ||
			prior.Status != e.Status || prior.Amount != e.Amount {
			return false
		}
	}
	for i := range entries {
		*entries[i] = *byAccount[entries[i].AccountID]
	}
	return true
}

// VerifyAccountChain validates one account's full chain.
func VerifyAccountChain(entries []*LedgerEntry) error {
	links := make([]audit.Link, 0, len(entries))
	for _, e := range entries {
		l, err := e.Link()
		if err != nil {
			return err
		}
		links = append(links, l)
	}
	return audit.VerifyChain(links)
}

func zeroHash() string { return audit.ZeroHash }

// dayBounds returns the UTC day window [start, end) containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := t.UTC().Truncate(24 * time.Hour)
	return start, start.Add(24 * time.Hour)
}
