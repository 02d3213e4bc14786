package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/securebank/ledger-core/internal/account"
	"github.com/securebank/ledger-core/internal/idempotency"
	"github.com/securebank/ledger-core/internal/journal"
)

// reversalKeyPrefix namespaces reversal request ids so a reversal can never
// collide with a client-chosen idempotency key.
const reversalKeyPrefix = "reverse:"

// Reverse compensates a previously applied transaction by journaling and
// applying negated deltas for every entry the original request produced.
// A transaction is reversed at most once, enforced both by the idempotency
// guard and by a durable journal check.
func (e *Engine) Reverse(ctx context.Context, entryID string) (TransactionResult, error) {
	orig, err := e.journal.Get(ctx, entryID)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			e.metrics.ObserveReversal(string(StatusRejected))
			return TransactionResult{Status: StatusRejected, ReasonCode: ReasonEntryNotFound}, nil
		}
		return TransactionResult{}, fmt.Errorf("entry lookup failed: %w", ErrServiceUnavailable)
	}

	revKey := reversalKeyPrefix + orig.RequestID

	switch state, prior := e.guard.CheckOrReserve(revKey); state {
	case idempotency.Done:
		res, ok := prior.(TransactionResult)
		if !ok {
			return TransactionResult{}, fmt.Errorf("unexpected idempotency payload for %s", revKey)
		}
		res.Status = StatusDuplicate
		return res, nil
	case idempotency.InFlight:
		return TransactionResult{}, fmt.Errorf("reversal of %s already in flight: %w", orig.RequestID, ErrServiceUnavailable)
	}

	// The guard forgets after its TTL; the journal does not. A reversal
	// that already landed must stay rejected forever.
	existing, err := e.journal.QueryByRequest(ctx, revKey)
	if err != nil {
		e.guard.Release(revKey)
		return TransactionResult{}, fmt.Errorf("reversal lookup failed: %w", ErrServiceUnavailable)
	}
	for _, prev := range existing {
		if prev.Status == journal.StatusReversal {
			return e.rejectReversal(ctx, revKey, orig, ReasonAlreadyReversed)
		}
	}

	if reason := e.reversible(orig); reason != "" {
		return e.rejectReversal(ctx, revKey, orig, reason)
	}

	applied, err := e.appliedEntries(ctx, orig.RequestID)
	if err != nil {
		e.guard.Release(revKey)
		return TransactionResult{}, err
	}
	if len(applied) == 0 {
		return e.rejectReversal(ctx, revKey, orig, ReasonNotReversible)
	}

	ids := make([]string, 0, len(applied))
	for _, entry := range applied {
		ids = append(ids, entry.AccountID)
	}

	var reversals []*journal.LedgerEntry
	lockStart := time.Now()
	err = e.accounts.WithLock(ctx, ids, func(tx account.Txn) error {
		reversals = reversals[:0]
		for _, entry := range applied {
			acct, gerr := e.accounts.GetAccount(ctx, entry.AccountID)
			if gerr != nil {
				return &ruleViolation{reason: ReasonAccountNotFound}
			}
			if acct.Status == account.StatusClosed {
				return &ruleViolation{reason: ReasonAccountClosed}
			}
			bal, berr := tx.Balance(entry.AccountID)
			if berr != nil {
				return berr
			}
			if bal.Amount-entry.Amount < -acct.OverdraftLimit {
				return &ruleViolation{reason: ReasonInsufficientFunds}
			}
			next, aerr := tx.Apply(entry.AccountID, -entry.Amount, bal.Version)
			if aerr != nil {
				return aerr
			}
			after := next.Amount
			reversals = append(reversals, &journal.LedgerEntry{
				RequestID:    revKey,
				AccountID:    entry.AccountID,
				Type:         entry.Type,
				Status:       journal.StatusReversal,
				Asset:        entry.Asset,
				Amount:       -entry.Amount,
				BalanceAfter: &after,
				Rate:         entry.Rate,
				Metadata:     map[string]string{"reversal_of": entryID},
			})
		}
		// Staged mutations commit only when this callback returns nil, so
		// a failed append discards every compensating delta.
		if err := e.journal.Append(ctx, reversals); err != nil {
			return fmt.Errorf("journal append failed: %w", ErrServiceUnavailable)
		}
		return nil
	})
	e.metrics.ObserveLockHold(time.Since(lockStart))

	if err != nil {
		var rv *ruleViolation
		switch {
		case errors.As(err, &rv):
			return e.rejectReversal(ctx, revKey, orig, rv.reason)
		case errors.Is(err, ErrConsistency):
			return TransactionResult{}, err
		default:
			e.guard.Release(revKey)
			if errors.Is(err, ErrServiceUnavailable) {
				return TransactionResult{}, err
			}
			return TransactionResult{}, fmt.Errorf("lock section failed: %w (%v)", ErrServiceUnavailable, err)
		}
	}

	primary := reversals[0]
	res := TransactionResult{
		Status:        StatusReversed,
		LedgerEntryID: primary.ID,
		NewBalance:    primary.BalanceAfter,
	}
	if cerr := e.guard.Complete(revKey, res); cerr != nil {
		slog.Warn("idempotency key lost before completion, replay protection gone",
			"request_id", revKey, "error", cerr)
	}
	e.metrics.ObserveReversal(string(StatusReversed))
	e.publish(ctx, primary)
	return res, nil
}

// reversible returns a reason code when orig cannot be reversed, or "".
func (e *Engine) reversible(orig *journal.LedgerEntry) string {
	if orig.Status == journal.StatusReversal {
		return ReasonNotReversible
	}
	if orig.Status != journal.StatusApplied {
		return ReasonNotReversible
	}
	if !TxType(orig.Type).Reversible() {
		return ReasonNotReversible
	}
	if time.Now().UTC().After(orig.CreatedAt.Add(e.cfg.ReversalWindow)) {
		return ReasonReversalWindowClosed
	}
	return ""
}

// appliedEntries loads the APPLIED entries of the original request, the
// full set of deltas a reversal must compensate.
func (e *Engine) appliedEntries(ctx context.Context, requestID string) ([]*journal.LedgerEntry, error) {
	all, err := e.journal.QueryByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("request lookup failed: %w", ErrServiceUnavailable)
	}
	applied := all[:0:0]
	for _, entry := range all {
		if entry.Status == journal.StatusApplied {
			applied = append(applied, entry)
		}
	}
	return applied, nil
}

// rejectReversal journals the rejected reversal attempt against the
// original entry's account and binds the reversal key to the result.
func (e *Engine) rejectReversal(ctx context.Context, revKey string, orig *journal.LedgerEntry, reason string) (TransactionResult, error) {
	res := TransactionResult{Status: StatusRejected, ReasonCode: reason}

	entry := &journal.LedgerEntry{
		RequestID:  revKey,
		AccountID:  orig.AccountID,
		Type:       orig.Type,
		Status:     journal.StatusRejected,
		Asset:      orig.Asset,
		Amount:     0,
		ReasonCode: reason,
		Metadata:   map[string]string{"reversal_of": orig.ID},
	}
	if err := e.journal.Append(ctx, []*journal.LedgerEntry{entry}); err != nil {
		e.guard.Release(revKey)
		return TransactionResult{}, fmt.Errorf("failed to journal rejection: %w", ErrServiceUnavailable)
	}
	res.LedgerEntryID = entry.ID

	if cerr := e.guard.Complete(revKey, res); cerr != nil {
		slog.Warn("idempotency key lost before completion, replay protection gone",
			"request_id", revKey, "error", cerr)
	}
	e.metrics.ObserveReversal(string(StatusRejected))
	return res, nil
}
