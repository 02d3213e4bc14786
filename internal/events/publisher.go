// Package events fans applied transaction outcomes out to downstream
// consumers (notifications, statements, analytics). Publishing is best
// effort: the journal entry is already durable before an event is emitted,
// so a publish failure is logged and never fails the transaction.
package events

import (
	"context"
	"time"
)

// TransactionEvent describes one terminal transaction outcome.
type TransactionEvent struct {
	LedgerEntryID string    `json:"ledger_entry_id"`
	RequestID     string    `json:"request_id"`
	AccountID     string    `json:"account_id"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Asset         string    `json:"asset"`
	Amount        int64     `json:"amount"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers transaction events.
type Publisher interface {
	Publish(ctx context.Context, evt TransactionEvent) error
	Close() error
}

// NopPublisher discards events. Default when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, evt TransactionEvent) error { return nil }
func (NopPublisher) Close() error                                            { return nil }

var _ Publisher = NopPublisher{}
