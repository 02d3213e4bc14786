package account

import "context"

// Txn is the view handed to the critical section of Store.WithLock. All
// reads and mutations through a Txn happen under exclusive access to the
// locked accounts.
type Txn interface {
	// Balance reads the current balance of a locked account.
	Balance(id string) (Balance, error)
	// Apply adds delta to a locked account's balance and bumps its version.
	// It fails with ErrVersionConflict if expectedVersion is stale.
	Apply(id string, delta int64, expectedVersion int64) (Balance, error)
}

// Store is the persistence contract for accounts and balances. Balances are
// mutated exclusively through WithLock; reads outside a lock may be stale.
type Store interface {
	CreateAccount(ctx context.Context, acct Account) error
	GetAccount(ctx context.Context, id string) (Account, error)
	GetBalance(ctx context.Context, id string) (Balance, error)
	// SetStatus updates the mutable lifecycle state of an account.
	SetStatus(ctx context.Context, id string, status Status) error
	// Close marks an account CLOSED. It fails with ErrNonZeroBalance unless
	// the balance is exactly zero.
	Close(ctx context.Context, id string) error
	// Mutate applies delta with optimistic concurrency, without taking the
	// account lock. It fails with ErrVersionConflict when expectedVersion is
	// stale, signaling the caller to re-read and retry.
	Mutate(ctx context.Context, id string, delta int64, expectedVersion int64) (Balance, error)
	// WithLock acquires exclusive locks on every id (deduplicated, in
	// ascending id order so concurrent multi-account transactions cannot
	// deadlock), runs fn, and releases the locks on every exit path. If fn
	// returns an error, no mutation performed inside fn is kept.
	WithLock(ctx context.Context, ids []string, fn func(tx Txn) error) error
}
