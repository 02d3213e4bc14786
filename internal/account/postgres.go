package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL. Multi-account critical
// sections run inside a SERIALIZABLE transaction with SELECT ... FOR UPDATE
// row locks taken in ascending account-id order; serialization failures
// (SQLSTATE 40001) are retried with a short linear backoff.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

const pgMaxRetries = 3

// Schema returns the DDL the store expects. Callers own migration.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS accounts (
    id              TEXT PRIMARY KEY,
    owner_id        TEXT NOT NULL,
    number          TEXT UNIQUE NOT NULL,
    class           TEXT NOT NULL,
    asset           TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'ACTIVE',
    overdraft_limit BIGINT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS account_balances (
    account_id TEXT PRIMARY KEY REFERENCES accounts(id),
    amount     BIGINT NOT NULL DEFAULT 0,
    version    BIGINT NOT NULL DEFAULT 1
);`
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acct Account) error {
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	if acct.Status == "" {
		acct.Status = StatusActive
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.Pool.BeginTx(queryCtx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	var exists bool
	err = tx.QueryRow(queryCtx,
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1 OR number = $2)",
		acct.ID, acct.Number).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check account existence: %w", err)
	}
	if exists {
		return ErrExists
	}

	_, err = tx.Exec(queryCtx, `
        INSERT INTO accounts (id, owner_id, number, class, asset, status, overdraft_limit, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, acct.ID, acct.OwnerID, acct.Number, acct.Class, acct.Asset, acct.Status, acct.OverdraftLimit, acct.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	_, err = tx.Exec(queryCtx, `
        INSERT INTO account_balances (account_id, amount, version) VALUES ($1, 0, 1)
    `, acct.ID)
	if err != nil {
		return fmt.Errorf("failed to initialize balance: %w", err)
	}

	return tx.Commit(queryCtx)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var acct Account
	err := s.Pool.QueryRow(queryCtx, `
        SELECT id, owner_id, number, class, asset, status, overdraft_limit, created_at
        FROM accounts WHERE id = $1
    `, id).Scan(&acct.ID, &acct.OwnerID, &acct.Number, &acct.Class, &acct.Asset,
		&acct.Status, &acct.OverdraftLimit, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, id string) (Balance, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	b := Balance{AccountID: id}
	err := s.Pool.QueryRow(queryCtx, `
        SELECT amount, version FROM account_balances WHERE account_id = $1
    `, id).Scan(&b.Amount, &b.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx,
		"UPDATE accounts SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context, id string) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.Pool.BeginTx(queryCtx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	var amount int64
	err = tx.QueryRow(queryCtx,
		"SELECT amount FROM account_balances WHERE account_id = $1 FOR UPDATE", id).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock balance: %w", err)
	}
	if amount != 0 {
		return ErrNonZeroBalance
	}

	if _, err := tx.Exec(queryCtx,
		"UPDATE accounts SET status = $1 WHERE id = $2", StatusClosed, id); err != nil {
		return fmt.Errorf("failed to close account: %w", err)
	}
	return tx.Commit(queryCtx)
}

func (s *PostgresStore) Mutate(ctx context.Context, id string, delta int64, expectedVersion int64) (Balance, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	b := Balance{AccountID: id}
	err := s.Pool.QueryRow(queryCtx, `
        UPDATE account_balances
        SET amount = amount + $1, version = version + 1
        WHERE account_id = $2 AND version = $3
        RETURNING amount, version
    `, delta, id, expectedVersion).Scan(&b.Amount, &b.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the account is unknown or the version is stale.
			if _, gerr := s.GetBalance(ctx, id); gerr != nil {
				return Balance{}, gerr
			}
			return Balance{}, ErrVersionConflict
		}
		return Balance{}, fmt.Errorf("failed to mutate balance: %w", err)
	}
	return b, nil
}

// WithLock runs fn inside a SERIALIZABLE transaction with every account row
// locked FOR UPDATE in ascending id order. Serialization failures retry the
// whole critical section.
func (s *PostgresStore) WithLock(ctx context.Context, ids []string, fn func(tx Txn) error) error {
	ordered := dedupeSorted(ids)

	for attempt := 0; attempt < pgMaxRetries; attempt++ {
		err := s.withLockOnce(ctx, ordered, fn)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				if attempt == pgMaxRetries-1 {
					return fmt.Errorf("lock section failed after %d retries due to serialization failure: %w", pgMaxRetries, err)
				}
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return err
		}
		break
	}
	return nil
}

func (s *PostgresStore) withLockOnce(ctx context.Context, ordered []string, fn func(tx Txn) error) error {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	view := &pgTxn{ctx: ctx, tx: tx, balances: make(map[string]Balance)}
	for _, id := range ordered {
		b := Balance{AccountID: id}
		err := tx.QueryRow(ctx, `
            SELECT amount, version FROM account_balances
            WHERE account_id = $1 FOR UPDATE
        `, id).Scan(&b.Amount, &b.Version)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock account %s: %w", id, err)
		}
		view.balances[id] = b
	}

	if err := fn(view); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgTxn reads from and writes through the open pgx transaction.
type pgTxn struct {
	ctx      context.Context
	tx       pgx.Tx
	balances map[string]Balance
}

func (t *pgTxn) Balance(id string) (Balance, error) {
	b, ok := t.balances[id]
	if !ok {
		return Balance{}, ErrNotFound
	}
	return b, nil
}

func (t *pgTxn) Apply(id string, delta int64, expectedVersion int64) (Balance, error) {
	cur, ok := t.balances[id]
	if !ok {
		return Balance{}, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return Balance{}, ErrVersionConflict
	}

	b := Balance{AccountID: id}
	err := t.tx.QueryRow(t.ctx, `
        UPDATE account_balances
        SET amount = amount + $1, version = version + 1
        WHERE account_id = $2 AND version = $3
        RETURNING amount, version
    `, delta, id, expectedVersion).Scan(&b.Amount, &b.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrVersionConflict
		}
		return Balance{}, fmt.Errorf("failed to apply delta: %w", err)
	}
	t.balances[id] = b
	return b, nil
}

var _ Store = (*PostgresStore)(nil)
