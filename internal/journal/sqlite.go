package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteJournal is a durable Journal in a single SQLite file. The batch is
// written inside one transaction; sequence assignment and hash chaining
// happen in the same transaction as the insert, so a reader never observes
// a gap or an unsealed entry.
type SQLiteJournal struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id            TEXT PRIMARY KEY,
    request_id    TEXT NOT NULL,
    account_id    TEXT NOT NULL,
    seq           INTEGER NOT NULL,
    type          TEXT NOT NULL,
    status        TEXT NOT NULL,
    asset         TEXT NOT NULL,
    amount        INTEGER NOT NULL,
    balance_after INTEGER,
    reason_code   TEXT NOT NULL DEFAULT '',
    rate          TEXT NOT NULL DEFAULT '',
    prev_hash     TEXT NOT NULL,
    hash          TEXT NOT NULL,
    created_at    TIMESTAMP NOT NULL,
    metadata      TEXT NOT NULL DEFAULT '{}',
    UNIQUE(account_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_request ON ledger_entries(request_id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_time ON ledger_entries(account_id, created_at);
`

// OpenSQLiteJournal opens (and migrates) the journal file at path.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Close releases the underlying database handle.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) Append(ctx context.Context, entries []*LedgerEntry) error {
	if len(entries) == 0 {
		return ErrEmptyBatch
	}

	existing, err := j.QueryByRequest(ctx, entries[0].RequestID)
	if err != nil {
		return err
	}
	if replayOfExisting(entries, existing) {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	heads := make(map[string]string)
	seqs := make(map[string]int64)
	sealed := make([]*LedgerEntry, 0, len(entries))

	for _, e := range entries {
		cp := *e
		if cp.ID == "" {
			cp.ID = uuid.New().String()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now().UTC()
		}

		prevHash, ok := heads[cp.AccountID]
		if !ok {
			prevHash, err = headHashTx(ctx, tx, cp.AccountID)
			if err != nil {
				return err
			}
		}
		seq, ok := seqs[cp.AccountID]
		if !ok {
			seq, err = nextSeqTx(ctx, tx, cp.AccountID)
			if err != nil {
				return err
			}
		}

		cp.Seq = seq
		if err := cp.Seal(prevHash); err != nil {
			return err
		}
		heads[cp.AccountID] = cp.Hash
		seqs[cp.AccountID] = seq + 1

		meta, err := json.Marshal(cp.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		var balanceAfter sql.NullInt64
		if cp.BalanceAfter != nil {
			balanceAfter = sql.NullInt64{Int64: *cp.BalanceAfter, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
            INSERT INTO ledger_entries (
                id, request_id, account_id, seq, type, status, asset, amount,
                balance_after, reason_code, rate, prev_hash, hash, created_at, metadata
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        `, cp.ID, cp.RequestID, cp.AccountID, cp.Seq, cp.Type, cp.Status, cp.Asset, cp.Amount,
			balanceAfter, cp.ReasonCode, cp.Rate, cp.PrevHash, cp.Hash, cp.CreatedAt, string(meta))
		if err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
		sealed = append(sealed, &cp)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal batch: %w", err)
	}
	for i, e := range sealed {
		*entries[i] = *e
	}
	return nil
}

func headHashTx(ctx context.Context, tx *sql.Tx, accountID string) (string, error) {
	var hash string
	err := tx.QueryRowContext(ctx, `
        SELECT hash FROM ledger_entries WHERE account_id = ? ORDER BY seq DESC LIMIT 1
    `, accountID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return zeroHash(), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read chain head: %w", err)
	}
	return hash, nil
}

func nextSeqTx(ctx context.Context, tx *sql.Tx, accountID string) (int64, error) {
	var seq sql.NullInt64
	err := tx.QueryRowContext(ctx, `
        SELECT MAX(seq) FROM ledger_entries WHERE account_id = ?
    `, accountID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read max seq: %w", err)
	}
	return seq.Int64 + 1, nil
}

const entryColumns = `id, request_id, account_id, seq, type, status, asset, amount,
    balance_after, reason_code, rate, prev_hash, hash, created_at, metadata`

func scanEntry(row interface{ Scan(...any) error }) (*LedgerEntry, error) {
	var (
		e            LedgerEntry
		balanceAfter sql.NullInt64
		meta         string
	)
	err := row.Scan(&e.ID, &e.RequestID, &e.AccountID, &e.Seq, &e.Type, &e.Status, &e.Asset,
		&e.Amount, &balanceAfter, &e.ReasonCode, &e.Rate, &e.PrevHash, &e.Hash, &e.CreatedAt, &meta)
	if err != nil {
		return nil, err
	}
	if balanceAfter.Valid {
		v := balanceAfter.Int64
		e.BalanceAfter = &v
	}
	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func (j *SQLiteJournal) Get(ctx context.Context, entryID string) (*LedgerEntry, error) {
	row := j.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE id = ?", entryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return e, nil
}

func (j *SQLiteJournal) queryEntries(ctx context.Context, query string, args ...any) ([]*LedgerEntry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) QueryByAccount(ctx context.Context, accountID string, from, to time.Time) ([]*LedgerEntry, error) {
	query := "SELECT " + entryColumns + " FROM ledger_entries WHERE account_id = ?"
	args := []any{accountID}
	if !from.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += " AND created_at < ?"
		args = append(args, to.UTC())
	}
	query += " ORDER BY seq ASC"
	return j.queryEntries(ctx, query, args...)
}

func (j *SQLiteJournal) QueryByRequest(ctx context.Context, requestID string) ([]*LedgerEntry, error) {
	return j.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE request_id = ? ORDER BY account_id, seq", requestID)
}

func (j *SQLiteJournal) Head(ctx context.Context, accountID string) (*LedgerEntry, error) {
	row := j.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE account_id = ? ORDER BY seq DESC LIMIT 1", accountID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}
	return e, nil
}

func (j *SQLiteJournal) SumDebitsForDay(ctx context.Context, accountID, txType string, day time.Time) (int64, error) {
	start, end := dayBounds(day)
	var total sql.NullInt64
	err := j.db.QueryRowContext(ctx, `
        SELECT SUM(-amount) FROM ledger_entries
        WHERE account_id = ? AND type = ? AND status = ? AND amount < 0
          AND created_at >= ? AND created_at < ?
    `, accountID, txType, StatusApplied, start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum daily debits: %w", err)
	}
	return total.Int64, nil
}

func (j *SQLiteJournal) Accounts(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT DISTINCT account_id FROM ledger_entries ORDER BY account_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var _ Journal = (*SQLiteJournal)(nil)
