package account

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIntegrationStore connects to TEST_DATABASE_URL and applies the schema.
// Tests are skipped when the variable is unset.
func newIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, Schema())
	require.NoError(t, err)

	return NewPostgresStore(pool)
}

func createIntegrationAccount(t *testing.T, s *PostgresStore) string {
	t.Helper()
	id := uuid.NewString()
	err := s.CreateAccount(context.Background(), Account{
		ID:      id,
		OwnerID: "owner-" + id,
		Number:  "num-" + id,
		Class:   ClassCurrent,
		Asset:   "FIAT_NGN",
		Status:  StatusActive,
	})
	require.NoError(t, err)
	return id
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	id := createIntegrationAccount(t, s)

	acct, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ClassCurrent, acct.Class)

	bal, err := s.GetBalance(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, bal.Amount)
	assert.Equal(t, int64(1), bal.Version)

	bal, err = s.Mutate(context.Background(), id, 250, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(250), bal.Amount)

	_, err = s.Mutate(context.Background(), id, 1, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestPostgresStore_WithLockConcurrentDebits(t *testing.T) {
	s := newIntegrationStore(t)
	id := createIntegrationAccount(t, s)

	_, err := s.Mutate(context.Background(), id, 100, 1)
	require.NoError(t, err)

	// Ten workers each try to take 60; serialization must let exactly one
	// through.
	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithLock(context.Background(), []string{id}, func(tx Txn) error {
				bal, err := tx.Balance(id)
				if err != nil {
					return err
				}
				if bal.Amount < 60 {
					return fmt.Errorf("insufficient")
				}
				_, err = tx.Apply(id, -60, bal.Version)
				return err
			})
			if err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	bal, err := s.GetBalance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(40), bal.Amount)
}

func TestPostgresStore_CloseRequiresZeroBalance(t *testing.T) {
	s := newIntegrationStore(t)
	id := createIntegrationAccount(t, s)

	_, err := s.Mutate(context.Background(), id, 10, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Close(context.Background(), id), ErrNonZeroBalance)

	_, err = s.Mutate(context.Background(), id, -10, 2)
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background(), id))

	acct, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, acct.Status)
}
