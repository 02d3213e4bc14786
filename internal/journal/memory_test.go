package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securebank/ledger-core/pkg/audit"
)

func entry(requestID, accountID string, amount int64) *LedgerEntry {
	after := int64(0)
	return &LedgerEntry{
		RequestID:    requestID,
		AccountID:    accountID,
		Type:         "TRANSFER",
		Status:       StatusApplied,
		Asset:        "FIAT_NGN",
		Amount:       amount,
		BalanceAfter: &after,
	}
}

func TestMemJournal_AppendAssignsSeqAndHash(t *testing.T) {
	j := NewMemJournal()

	batch := []*LedgerEntry{entry("req-1", "acct-a", -100), entry("req-1", "acct-b", 100)}
	require.NoError(t, j.Append(context.Background(), batch))

	for _, e := range batch {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, int64(1), e.Seq)
		assert.Equal(t, audit.ZeroHash, e.PrevHash)
		assert.NotEmpty(t, e.Hash)
		assert.False(t, e.CreatedAt.IsZero())
	}

	second := []*LedgerEntry{entry("req-2", "acct-a", -50)}
	require.NoError(t, j.Append(context.Background(), second))
	assert.Equal(t, int64(2), second[0].Seq)
	assert.Equal(t, batch[0].Hash, second[0].PrevHash, "chain links to the prior entry")
}

func TestMemJournal_AppendEmptyBatch(t *testing.T) {
	j := NewMemJournal()
	assert.ErrorIs(t, j.Append(context.Background(), nil), ErrEmptyBatch)
}

func TestMemJournal_AppendReplaySameOutcome(t *testing.T) {
	j := NewMemJournal()

	first := []*LedgerEntry{entry("req-1", "acct-a", -100), entry("req-1", "acct-b", 100)}
	require.NoError(t, j.Append(context.Background(), first))

	// A caller whose commit elsewhere failed re-runs its critical section
	// and hands the journal the same outcome in fresh entry structs. The
	// stored entries win; nothing is written twice.
	replay := []*LedgerEntry{entry("req-1", "acct-a", -100), entry("req-1", "acct-b", 100)}
	require.NoError(t, j.Append(context.Background(), replay))
	assert.Equal(t, first[0].ID, replay[0].ID)
	assert.Equal(t, first[1].ID, replay[1].ID)
	assert.Equal(t, first[0].Hash, replay[0].Hash)

	chain, err := j.QueryByAccount(context.Background(), "acct-a", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, chain, 1, "replay must not double-write")

	total, err := j.SumDebitsForDay(context.Background(), "acct-a", "TRANSFER", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(100), total, "replay must not double-count limits")
}

func TestMemJournal_AppendDifferentOutcomeSameRequest(t *testing.T) {
	j := NewMemJournal()

	applied := []*LedgerEntry{entry("req-1", "acct-a", -100)}
	require.NoError(t, j.Append(context.Background(), applied))

	// A later rejected attempt under the same request id is a new outcome,
	// not a replay.
	rejected := entry("req-1", "acct-a", 0)
	rejected.Status = StatusRejected
	rejected.BalanceAfter = nil
	require.NoError(t, j.Append(context.Background(), []*LedgerEntry{rejected}))

	all, err := j.QueryByRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemJournal_GetAndQueries(t *testing.T) {
	j := NewMemJournal()
	batch := []*LedgerEntry{entry("req-1", "acct-a", -100), entry("req-1", "acct-b", 100)}
	require.NoError(t, j.Append(context.Background(), batch))

	got, err := j.Get(context.Background(), batch[0].ID)
	require.NoError(t, err)
	assert.Equal(t, batch[0].Hash, got.Hash)

	_, err = j.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	byReq, err := j.QueryByRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Len(t, byReq, 2)

	byAcct, err := j.QueryByAccount(context.Background(), "acct-a", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, byAcct, 1)
	assert.Equal(t, int64(-100), byAcct[0].Amount)

	head, err := j.Head(context.Background(), "acct-a")
	require.NoError(t, err)
	assert.Equal(t, batch[0].ID, head.ID)
}

func TestMemJournal_ChainVerifiesAndDetectsTamper(t *testing.T) {
	j := NewMemJournal()
	for i := 0; i < 4; i++ {
		require.NoError(t, j.Append(context.Background(), []*LedgerEntry{entry("req", "acct-a", int64(-i-1))}))
	}

	entries, err := j.QueryByAccount(context.Background(), "acct-a", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.NoError(t, VerifyAccountChain(entries))

	entries[2].Amount = 999_999
	err = VerifyAccountChain(entries)
	require.Error(t, err)
	var broken *audit.BrokenChainError
	require.ErrorAs(t, err, &broken)
	assert.Equal(t, 2, broken.Index)
}

func TestMemJournal_SumDebitsForDay(t *testing.T) {
	j := NewMemJournal()

	batch := []*LedgerEntry{
		entry("r1", "acct-a", -100),
		entry("r2", "acct-a", -40),
		entry("r3", "acct-a", 500), // credit, not counted
	}
	require.NoError(t, j.Append(context.Background(), batch))

	rejected := entry("r4", "acct-a", 0)
	rejected.Status = StatusRejected
	require.NoError(t, j.Append(context.Background(), []*LedgerEntry{rejected}))

	otherType := entry("r5", "acct-a", -25)
	otherType.Type = "WITHDRAWAL"
	require.NoError(t, j.Append(context.Background(), []*LedgerEntry{otherType}))

	sum, err := j.SumDebitsForDay(context.Background(), "acct-a", "TRANSFER", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(140), sum)

	sum, err = j.SumDebitsForDay(context.Background(), "acct-a", "TRANSFER", time.Now().UTC().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sum, "other days count separately")
}

func TestMemJournal_Accounts(t *testing.T) {
	j := NewMemJournal()
	require.NoError(t, j.Append(context.Background(), []*LedgerEntry{entry("r1", "acct-a", -1)}))
	require.NoError(t, j.Append(context.Background(), []*LedgerEntry{entry("r2", "acct-b", -1)}))

	ids, err := j.Accounts(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acct-a", "acct-b"}, ids)
}
