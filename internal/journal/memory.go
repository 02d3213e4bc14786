package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemJournal is an in-memory Journal. Suitable for tests and for dev-mode
// ledgerd runs; entries live only as long as the process.
type MemJournal struct {
	mu        sync.RWMutex
	byID      map[string]*LedgerEntry
	byAccount map[string][]*LedgerEntry
	byRequest map[string][]*LedgerEntry
}

// NewMemJournal creates an empty in-memory journal.
func NewMemJournal() *MemJournal {
	return &MemJournal{
		byID:      make(map[string]*LedgerEntry),
		byAccount: make(map[string][]*LedgerEntry),
		byRequest: make(map[string][]*LedgerEntry),
	}
}

// Append seals and stores the batch. Sequence numbers and chain hashes are
// assigned under the journal lock so per-account ordering is total.
func (j *MemJournal) Append(ctx context.Context, entries []*LedgerEntry) error {
	if len(entries) == 0 {
		return ErrEmptyBatch
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if existing := j.byRequest[entries[0].RequestID]; replayOfExisting(entries, existing) {
		return nil
	}

	// Seal into a scratch copy first so a mid-batch failure leaves the
	// journal untouched.
	sealed := make([]*LedgerEntry, 0, len(entries))
	heads := make(map[string]string)
	seqs := make(map[string]int64)
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
			prevHash = j.headHashLocked(cp.AccountID)
		}
		seq, ok := seqs[cp.AccountID]
		if !ok {
			seq = j.nextSeqLocked(cp.AccountID)
		}

		cp.Seq = seq
		if err := cp.Seal(prevHash); err != nil {
			return err
		}
		heads[cp.AccountID] = cp.Hash
		seqs[cp.AccountID] = seq + 1
		sealed = append(sealed, &cp)
	}

	for _, e := range sealed {
		j.byID[e.ID] = e
		j.byAccount[e.AccountID] = append(j.byAccount[e.AccountID], e)
		j.byRequest[e.RequestID] = append(j.byRequest[e.RequestID], e)
	}
	for i, e := range sealed {
		*entries[i] = *e
	}
	return nil
}

func (j *MemJournal) headHashLocked(accountID string) string {
	chain := j.byAccount[accountID]
	if len(chain) == 0 {
		return zeroHash()
	}
	return chain[len(chain)-1].Hash
}

func (j *MemJournal) nextSeqLocked(accountID string) int64 {
	chain := j.byAccount[accountID]
	if len(chain) == 0 {
		return 1
	}
	return chain[len(chain)-1].Seq + 1
}

func (j *MemJournal) Get(ctx context.Context, entryID string) (*LedgerEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	e, ok := j.byID[entryID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (j *MemJournal) QueryByAccount(ctx context.Context, accountID string, from, to time.Time) ([]*LedgerEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []*LedgerEntry
	for _, e := range j.byAccount[accountID] {
		if (from.IsZero() || !e.CreatedAt.Before(from)) && (to.IsZero() || e.CreatedAt.Before(to)) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out, nil
}

func (j *MemJournal) QueryByRequest(ctx context.Context, requestID string) ([]*LedgerEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []*LedgerEntry
	for _, e := range j.byRequest[requestID] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (j *MemJournal) Head(ctx context.Context, accountID string) (*LedgerEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	chain := j.byAccount[accountID]
	if len(chain) == 0 {
		return nil, nil
	}
	cp := *chain[len(chain)-1]
	return &cp, nil
}

func (j *MemJournal) SumDebitsForDay(ctx context.Context, accountID, txType string, day time.Time) (int64, error) {
	start, end := dayBounds(day)

	j.mu.RLock()
	defer j.mu.RUnlock()

	var total int64
	for _, e := range j.byAccount[accountID] {
		if e.Status != StatusApplied || e.Type != txType || e.Amount >= 0 {
			continue
		}
		if e.CreatedAt.Before(start) || !e.CreatedAt.Before(end) {
			continue
		}
		total += -e.Amount
	}
	return total, nil
}

func (j *MemJournal) Accounts(ctx context.Context) ([]string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]string, 0, len(j.byAccount))
	for id := range j.byAccount {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

var _ Journal = (*MemJournal)(nil)
