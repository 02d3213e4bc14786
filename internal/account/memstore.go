package account

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store. Per-account mutexes serialize balance
// mutation; the map-level mutex only guards map access and is never held
// across a caller's critical section.
type MemStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	balances map[string]Balance
	locks    map[string]*sync.Mutex
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		accounts: make(map[string]Account),
		balances: make(map[string]Balance),
		locks:    make(map[string]*sync.Mutex),
	}
}

// CreateAccount registers an account with a zero balance at version 1.
func (s *MemStore) CreateAccount(ctx context.Context, acct Account) error {
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	if acct.Status == "" {
		acct.Status = StatusActive
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.ID]; ok {
		return ErrExists
	}
	for _, existing := range s.accounts {
		if existing.Number != "" && existing.Number == acct.Number {
			return ErrExists
		}
	}

	s.accounts[acct.ID] = acct
	s.balances[acct.ID] = Balance{AccountID: acct.ID, Amount: 0, Version: 1}
	s.locks[acct.ID] = &sync.Mutex{}
	return nil
}

func (s *MemStore) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (s *MemStore) GetBalance(ctx context.Context, id string) (Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[id]
	if !ok {
		return Balance{}, ErrNotFound
	}
	return b, nil
}

func (s *MemStore) SetStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	acct.Status = status
	s.accounts[id] = acct
	return nil
}

// Close marks the account CLOSED once its balance is zero.
func (s *MemStore) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if s.balances[id].Amount != 0 {
		return ErrNonZeroBalance
	}
	acct.Status = StatusClosed
	s.accounts[id] = acct
	return nil
}

// Mutate is the lock-free optimistic path: one compare-and-set on the
// balance version.
func (s *MemStore) Mutate(ctx context.Context, id string, delta int64, expectedVersion int64) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[id]
	if !ok {
		return Balance{}, ErrNotFound
	}
	if b.Version != expectedVersion {
		return Balance{}, ErrVersionConflict
	}
	b.Amount += delta
	b.Version++
	s.balances[id] = b
	return b, nil
}

// WithLock acquires the per-account mutexes in ascending id order, runs fn
// against a staged view, and commits the staged balances only when fn
// returns nil. Locks are released on every exit path.
func (s *MemStore) WithLock(ctx context.Context, ids []string, fn func(tx Txn) error) error {
	ordered := dedupeSorted(ids)

	s.mu.RLock()
	mutexes := make([]*sync.Mutex, 0, len(ordered))
	for _, id := range ordered {
		m, ok := s.locks[id]
		if !ok {
			s.mu.RUnlock()
			return ErrNotFound
		}
		mutexes = append(mutexes, m)
	}
	s.mu.RUnlock()

	for _, m := range mutexes {
		m.Lock()
	}
	defer func() {
		for i := len(mutexes) - 1; i >= 0; i-- {
			mutexes[i].Unlock()
		}
	}()

	tx := &memTxn{store: s, locked: ordered, staged: make(map[string]Balance)}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	for id, b := range tx.staged {
		s.balances[id] = b
	}
	s.mu.Unlock()
	return nil
}

// memTxn stages mutations so a failing critical section leaves every
// balance untouched.
type memTxn struct {
	store  *MemStore
	locked []string
	staged map[string]Balance
}

func (t *memTxn) holds(id string) bool {
	for _, l := range t.locked {
		if l == id {
			return true
		}
	}
	return false
}

func (t *memTxn) Balance(id string) (Balance, error) {
	if !t.holds(id) {
		return Balance{}, ErrNotFound
	}
	if b, ok := t.staged[id]; ok {
		return b, nil
	}
	return t.store.GetBalance(context.Background(), id)
}

func (t *memTxn) Apply(id string, delta int64, expectedVersion int64) (Balance, error) {
	cur, err := t.Balance(id)
	if err != nil {
		return Balance{}, err
	}
	if cur.Version != expectedVersion {
		return Balance{}, ErrVersionConflict
	}
	next := Balance{AccountID: id, Amount: cur.Amount + delta, Version: cur.Version + 1}
	t.staged[id] = next
	return next, nil
}

func dedupeSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

var _ Store = (*MemStore)(nil)
