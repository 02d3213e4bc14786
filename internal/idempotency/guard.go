// Package idempotency deduplicates retried transaction submissions. A key
// is reserved atomically before execution, so at most one in-flight
// execution exists per key, and its terminal result is replayed to every
// retry within the retention window.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the answer to CheckOrReserve.
type State int

const (
	// Fresh means the key was unknown and is now reserved by the caller.
	Fresh State = iota
	// InFlight means another execution holds the reservation; callers
	// should surface a retryable error rather than execute again.
	InFlight
	// Done means a terminal result exists and is returned alongside.
	Done
)

// ErrUnknownKey is returned when completing or releasing a key that was
// never reserved.
var ErrUnknownKey = errors.New("idempotency key not reserved")

type record struct {
	result     any
	done       bool
	reservedAt time.Time
	expiresAt  time.Time
}

// Guard is an in-memory idempotency registry. Terminal results are retained
// for TTL; reservations abandoned longer than the processing deadline are
// released so a crashed in-flight request cannot lock its key out forever.
type Guard struct {
	mu       sync.Mutex
	records  map[string]*record
	ttl      time.Duration
	deadline time.Duration
	now      func() time.Time
}

// NewGuard creates a guard with the given result TTL and in-flight
// processing deadline.
func NewGuard(ttl, processingDeadline time.Duration) *Guard {
	return &Guard{
		records:  make(map[string]*record),
		ttl:      ttl,
		deadline: processingDeadline,
		now:      time.Now,
	}
}

// CheckOrReserve atomically checks key and, if it is unknown (or its prior
// reservation expired), reserves it for the caller. For Done it returns the
// stored terminal result.
func (g *Guard) CheckOrReserve(key string) (State, any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	rec, ok := g.records[key]
	switch {
	case !ok:
		// fall through to reserve
	case rec.done && now.Before(rec.expiresAt):
		return Done, rec.result
	case rec.done:
		// retention expired; treat as a new logical request
	case now.Sub(rec.reservedAt) < g.deadline:
		return InFlight, nil
	}

	g.records[key] = &record{reservedAt: now}
	return Fresh, nil
}

// Complete stores the terminal result for a reserved key.
func (g *Guard) Complete(key string, result any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[key]
	if !ok {
		return ErrUnknownKey
	}
	rec.done = true
	rec.result = result
	rec.expiresAt = g.now().Add(g.ttl)
	return nil
}

// Release abandons a reservation without recording a terminal result, so
// the caller may retry with the same key after a transient failure.
func (g *Guard) Release(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[key]
	if !ok {
		return ErrUnknownKey
	}
	if rec.done {
		// Terminal results are never released.
		return nil
	}
	delete(g.records, key)
	return nil
}

// Sweep evicts expired terminal records and stale reservations. Returns the
// number of records removed.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for key, rec := range g.records {
		if rec.done && !now.Before(rec.expiresAt) {
			delete(g.records, key)
			removed++
		} else if !rec.done && now.Sub(rec.reservedAt) >= g.deadline {
			delete(g.records, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is canceled.
func (g *Guard) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Sweep()
			}
		}
	}()
}
