package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a controllable time source for guard tests.
type clock struct {
	now time.Time
}

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestGuard(ttl, deadline time.Duration) (*Guard, *clock) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	g := NewGuard(ttl, deadline)
	g.now = func() time.Time { return c.now }
	return g, c
}

func TestGuard_ReserveAndComplete(t *testing.T) {
	g, _ := newTestGuard(time.Hour, time.Minute)

	state, _ := g.CheckOrReserve("k1")
	assert.Equal(t, Fresh, state)

	state, _ = g.CheckOrReserve("k1")
	assert.Equal(t, InFlight, state)

	require.NoError(t, g.Complete("k1", "result-1"))

	state, result := g.CheckOrReserve("k1")
	assert.Equal(t, Done, state)
	assert.Equal(t, "result-1", result)
}

func TestGuard_CompleteUnknownKey(t *testing.T) {
	g, _ := newTestGuard(time.Hour, time.Minute)
	assert.ErrorIs(t, g.Complete("ghost", nil), ErrUnknownKey)
	assert.ErrorIs(t, g.Release("ghost"), ErrUnknownKey)
}

func TestGuard_ReleaseAllowsRetry(t *testing.T) {
	g, _ := newTestGuard(time.Hour, time.Minute)

	state, _ := g.CheckOrReserve("k1")
	require.Equal(t, Fresh, state)
	require.NoError(t, g.Release("k1"))

	state, _ = g.CheckOrReserve("k1")
	assert.Equal(t, Fresh, state, "a released key is reservable again")
}

func TestGuard_ReleaseNeverDropsTerminalResults(t *testing.T) {
	g, _ := newTestGuard(time.Hour, time.Minute)

	g.CheckOrReserve("k1")
	require.NoError(t, g.Complete("k1", 42))
	require.NoError(t, g.Release("k1"))

	state, result := g.CheckOrReserve("k1")
	assert.Equal(t, Done, state)
	assert.Equal(t, 42, result)
}

func TestGuard_TTLExpiry(t *testing.T) {
	g, c := newTestGuard(time.Hour, time.Minute)

	g.CheckOrReserve("k1")
	require.NoError(t, g.Complete("k1", "old"))

	c.advance(59 * time.Minute)
	state, _ := g.CheckOrReserve("k1")
	require.Equal(t, Done, state)
	require.NoError(t, g.Release("k1")) // terminal, ignored

	c.advance(2 * time.Minute)
	state, _ = g.CheckOrReserve("k1")
	assert.Equal(t, Fresh, state, "expired results make way for a new logical request")
}

func TestGuard_AbandonedReservationExpires(t *testing.T) {
	g, c := newTestGuard(time.Hour, time.Minute)

	state, _ := g.CheckOrReserve("k1")
	require.Equal(t, Fresh, state)

	c.advance(30 * time.Second)
	state, _ = g.CheckOrReserve("k1")
	assert.Equal(t, InFlight, state)

	c.advance(31 * time.Second)
	state, _ = g.CheckOrReserve("k1")
	assert.Equal(t, Fresh, state, "a crashed holder cannot lock the key out forever")
}

func TestGuard_Sweep(t *testing.T) {
	g, c := newTestGuard(time.Hour, time.Minute)

	g.CheckOrReserve("done-fresh")
	require.NoError(t, g.Complete("done-fresh", nil))
	g.CheckOrReserve("done-old")
	require.NoError(t, g.Complete("done-old", nil))
	g.CheckOrReserve("stale-reservation")

	c.advance(61 * time.Minute)
	g.CheckOrReserve("fresh-reservation")

	// done-fresh and done-old both expired an hour in; only the fresh
	// reservation survives.
	removed := g.Sweep()
	assert.Equal(t, 3, removed)

	state, _ := g.CheckOrReserve("fresh-reservation")
	assert.Equal(t, InFlight, state)
}
