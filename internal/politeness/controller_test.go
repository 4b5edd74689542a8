package politeness

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newController(clock *fakeClock, cfg Config) *Controller {
	return New(cfg, clock, zap.NewNop())
}

func TestAdmit_PolitenessInterval(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	c := newController(clock, Config{
		Interval:         time.Second,
		ConcurrencyCap:   10,
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	})

	require.True(t, c.Admit("shop.example"))
	c.Release("shop.example", true)

	// Too soon for the same domain.
	require.False(t, c.Admit("shop.example"))

	// A different domain is independent.
	require.True(t, c.Admit("other.example"))

	clock.Advance(time.Second)
	require.True(t, c.Admit("shop.example"))
}

func TestAdmit_ConcurrencyCap(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	c := newController(clock, Config{
		ConcurrencyCap:   2,
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	})

	require.True(t, c.Admit("shop.example"))
	require.True(t, c.Admit("shop.example"))
	require.False(t, c.Admit("shop.example"), "cap of 2 reached")

	c.Release("shop.example", true)
	require.True(t, c.Admit("shop.example"))
	require.Equal(t, 2, c.InFlight("shop.example"))
}

func TestBreaker_TripCooldownProbe(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	c := newController(clock, Config{
		ConcurrencyCap:   10,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	})

	// Three consecutive failures trip the breaker.
	for i := 0; i < 3; i++ {
		require.True(t, c.Admit("shop.example"))
		c.Release("shop.example", false)
	}
	require.False(t, c.Admit("shop.example"), "breaker open")

	clock.Advance(29 * time.Second)
	require.False(t, c.Admit("shop.example"), "still cooling down")

	// Cooldown elapsed: exactly one probe goes through.
	clock.Advance(2 * time.Second)
	require.True(t, c.Admit("shop.example"))
	require.False(t, c.Admit("shop.example"), "only one probe while half-open")

	// Probe success closes the breaker.
	c.Release("shop.example", true)
	clock.Advance(time.Second)
	require.True(t, c.Admit("shop.example"))
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	c := newController(clock, Config{
		ConcurrencyCap:   10,
		FailureThreshold: 2,
		Cooldown:         10 * time.Second,
	})

	for i := 0; i < 2; i++ {
		require.True(t, c.Admit("shop.example"))
		c.Release("shop.example", false)
	}
	clock.Advance(11 * time.Second)
	require.True(t, c.Admit("shop.example"), "probe admitted")
	c.Release("shop.example", false)

	require.False(t, c.Admit("shop.example"), "reopened after failed probe")
	clock.Advance(11 * time.Second)
	require.True(t, c.Admit("shop.example"), "next probe after second cooldown")
}

func TestRelease_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	c := newController(clock, Config{
		ConcurrencyCap:   10,
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	})

	require.True(t, c.Admit("shop.example"))
	c.Release("shop.example", false)
	require.True(t, c.Admit("shop.example"))
	c.Release("shop.example", false)
	require.True(t, c.Admit("shop.example"))
	c.Release("shop.example", true) // interleaved success resets the streak

	require.True(t, c.Admit("shop.example"))
	c.Release("shop.example", false)
	require.True(t, c.Admit("shop.example"), "breaker must not trip after reset")
}
