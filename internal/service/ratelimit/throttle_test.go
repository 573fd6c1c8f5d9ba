package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NightScan/internal/domain/errs"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestReserve_SpacesCalls(t *testing.T) {
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	th := New(WithClock(c.Now))
	th.Configure("primary", Limits{MinSpacing: time.Second})

	for i := 0; i < 3; i++ {
		d, err := th.Reserve("primary")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(i)*time.Second, d)
	}

	// once the clock passes the booked slots there is no wait
	c.Set(c.Now().Add(10 * time.Second))
	d, err := th.Reserve("primary")
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestReserve_DailyBudgetAndUTCReset(t *testing.T) {
	c := &clock{now: time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)}
	th := New(WithClock(c.Now))
	th.Configure("secondary", Limits{DailyBudget: 2})

	_, err := th.Reserve("secondary")
	require.NoError(t, err)
	_, err = th.Reserve("secondary")
	require.NoError(t, err)

	assert.True(t, th.Exhausted("secondary"))
	_, err = th.Reserve("secondary")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindRateLimited))
	assert.Equal(t, int64(2), th.Used()["secondary"])

	c.Set(time.Date(2024, 5, 2, 0, 0, 1, 0, time.UTC))
	assert.False(t, th.Exhausted("secondary"))
	assert.Equal(t, int64(0), th.Used()["secondary"])
}

func TestWait_HonoursCancellation(t *testing.T) {
	th := New()
	th.Configure("primary", Limits{MinSpacing: time.Hour})
	require.NoError(t, th.Wait(context.Background(), "primary"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, th.Wait(ctx, "primary"))

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	assert.ErrorIs(t, th.Wait(cancelled, "primary"), context.Canceled)

	// waits that gave up were not charged
	assert.Equal(t, int64(1), th.Used()["primary"])
}

func TestWait_PacesRealCalls(t *testing.T) {
	th := New()
	th.Configure("primary", Limits{MinSpacing: 50 * time.Millisecond, DailyBudget: 3})

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Wait(context.Background(), "primary"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	err := th.Wait(context.Background(), "primary")
	assert.True(t, errs.Is(err, errs.KindRateLimited))
}

func TestConfigure_ZeroSpacingDoesNotPace(t *testing.T) {
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	th := New(WithClock(c.Now))
	th.Configure("p", Limits{})
	for i := 0; i < 5; i++ {
		d, err := th.Reserve("p")
		require.NoError(t, err)
		assert.Zero(t, d)
	}
}

func TestThrottle_ConcurrentReservationsAreMonotonic(t *testing.T) {
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	th := New(WithClock(c.Now))
	th.Configure("p", Limits{MinSpacing: time.Millisecond})

	var mu sync.Mutex
	seen := make(map[time.Duration]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := th.Reserve("p")
			require.NoError(t, err)
			mu.Lock()
			seen[d] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}
