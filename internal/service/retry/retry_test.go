package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NightScan/internal/domain/errs"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errs.Transient("fetch", errors.New("timeout"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Do(context.Background(), func(context.Context) error {
		calls++
		return errs.Transient("fetch", errors.New("503"))
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, errs.Is(err, errs.KindTransient))
}

func TestDo_RateLimitedIsNotRetried(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return errs.RateLimited("fetch", errors.New("429"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errs.Is(err, errs.KindRateLimited))
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errs.Transient("x", errors.New("blip"))
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_OnRetryCalledPerWait(t *testing.T) {
	waits := 0
	p := fastPolicy(3)
	p.OnRetry = func(error, time.Duration) { waits++ }
	_ = p.Do(context.Background(), func(context.Context) error {
		return errs.Transient("x", errors.New("blip"))
	})
	assert.Equal(t, 2, waits)
}
