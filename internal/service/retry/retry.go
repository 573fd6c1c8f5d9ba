package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"NightScan/internal/domain/errs"
)

// Policy is the single retry policy applied to provider calls. Only
// transient failures are retried; every other kind is returned at once.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	// OnRetry, when set, is called before each wait.
	OnRetry func(err error, wait time.Duration)
}

// Default returns three attempts with 500ms doubling up to 5s.
func Default() Policy {
	return Policy{MaxAttempts: 3, Initial: 500 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		eb.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		eb.MaxInterval = p.Max
	}
	if p.Multiplier >= 1 {
		eb.Multiplier = p.Multiplier
	}
	eb.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Do runs fn until it succeeds, fails with a non-transient error, the
// attempts are spent or ctx is done.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !errs.KindOf(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = p.OnRetry
	}
	return backoff.RetryNotify(op, p.backOff(ctx), notify)
}

// DoValue is Do for functions that return a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
