package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"NightScan/internal/domain/errs"
	"NightScan/pkg/util"
)

// Limits configures one provider. A zero MinSpacing means no pacing and a
// zero DailyBudget means unlimited.
type Limits struct {
	MinSpacing  time.Duration
	DailyBudget int64
}

// every converts a spacing into a limiter rate with a burst of one.
func (l Limits) every() rate.Limit {
	if l.MinSpacing <= 0 {
		return rate.Inf
	}
	return rate.Every(l.MinSpacing)
}

type slot struct {
	limits  Limits
	limiter *rate.Limiter
	used    int64
	resetAt time.Time
}

// Throttle paces calls per provider and enforces a daily call budget that
// resets at the UTC day boundary. One Throttle is shared by every caller in
// the process.
type Throttle struct {
	mu    sync.Mutex
	slots map[string]*slot
	now   func() time.Time
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock replaces the time source used for budgets and reservations.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

func New(opts ...Option) *Throttle {
	t := &Throttle{slots: make(map[string]*slot), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Configure sets the limits of a provider. Counters are kept.
func (t *Throttle) Configure(provider string, limits Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slotLocked(provider)
	s.limits = limits
	s.limiter.SetLimitAt(t.now(), limits.every())
}

func (t *Throttle) slotLocked(provider string) *slot {
	s, ok := t.slots[provider]
	if !ok {
		s = &slot{
			limiter: rate.NewLimiter(rate.Inf, 1),
			resetAt: util.NextUTCMidnight(t.now()),
		}
		t.slots[provider] = s
	}
	if now := t.now(); !now.Before(s.resetAt) {
		s.used = 0
		s.resetAt = util.NextUTCMidnight(now)
	}
	return s
}

// spend counts one call against the budget and returns the provider's slot.
func (t *Throttle) spend(provider string) (*slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slotLocked(provider)
	if s.limits.DailyBudget > 0 && s.used >= s.limits.DailyBudget {
		return nil, errs.RateLimited("throttle", fmt.Errorf("daily budget of %d calls exhausted", s.limits.DailyBudget)).WithProvider(provider)
	}
	s.used++
	return s, nil
}

func (t *Throttle) refund(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.slotLocked(provider); s.used > 0 {
		s.used--
	}
}

// Exhausted reports whether the provider has spent its daily budget.
func (t *Throttle) Exhausted(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slotLocked(provider)
	return s.limits.DailyBudget > 0 && s.used >= s.limits.DailyBudget
}

// Reserve books the next call slot and returns how long the caller must
// wait before issuing it. The call counts against the daily budget.
func (t *Throttle) Reserve(provider string) (time.Duration, error) {
	s, err := t.spend(provider)
	if err != nil {
		return 0, err
	}
	now := t.now()
	return s.limiter.ReserveN(now, 1).DelayFrom(now), nil
}

// Wait blocks until the provider's next slot is due or ctx is done. A call
// that never happens is not charged to the budget.
func (t *Throttle) Wait(ctx context.Context, provider string) error {
	s, err := t.spend(provider)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		t.refund(provider)
		return fmt.Errorf("throttle %s: %w", provider, err)
	}
	return nil
}

// Used snapshots the calls made today per provider.
func (t *Throttle) Used() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int64, len(t.slots))
	for name := range t.slots {
		out[name] = t.slotLocked(name).used
	}
	return out
}
