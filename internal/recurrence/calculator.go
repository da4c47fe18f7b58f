package recurrence

import (
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

const (
	// DefaultTolerance is how close scheduled_at must be to now to count as
	// a match without exact-minute alignment.
	DefaultTolerance = 2 * time.Minute

	// DefaultStaleAfter is how far scheduled_at may drift into the past
	// before it is recalculated.
	DefaultStaleAfter = 5 * time.Minute
)

// Calculator memoizes Next and answers the scheduler's per-campaign
// questions. It is safe for concurrent use when its Cache is.
type Calculator struct {
	cache      Cache
	tolerance  time.Duration
	staleAfter time.Duration
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithCache memoizes results in c. A nil cache disables memoization.
func WithCache(c Cache) Option {
	return func(calc *Calculator) { calc.cache = c }
}

// WithTolerance overrides DefaultTolerance.
func WithTolerance(d time.Duration) Option {
	return func(calc *Calculator) {
		if d > 0 {
			calc.tolerance = d
		}
	}
}

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(calc *Calculator) {
		if d > 0 {
			calc.staleAfter = d
		}
	}
}

// NewCalculator returns a Calculator with a default FreeCache.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{
		cache:      NewFreeCache(DefaultCacheSize, DefaultCacheTTL),
		tolerance:  DefaultTolerance,
		staleAfter: DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Next is the memoized form of the package-level Next.
func (c *Calculator) Next(r domain.Recurrence, from time.Time, tz string) (time.Time, bool, error) {
	s, err := compile(r, tz)
	if err != nil {
		return time.Time{}, false, err
	}
	if c.cache == nil {
		return s.next(from)
	}

	key := cacheKey(r, from, tz, s.loc)
	if res, hit := c.cache.Get(key); hit {
		return res.At.In(s.loc), res.OK, nil
	}
	at, ok, err := s.next(from)
	if err != nil {
		return time.Time{}, false, err
	}
	c.cache.Set(key, Result{At: at, OK: ok})
	return at, ok, nil
}

// NextOrCurrent is Next, except that a send time in now's own minute still
// counts. It is used when a stale schedule is recalculated, so a restart
// that lands on a send minute does not skip the slot that is due.
func (c *Calculator) NextOrCurrent(r domain.Recurrence, now time.Time, tz string) (time.Time, bool, error) {
	from := now.Truncate(time.Minute).Add(-SendBuffer - time.Second)
	return c.Next(r, from, tz)
}

// Tolerance returns the match window used by ShouldProcess.
func (c *Calculator) Tolerance() time.Duration { return c.tolerance }

// IsStale reports whether scheduledAt drifted more than the stale window
// into the past, e.g. after missed ticks or process downtime.
func (c *Calculator) IsStale(scheduledAt *time.Time, now time.Time) bool {
	return scheduledAt != nil && now.Sub(*scheduledAt) > c.staleAfter
}

// WithinTolerance reports whether scheduledAt is within the tolerance
// window of now, in either direction.
func (c *Calculator) WithinTolerance(scheduledAt *time.Time, now time.Time) bool {
	if scheduledAt == nil {
		return false
	}
	d := now.Sub(*scheduledAt)
	if d < 0 {
		d = -d
	}
	return d <= c.tolerance
}

// ShouldProcess decides whether a recurring campaign fires at now.
//
// It fires when today (in the recurrence's zone) is eligible and either
// the local minute equals a configured send time, or scheduledAt lies
// within the tolerance window. An exact-minute match does not fire while
// scheduledAt is still further in the future than the tolerance: that
// occurrence has already run.
func (c *Calculator) ShouldProcess(r domain.Recurrence, tz string, scheduledAt *time.Time, now time.Time) (bool, error) {
	s, err := compile(r, tz)
	if err != nil {
		return false, err
	}
	local := now.In(s.loc)
	if !s.eligible(dateOf(local)) {
		return false, nil
	}

	if c.WithinTolerance(scheduledAt, now) {
		return s.eligible(dateOf(scheduledAt.In(s.loc))), nil
	}
	if scheduledAt != nil && scheduledAt.After(now) {
		return false, nil
	}

	for _, t := range s.times {
		if local.Hour() == t.Hour && local.Minute() == t.Minute {
			return true, nil
		}
	}
	return false, nil
}

// DayEligible reports whether the local date of at is neither an off day
// nor outside the recurrence's date range.
func DayEligible(r domain.Recurrence, tz string, at time.Time) (bool, error) {
	s, err := compile(r, tz)
	if err != nil {
		return false, err
	}
	return s.eligible(dateOf(at.In(s.loc))), nil
}
