package recurrence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
)

type countingCache struct {
	mu     sync.Mutex
	m      map[uint64]Result
	hits   int
	misses int
}

func newCountingCache() *countingCache {
	return &countingCache{m: make(map[uint64]Result)}
}

func (c *countingCache) Get(key uint64) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.m[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return r, ok
}

func (c *countingCache) Set(key uint64, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = res
}

func TestCalculator_NextMemoizes(t *testing.T) {
	cache := newCountingCache()
	calc := NewCalculator(WithCache(cache))
	r := twiceDaily()

	first, ok, err := calc.Next(r, time.Date(2026, 10, 15, 8, 0, 10, 0, time.UTC), "")
	require.NoError(t, err)
	require.True(t, ok)

	// Same minute, different seconds: served from cache.
	second, ok, err := calc.Next(r, time.Date(2026, 10, 15, 8, 0, 50, 0, time.UTC), "")
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, first.Equal(second))
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, 1, cache.misses)
}

func TestCalculator_CachesExhausted(t *testing.T) {
	cache := newCountingCache()
	calc := NewCalculator(WithCache(cache))
	r := twiceDaily()
	r.EndDate = "2026-01-01"

	for i := 0; i < 3; i++ {
		_, ok, err := calc.Next(r, utc(2026, 10, 15, 8, 0), "")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 2, cache.hits)
}

func TestCalculator_NoCache(t *testing.T) {
	calc := NewCalculator(WithCache(nil))
	next, ok, err := calc.Next(twiceDaily(), utc(2026, 10, 15, 8, 0), "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, utc(2026, 10, 15, 9, 0), next.UTC())
}

func TestCalculator_DefaultFreeCache(t *testing.T) {
	calc := NewCalculator()
	from := utc(2026, 10, 15, 8, 0)

	a, _, err := calc.Next(twiceDaily(), from, "")
	require.NoError(t, err)
	b, _, err := calc.Next(twiceDaily(), from, "")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.Equal(t, int64(1), calc.cache.(*FreeCache).EntryCount())
}

func TestCalculator_InvalidRecurrence(t *testing.T) {
	calc := NewCalculator()
	_, _, err := calc.Next(domain.Recurrence{Timezone: "UTC"}, utc(2026, 10, 15, 8, 0), "")
	assert.ErrorIs(t, err, ErrNoSendTimes)
}

func TestFreeCache_RoundTrip(t *testing.T) {
	c := NewFreeCache(0, 0)
	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	c.Set(1, Result{At: at, OK: true})
	c.Set(2, Result{})

	got, hit := c.Get(1)
	require.True(t, hit)
	assert.True(t, got.OK)
	assert.True(t, at.Equal(got.At))

	got, hit = c.Get(2)
	require.True(t, hit)
	assert.False(t, got.OK)

	_, hit = c.Get(3)
	assert.False(t, hit)
	assert.Equal(t, int64(2), c.EntryCount())
}

func TestCacheKey(t *testing.T) {
	r := twiceDaily()
	r.OffDays = []int{6, 0}
	swapped := r
	swapped.OffDays = []int{0, 6}

	from := time.Date(2026, 10, 15, 8, 0, 5, 0, time.UTC)
	later := from.Add(40 * time.Second)

	assert.Equal(t, cacheKey(r, from, "", time.UTC), cacheKey(swapped, from, "", time.UTC))
	assert.Equal(t, cacheKey(r, from, "", time.UTC), cacheKey(r, later, "", time.UTC))
	assert.NotEqual(t, cacheKey(r, from, "", time.UTC), cacheKey(r, from.Add(time.Minute), "", time.UTC))
	assert.NotEqual(t, cacheKey(r, from, "", time.UTC), cacheKey(r, from, "Europe/Berlin", time.UTC))

	other := r
	other.SendTimes = []string{"09:00"}
	assert.NotEqual(t, cacheKey(r, from, "", time.UTC), cacheKey(other, from, "", time.UTC))
}

func TestCalculator_IsStale(t *testing.T) {
	calc := NewCalculator()
	now := utc(2026, 10, 15, 9, 0)
	ago := func(d time.Duration) *time.Time { t := now.Add(-d); return &t }

	assert.False(t, calc.IsStale(nil, now))
	assert.False(t, calc.IsStale(ago(4*time.Minute), now))
	assert.False(t, calc.IsStale(ago(5*time.Minute), now))
	assert.True(t, calc.IsStale(ago(6*time.Minute), now))
	assert.False(t, calc.IsStale(ago(-time.Hour), now))
}

func TestCalculator_WithinTolerance(t *testing.T) {
	calc := NewCalculator(WithTolerance(time.Minute))
	now := utc(2026, 10, 15, 9, 0)
	at := func(d time.Duration) *time.Time { t := now.Add(d); return &t }

	assert.False(t, calc.WithinTolerance(nil, now))
	assert.True(t, calc.WithinTolerance(at(30*time.Second), now))
	assert.True(t, calc.WithinTolerance(at(-time.Minute), now))
	assert.False(t, calc.WithinTolerance(at(90*time.Second), now))
}

func TestCalculator_ShouldProcess(t *testing.T) {
	calc := NewCalculator()
	weekdays := twiceDaily()
	weekdays.OffDays = []int{0, 6}
	ptr := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		name        string
		r           domain.Recurrence
		now         time.Time
		scheduledAt *time.Time
		want        bool
	}{
		{"exact minute, never scheduled", twiceDaily(), time.Date(2026, 10, 15, 9, 0, 20, 0, time.UTC), nil, true},
		{"exact minute, scheduled now", twiceDaily(), utc(2026, 10, 15, 17, 0), ptr(utc(2026, 10, 15, 17, 0)), true},
		{"tick jitter inside tolerance", twiceDaily(), utc(2026, 10, 15, 9, 1), ptr(utc(2026, 10, 15, 9, 0)), true},
		{"early tick inside tolerance", twiceDaily(), time.Date(2026, 10, 15, 8, 58, 30, 0, time.UTC), ptr(utc(2026, 10, 15, 9, 0)), true},
		{"off minute, not near scheduled", twiceDaily(), utc(2026, 10, 15, 10, 0), ptr(utc(2026, 10, 15, 17, 0)), false},
		{"off minute, never scheduled", twiceDaily(), utc(2026, 10, 15, 10, 0), nil, false},
		{"exact minute but next occurrence already computed", twiceDaily(), utc(2026, 10, 15, 9, 0), ptr(utc(2026, 10, 15, 17, 0)), false},
		{"exact minute with overdue scheduledAt", twiceDaily(), utc(2026, 10, 15, 17, 0), ptr(utc(2026, 10, 15, 9, 0)), true},
		{"weekend off day", weekdays, utc(2026, 10, 17, 9, 0), nil, false},
		{"weekday on day", weekdays, utc(2026, 10, 16, 9, 0), ptr(utc(2026, 10, 16, 9, 0)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.ShouldProcess(tt.r, "", tt.scheduledAt, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculator_ShouldProcessOutsideDateRange(t *testing.T) {
	calc := NewCalculator()
	r := twiceDaily()
	r.EndDate = "2026-10-14"

	got, err := calc.ShouldProcess(r, "", nil, utc(2026, 10, 15, 9, 0))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestDayEligible(t *testing.T) {
	r := twiceDaily()
	r.OffDays = []int{6}

	ok, err := DayEligible(r, "", utc(2026, 10, 17, 12, 0))
	require.NoError(t, err)
	assert.False(t, ok)

	// 23:30 UTC Friday is already Saturday in Berlin.
	ok, err = DayEligible(r, "Europe/Berlin", utc(2026, 10, 16, 23, 30))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = DayEligible(r, "", utc(2026, 10, 16, 23, 30))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCalculator_NextOrCurrent(t *testing.T) {
	calc := NewCalculator(WithCache(nil))
	r := domain.Recurrence{SendTimes: []string{"09:00", "17:00"}, Timezone: "UTC"}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"on the send minute", time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC), time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)},
		{"late in the send minute", time.Date(2026, 1, 6, 9, 0, 59, 0, time.UTC), time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)},
		{"minute after", time.Date(2026, 1, 6, 9, 1, 0, 0, time.UTC), time.Date(2026, 1, 6, 17, 0, 0, 0, time.UTC)},
		{"before", time.Date(2026, 1, 6, 8, 30, 0, 0, time.UTC), time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := calc.NextOrCurrent(r, tt.now, "")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}

	// Next itself still skips the minute that just fired.
	next, _, err := calc.Next(r, time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 1, 6, 17, 0, 0, 0, time.UTC).Equal(next))
	assert.Equal(t, DefaultTolerance, calc.Tolerance())
}
