// Package recurrence computes fire times for recurring_daily campaigns.
//
// All arithmetic happens on wall-clock fields in the campaign's timezone and
// is converted back to an instant with ZonedTime, which corrects iteratively
// instead of trusting a fixed UTC offset. Results stay correct across DST
// transitions.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

const (
	// LookaheadDays is how far past today Next scans for an eligible day.
	LookaheadDays = 7

	// SendBuffer keeps Next from returning the send time that just fired.
	SendBuffer = time.Minute

	// DateLayout is the layout of Recurrence.StartDate and EndDate.
	DateLayout = "2006-01-02"
)

var (
	ErrNoSendTimes     = errors.New("recurrence needs at least one send time")
	ErrInvalidTime     = errors.New("send time must be HH:mm")
	ErrMissingTimezone = errors.New("recurrence timezone is required")
	ErrInvalidTimezone = errors.New("unknown timezone")
	ErrInvalidOffDay   = errors.New("off days must be between 0 and 6")
	ErrAllDaysOff      = errors.New("off days cannot cover every day of the week")
	ErrInvalidDate     = errors.New("dates must be YYYY-MM-DD")
	ErrDateRange       = errors.New("end date is before start date")
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// String renders the clock as HH:mm.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) before(o Clock) bool {
	return c.Hour < o.Hour || (c.Hour == o.Hour && c.Minute < o.Minute)
}

// ParseClock parses a strict "HH:mm" string.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, okH := twoDigits(s[0], s[1])
	m, okM := twoDigits(s[3], s[4])
	if !okH || !okM || h > 23 || m > 59 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// civilDate is a calendar date with no location attached.
type civilDate struct {
	Year  int
	Month time.Month
	Day   int
}

func dateOf(t time.Time) civilDate {
	return civilDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func parseDate(s string) (civilDate, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return civilDate{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return dateOf(t), nil
}

// addDays normalizes through UTC noon so month and year rollover are exact.
func (d civilDate) addDays(n int) civilDate {
	return dateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

func (d civilDate) weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

func (d civilDate) before(o civilDate) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// schedule is a validated, ready-to-scan recurrence.
type schedule struct {
	times []Clock
	loc   *time.Location
	off   [7]bool
	start *civilDate
	end   *civilDate
}

// Validate checks a recurrence the way campaign creation does.
func Validate(r domain.Recurrence) error {
	_, err := compile(r, "")
	return err
}

// compile validates r and resolves its timezone. tz overrides r.Timezone
// when non-empty.
func compile(r domain.Recurrence, tz string) (*schedule, error) {
	if tz == "" {
		tz = r.Timezone
	}
	if tz == "" {
		return nil, ErrMissingTimezone
	}
	loc, err := loadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	if len(r.SendTimes) == 0 {
		return nil, ErrNoSendTimes
	}

	s := &schedule{loc: loc}
	seen := make(map[Clock]bool, len(r.SendTimes))
	for _, raw := range r.SendTimes {
		c, err := ParseClock(raw)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			s.times = append(s.times, c)
		}
	}
	sort.Slice(s.times, func(i, j int) bool { return s.times[i].before(s.times[j]) })

	offCount := 0
	for _, d := range r.OffDays {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidOffDay, d)
		}
		if !s.off[d] {
			s.off[d] = true
			offCount++
		}
	}
	if offCount == 7 {
		return nil, ErrAllDaysOff
	}

	if r.StartDate != "" {
		d, err := parseDate(r.StartDate)
		if err != nil {
			return nil, err
		}
		s.start = &d
	}
	if r.EndDate != "" {
		d, err := parseDate(r.EndDate)
		if err != nil {
			return nil, err
		}
		s.end = &d
	}
	if s.start != nil && s.end != nil && s.end.before(*s.start) {
		return nil, ErrDateRange
	}
	return s, nil
}

var locations sync.Map

// loadLocation caches zone lookups; time.LoadLocation reads tzdata each call.
func loadLocation(tz string) (*time.Location, error) {
	if v, ok := locations.Load(tz); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	locations.Store(tz, loc)
	return loc, nil
}

// eligible reports whether d is neither an off day nor outside the range.
func (s *schedule) eligible(d civilDate) bool {
	if s.off[d.weekday()] {
		return false
	}
	if s.start != nil && d.before(*s.start) {
		return false
	}
	if s.end != nil && s.end.before(d) {
		return false
	}
	return true
}

// Next returns the next send instant strictly after from+SendBuffer.
// ok is false when no eligible day exists within the lookahead, which
// callers treat as an exhausted recurrence.
func Next(r domain.Recurrence, from time.Time, tz string) (next time.Time, ok bool, err error) {
	s, err := compile(r, tz)
	if err != nil {
		return time.Time{}, false, err
	}
	return s.next(from)
}

func (s *schedule) next(from time.Time) (time.Time, bool, error) {
	threshold := from.Add(SendBuffer)
	today := dateOf(from.In(s.loc))

	if s.eligible(today) {
		for _, c := range s.times {
			cand := ZonedTime(today.Year, today.Month, today.Day, c.Hour, c.Minute, s.loc)
			if cand.After(threshold) {
				return cand, true, nil
			}
		}
	}

	// A start date in the future moves the window instead of exhausting it.
	first := today.addDays(1)
	if s.start != nil && first.before(*s.start) {
		first = *s.start
	}
	for i := 0; i < LookaheadDays; i++ {
		d := first.addDays(i)
		if !s.eligible(d) {
			continue
		}
		c := s.times[0]
		return ZonedTime(d.Year, d.Month, d.Day, c.Hour, c.Minute, s.loc), true, nil
	}
	return time.Time{}, false, nil
}

// ZonedTime returns the instant whose wall clock in loc reads the given
// date, hour and minute. It starts from the naive UTC reading and corrects
// by the observed wall-clock delta until the rendering matches. Ambiguous
// times (fall-back overlap) resolve to the first occurrence. Times inside a
// spring-forward gap do not exist and are moved forward by the gap.
func ZonedTime(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	want := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	cand := want
	for i := 0; i < 4; i++ {
		got := cand.In(loc)
		naive := time.Date(got.Year(), got.Month(), got.Day(), got.Hour(), got.Minute(), 0, 0, time.UTC)
		delta := want.Sub(naive)
		if delta == 0 {
			return got
		}
		cand = cand.Add(delta)
	}

	// Gap: apply the offset in effect before the transition.
	_, off := want.Add(-36 * time.Hour).In(loc).Zone()
	return want.Add(-time.Duration(off) * time.Second).In(loc)
}
