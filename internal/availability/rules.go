package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"
	_ "time/tzdata" // business timezone must resolve on minimal images
)

const (
	DateLayout  = "2006-01-02"
	TimeLayout  = "15:04"
	labelLayout = "3:04 PM"
)

// DefaultTimes is four morning and four afternoon one-hour meetings.
var DefaultTimes = []string{"08:00", "09:00", "10:00", "11:00", "14:00", "15:00", "16:00", "17:00"}

// ErrNotOfferable is returned by Rules.Offerable for a slot the calendar
// does not offer right now.
var ErrNotOfferable = errors.New("slot not offerable")

// Rules describe the single shared calendar: which times of day are offered,
// in which timezone, how far ahead and with what minimum notice.
type Rules struct {
	Location        *time.Location
	Times           []string
	LeadTime        time.Duration
	HorizonDays     int
	IncludeWeekends bool
}

func DefaultRules() Rules {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Rules{
		Location:    loc,
		Times:       append([]string(nil), DefaultTimes...),
		LeadTime:    12 * time.Hour,
		HorizonDays: 14,
	}
}

func (r Rules) Validate() error {
	if r.Location == nil {
		return fmt.Errorf("booking timezone is required")
	}
	if len(r.Times) == 0 {
		return fmt.Errorf("at least one slot time is required")
	}
	seen := make(map[clock]bool, len(r.Times))
	for _, t := range r.Times {
		c, err := parseClock(t)
		if err != nil {
			return err
		}
		if seen[c] {
			return fmt.Errorf("duplicate slot time %q", t)
		}
		seen[c] = true
	}
	if r.HorizonDays < 1 {
		return fmt.Errorf("booking horizon must be at least one day (got %d)", r.HorizonDays)
	}
	if r.LeadTime < 0 {
		return fmt.Errorf("lead time must not be negative")
	}
	return nil
}

// Today is the start of the current calendar day in the business timezone.
func (r Rules) Today(now time.Time) time.Time {
	return startOfDay(now.In(r.Location))
}

// Window is the half-open date range [from, to) covered by the horizon.
func (r Rules) Window(now time.Time) (from, to time.Time) {
	from = r.Today(now)
	return from, from.AddDate(0, 0, r.HorizonDays)
}

// Offerable re-checks a (date, time) pair against the calendar as of now and
// returns the slot's start instant. It knows nothing about reservations.
func (r Rules) Offerable(now time.Time, date, hhmm string) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, date, r.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrNotOfferable, date)
	}
	c, err := parseClock(hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNotOfferable, err)
	}
	offered := false
	for _, t := range r.Times {
		if oc, err := parseClock(t); err == nil && oc == c {
			offered = true
			break
		}
	}
	if !offered {
		return time.Time{}, fmt.Errorf("%w: %s is not a bookable time", ErrNotOfferable, hhmm)
	}
	if !r.IncludeWeekends && isWeekend(day) {
		return time.Time{}, fmt.Errorf("%w: %s is a weekend", ErrNotOfferable, date)
	}
	from, to := r.Window(now)
	if day.Before(from) || !day.Before(to) {
		return time.Time{}, fmt.Errorf("%w: %s is outside the booking horizon", ErrNotOfferable, date)
	}
	start, ok := c.on(day)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s does not exist on %s", ErrNotOfferable, hhmm, date)
	}
	if start.Before(now.Add(r.LeadTime)) {
		return time.Time{}, fmt.Errorf("%w: %s %s is too soon", ErrNotOfferable, date, hhmm)
	}
	return start, nil
}

func (r Rules) clocks() []clock {
	out := make([]clock, 0, len(r.Times))
	for _, t := range r.Times {
		c, err := parseClock(t)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].minutes() < out[j].minutes() })
	return out
}

type clock struct{ h, m int }

func parseClock(s string) (clock, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil || t.Format(TimeLayout) != s {
		return clock{}, fmt.Errorf("invalid slot time %q (want HH:MM, 24h)", s)
	}
	return clock{h: t.Hour(), m: t.Minute()}, nil
}

func (c clock) minutes() int { return c.h*60 + c.m }

func (c clock) String() string { return fmt.Sprintf("%02d:%02d", c.h, c.m) }

// on places c on day. ok is false when that wall time does not exist there,
// as in a spring-forward gap, where time.Date would shift it.
func (c clock) on(day time.Time) (t time.Time, ok bool) {
	t = time.Date(day.Year(), day.Month(), day.Day(), c.h, c.m, 0, 0, day.Location())
	return t, t.Hour() == c.h && t.Minute() == c.m
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
