// Package availability builds the bookable meeting grid: a rolling window of
// weekdays, a fixed set of hourly slots per day, minus slots inside the
// lead-time buffer and slots already held by a reservation.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/advisory-booking/internal/reservations"
)

// ErrLookup means reservations could not be read; it is never reported as
// an empty calendar.
var ErrLookup = errors.New("availability lookup failed")

// SlotKey identifies a slot on the shared calendar.
type SlotKey struct {
	Date string // YYYY-MM-DD
	Time string // HH:MM
}

type TimeSlot struct {
	Time      string    `json:"time"`
	Label     string    `json:"label"`
	Available bool      `json:"available"`
	StartsAt  time.Time `json:"startsAt"`
}

type DaySlots struct {
	Date       time.Time  `json:"date"`
	DateString string     `json:"dateString"`
	Label      string     `json:"label"`
	Slots      []TimeSlot `json:"slots"`
}

// Slot returns the slot at hhmm and whether it exists on this day.
func (d DaySlots) Slot(hhmm string) (TimeSlot, bool) {
	for _, s := range d.Slots {
		if s.Time == hhmm {
			return s, true
		}
	}
	return TimeSlot{}, false
}

// Compute lays out the grid for the horizon starting today. A day is only
// returned when at least one of its slots is still available.
func Compute(now time.Time, rules Rules, reserved []SlotKey) []DaySlots {
	taken := make(map[SlotKey]struct{}, len(reserved))
	for _, k := range reserved {
		taken[k] = struct{}{}
	}

	minBookable := now.Add(rules.LeadTime)
	clocks := rules.clocks()
	today := rules.Today(now)

	var out []DaySlots
	for i := 0; i < rules.HorizonDays; i++ {
		day := today.AddDate(0, 0, i)
		if !rules.IncludeWeekends && isWeekend(day) {
			continue
		}
		ds := DaySlots{
			Date:       day,
			DateString: day.Format(DateLayout),
			Label:      day.Format("Monday, January 2"),
			Slots:      make([]TimeSlot, 0, len(clocks)),
		}
		open := false
		for _, c := range clocks {
			start, ok := c.on(day)
			if !ok {
				continue
			}
			_, isTaken := taken[SlotKey{Date: ds.DateString, Time: c.String()}]
			available := !start.Before(minBookable) && !isTaken
			open = open || available
			ds.Slots = append(ds.Slots, TimeSlot{
				Time:      c.String(),
				Label:     start.Format(labelLayout),
				Available: available,
				StartsAt:  start,
			})
		}
		if open {
			out = append(out, ds)
		}
	}
	return out
}

// Lister is the read side of the reservation table.
type Lister interface {
	ListActive(ctx context.Context, from, to time.Time) ([]reservations.Reservation, error)
}

// Engine loads non-cancelled reservations for the visible horizon and
// computes availability from them.
type Engine struct {
	Rules        Rules
	Reservations Lister
	Now          func() time.Time
}

func NewEngine(rules Rules, res Lister) *Engine {
	return &Engine{Rules: rules, Reservations: res, Now: time.Now}
}

func (e *Engine) Load(ctx context.Context) ([]DaySlots, error) {
	now := e.now()
	from, to := e.Rules.Window(now)
	rows, err := e.Reservations.ListActive(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookup, err)
	}
	keys := make([]SlotKey, 0, len(rows))
	for _, r := range rows {
		if r.Status == reservations.StatusCancelled {
			continue
		}
		keys = append(keys, SlotKey{Date: r.Date, Time: r.Time})
	}
	return Compute(now, e.Rules, keys), nil
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}
