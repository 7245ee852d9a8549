// Package booking turns a lead's slot choice into a reservation and drives
// the page flow around it.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/example/advisory-booking/internal/availability"
	"github.com/example/advisory-booking/internal/notify"
	"github.com/example/advisory-booking/internal/reservations"
	"github.com/example/advisory-booking/internal/token"
)

type Outcome int

// OutcomeNone is the zero value: no commit was attempted.
const (
	OutcomeNone Outcome = iota
	OutcomeFailed
	OutcomeBooked
	OutcomeConflict
	OutcomeAlreadyBooked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBooked:
		return "booked"
	case OutcomeConflict:
		return "conflict"
	case OutcomeAlreadyBooked:
		return "already_booked"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}

type Request struct {
	Date     string
	Time     string
	Identity token.Claims
	Notes    string
}

// Result is exactly one of: a new reservation (Booked), a lost race or a slot
// that is no longer offered (Conflict), the lead's existing reservation
// (AlreadyBooked), or a retryable failure (Failed, with Err set).
type Result struct {
	Outcome     Outcome
	Reservation reservations.Reservation
	Err         error
}

// Dispatcher is the fire-and-forget side of notify.
type Dispatcher interface {
	Dispatch(ctx context.Context, n notify.Notification)
}

const maxNotes = 2000

type Committer struct {
	rules    availability.Rules
	store    reservations.Store
	notifier Dispatcher
	log      zerolog.Logger
	Now      func() time.Time

	inflight singleflight.Group
}

func NewCommitter(rules availability.Rules, store reservations.Store, d Dispatcher, log zerolog.Logger) *Committer {
	return &Committer{rules: rules, store: store, notifier: d, log: log, Now: time.Now}
}

// Commit never trusts the caller's view of availability: the slot is checked
// against the rules again and the store's unique index decides races.
// Identical submissions already in flight share one write. Once started the
// write runs to completion even if ctx is cancelled.
func (c *Committer) Commit(ctx context.Context, req Request) Result {
	key := req.Identity.LeadID + "|" + req.Date + "|" + req.Time
	v, _, _ := c.inflight.Do(key, func() (any, error) {
		return c.commit(context.WithoutCancel(ctx), req), nil
	})
	return v.(Result)
}

func (c *Committer) commit(ctx context.Context, req Request) Result {
	log := c.log.With().Str("lead_id", req.Identity.LeadID).Str("date", req.Date).Str("time", req.Time).Logger()

	startsAt, err := c.rules.Offerable(c.now(), req.Date, req.Time)
	if err != nil {
		log.Info().Err(err).Msg("commit rejected: slot not offerable")
		return Result{Outcome: OutcomeConflict, Err: err}
	}

	notes := req.Notes
	if rs := []rune(notes); len(rs) > maxNotes {
		notes = string(rs[:maxNotes])
	}
	r, err := c.store.Insert(ctx, reservations.Reservation{
		LeadID:   req.Identity.LeadID,
		Email:    req.Identity.Email,
		Name:     req.Identity.Name,
		Phone:    req.Identity.Phone,
		Company:  req.Identity.Company,
		Date:     req.Date,
		Time:     req.Time,
		StartsAt: startsAt,
		Status:   reservations.StatusPending,
		Notes:    notes,
	})
	switch {
	case err == nil:
		log.Info().Str("reservation_id", r.ID).Msg("reservation created")
		c.notify(ctx, r)
		return Result{Outcome: OutcomeBooked, Reservation: r}

	case errors.Is(err, reservations.ErrSlotTaken):
		// a row can break both indexes and Postgres names only the first it
		// checks; a lead with an active booking is AlreadyBooked either way
		if existing, lerr := c.store.ActiveForLead(ctx, req.Identity.LeadID); lerr == nil {
			log.Info().Str("reservation_id", existing.ID).Msg("lead already booked")
			return Result{Outcome: OutcomeAlreadyBooked, Reservation: existing, Err: reservations.ErrLeadBooked}
		} else if !errors.Is(lerr, reservations.ErrNotFound) {
			log.Warn().Err(lerr).Msg("lookup of existing reservation failed")
		}
		log.Info().Msg("commit lost slot race")
		return Result{Outcome: OutcomeConflict, Err: err}

	case errors.Is(err, reservations.ErrLeadBooked):
		existing, lerr := c.store.ActiveForLead(ctx, req.Identity.LeadID)
		if lerr != nil {
			// the lead holds something but we cannot show it; still not a new booking
			log.Warn().Err(lerr).Msg("lookup of existing reservation failed")
		}
		return Result{Outcome: OutcomeAlreadyBooked, Reservation: existing, Err: err}

	default:
		log.Error().Err(err).Msg("commit failed")
		return Result{Outcome: OutcomeFailed, Err: err}
	}
}

func (c *Committer) notify(ctx context.Context, r reservations.Reservation) {
	if c.notifier == nil {
		return
	}
	c.notifier.Dispatch(ctx, notify.Notification{
		ReservationID: r.ID,
		LeadID:        r.LeadID,
		Email:         r.Email,
		Name:          r.Name,
		Phone:         r.Phone,
		Company:       r.Company,
		Date:          r.Date,
		Time:          r.Time,
		StartsAt:      r.StartsAt,
		Notes:         r.Notes,
	})
}

func (c *Committer) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
