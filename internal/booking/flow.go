package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/advisory-booking/internal/availability"
	"github.com/example/advisory-booking/internal/reservations"
	"github.com/example/advisory-booking/internal/token"
)

type State int

const (
	StateTokenInvalid State = iota
	StateSelectingDate
	StateSelectingTime
	StateCommitting
	StateConfirmed
	StateConflictRetry
	StateAlreadyBooked
)

var stateNames = map[State]string{
	StateTokenInvalid:  "token_invalid",
	StateSelectingDate: "selecting_date",
	StateSelectingTime: "selecting_time",
	StateCommitting:    "committing",
	StateConfirmed:     "confirmed",
	StateConflictRetry: "conflict_retry",
	StateAlreadyBooked: "already_booked",
}

func (s State) String() string { return stateNames[s] }

// Terminal states accept no further input.
func (s State) Terminal() bool {
	return s == StateTokenInvalid || s == StateConfirmed || s == StateAlreadyBooked
}

// LoadStatus keeps "still loading", "loaded but empty" and "failed" apart.
type LoadStatus int

const (
	LoadPending LoadStatus = iota
	Loaded
	LoadFailed
)

var (
	ErrCommitInFlight  = errors.New("a booking is already being submitted")
	ErrNoSelection     = errors.New("choose a date and time first")
	ErrDateUnavailable = errors.New("date has no open times")
	ErrSlotUnavailable = errors.New("time is not available")
	ErrNotLoaded       = errors.New("availability not loaded")
	ErrClosed          = errors.New("booking flow is finished")
)

// LeadLookup finds a lead's current reservation.
type LeadLookup interface {
	ActiveForLead(ctx context.Context, leadID string) (reservations.Reservation, error)
}

// Service holds what every booking flow shares.
type Service struct {
	Codec     *token.Codec
	Engine    *availability.Engine
	Committer *Committer
	Leads     LeadLookup
}

func NewService(codec *token.Codec, engine *availability.Engine, committer *Committer, leads LeadLookup) *Service {
	return &Service{Codec: codec, Engine: engine, Committer: committer, Leads: leads}
}

// Start decodes the link token and opens a flow. An unusable token yields a
// flow already in StateTokenInvalid.
func (s *Service) Start(raw string) *Flow {
	f := &Flow{svc: s, state: StateTokenInvalid}
	claims, err := s.Codec.Decode(raw)
	if err != nil {
		f.tokenErr = err
		return f
	}
	f.identity = claims
	f.state = StateSelectingDate
	return f
}

// Flow is one lead's pass through the booking page. It is safe for concurrent
// use; a second Submit while one is running gets ErrCommitInFlight.
type Flow struct {
	svc *Service

	mu       sync.Mutex
	state    State
	tokenErr error
	identity token.Claims

	load    LoadStatus
	loadErr error
	days    []availability.DaySlots

	date string
	time string

	last     Result
	existing reservations.Reservation
}

// View is a read-only snapshot for rendering.
type View struct {
	State    State
	Identity token.Claims
	TokenErr error

	Load    LoadStatus
	LoadErr error
	Days    []availability.DaySlots

	Date     string
	Time     string
	Selected *availability.DaySlots

	// Last is the most recent commit result, zero before any Submit.
	Last     Result
	Existing reservations.Reservation
}

func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View{
		State:    f.state,
		Identity: f.identity,
		TokenErr: f.tokenErr,
		Load:     f.load,
		LoadErr:  f.loadErr,
		Days:     f.days,
		Date:     f.date,
		Time:     f.time,
		Last:     f.last,
		Existing: f.existing,
	}
	if d, ok := f.day(f.date); ok {
		v.Selected = &d
	}
	return v
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Load fetches availability. A lead that already holds a reservation moves
// straight to StateAlreadyBooked. The current selection is left alone.
func (f *Flow) Load(ctx context.Context) error {
	f.mu.Lock()
	if f.state.Terminal() || f.state == StateCommitting {
		f.mu.Unlock()
		return nil
	}
	leadID := f.identity.LeadID
	f.load = LoadPending
	f.mu.Unlock()

	if f.svc.Leads != nil {
		existing, err := f.svc.Leads.ActiveForLead(ctx, leadID)
		switch {
		case err == nil:
			f.mu.Lock()
			f.existing = existing
			f.state = StateAlreadyBooked
			f.load = Loaded
			f.mu.Unlock()
			return nil
		case !errors.Is(err, reservations.ErrNotFound):
			err = fmt.Errorf("%w: %w", availability.ErrLookup, err)
			f.setLoadFailed(err)
			return err
		}
	}

	days, err := f.svc.Engine.Load(ctx)
	if err != nil {
		f.setLoadFailed(err)
		return err
	}
	f.mu.Lock()
	f.days = days
	f.load = Loaded
	f.loadErr = nil
	f.mu.Unlock()
	return nil
}

func (f *Flow) setLoadFailed(err error) {
	f.mu.Lock()
	f.load = LoadFailed
	f.loadErr = err
	f.days = nil
	f.mu.Unlock()
}

// SelectDate picks a day from the loaded availability and clears any time.
func (f *Flow) SelectDate(date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.selectable(); err != nil {
		return err
	}
	if f.load != Loaded {
		return ErrNotLoaded
	}
	if _, ok := f.day(date); !ok {
		return fmt.Errorf("%w: %s", ErrDateUnavailable, date)
	}
	f.date = date
	f.time = ""
	f.state = StateSelectingTime
	return nil
}

// SelectTime picks an open slot on the selected day.
func (f *Flow) SelectTime(hhmm string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.selectable(); err != nil {
		return err
	}
	d, ok := f.day(f.date)
	if !ok {
		return ErrNoSelection
	}
	slot, ok := d.Slot(hhmm)
	if !ok || !slot.Available {
		return fmt.Errorf("%w: %s %s", ErrSlotUnavailable, f.date, hhmm)
	}
	f.time = hhmm
	f.state = StateSelectingTime
	return nil
}

// Restore re-applies a selection carried by a form post without checking it
// against loaded availability. Submit re-validates it anyway.
func (f *Flow) Restore(date, hhmm string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.selectable(); err != nil {
		return err
	}
	if date == "" {
		return nil
	}
	f.date = date
	f.time = hhmm
	f.state = StateSelectingTime
	return nil
}

func (f *Flow) selectable() error {
	switch f.state {
	case StateCommitting:
		return ErrCommitInFlight
	case StateTokenInvalid:
		return token.ErrInvalid
	case StateConfirmed, StateAlreadyBooked:
		return ErrClosed
	}
	return nil
}

// Submit commits the current selection. The outcome decides the next state:
// Booked confirms, Conflict reloads and asks for a new time, Failed keeps the
// selection so the same choice can be retried.
func (f *Flow) Submit(ctx context.Context, notes string) (Result, error) {
	f.mu.Lock()
	if err := f.selectable(); err != nil {
		f.mu.Unlock()
		return Result{}, err
	}
	if f.date == "" || f.time == "" {
		f.mu.Unlock()
		return Result{}, ErrNoSelection
	}
	req := Request{Date: f.date, Time: f.time, Identity: f.identity, Notes: notes}
	f.state = StateCommitting
	f.mu.Unlock()

	res := f.svc.Committer.Commit(ctx, req)

	f.mu.Lock()
	f.last = res
	switch res.Outcome {
	case OutcomeBooked:
		f.state = StateConfirmed
		f.mu.Unlock()
		return res, nil

	case OutcomeAlreadyBooked:
		f.existing = res.Reservation
		f.state = StateAlreadyBooked
		f.mu.Unlock()
		return res, nil

	case OutcomeConflict:
		f.state = StateConflictRetry
		f.time = ""
		f.mu.Unlock()
		_ = f.Load(ctx)
		f.mu.Lock()
		if f.state == StateConflictRetry {
			if _, ok := f.day(f.date); ok {
				f.state = StateSelectingTime
			} else {
				f.date = ""
				f.state = StateSelectingDate
			}
		}
		f.mu.Unlock()
		return res, nil

	default:
		f.state = StateSelectingTime
		f.mu.Unlock()
		return res, res.Err
	}
}

// day returns the loaded DaySlots for date. Caller holds mu.
func (f *Flow) day(date string) (availability.DaySlots, bool) {
	if date == "" {
		return availability.DaySlots{}, false
	}
	for _, d := range f.days {
		if d.DateString == date {
			return d, true
		}
	}
	return availability.DaySlots{}, false
}
