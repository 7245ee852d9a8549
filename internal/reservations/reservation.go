package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses hold their slot on the calendar.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown reservation status %q", s)
}

// CanTransition reports whether a back-office status change is allowed.
func (s Status) CanTransition(to Status) bool {
	switch to {
	case StatusConfirmed:
		return s == StatusPending
	case StatusCancelled:
		return s == StatusPending || s == StatusConfirmed
	}
	return false
}

// sourcesFor lists the statuses from which a reservation may move to `to`.
func sourcesFor(to Status) []string {
	var out []string
	for _, from := range []Status{StatusPending, StatusConfirmed, StatusCancelled} {
		if from.CanTransition(to) {
			out = append(out, string(from))
		}
	}
	return out
}

var (
	ErrNotFound      = errors.New("reservation not found")
	ErrSlotTaken     = errors.New("slot already reserved")
	ErrLeadBooked    = errors.New("lead already holds an active reservation")
	ErrBadTransition = errors.New("status transition not allowed")
)

type Reservation struct {
	ID       string
	LeadID   string
	Email    string
	Name     string
	Phone    string
	Company  string
	Date     string // YYYY-MM-DD in the business timezone
	Time     string // HH:MM
	StartsAt time.Time
	Status   Status
	Notes    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Reservation) Validate() error {
	if r.LeadID == "" {
		return fmt.Errorf("lead_id required")
	}
	if r.Email == "" {
		return fmt.Errorf("email required")
	}
	if _, err := time.Parse("2006-01-02", r.Date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	if _, err := time.Parse("15:04", r.Time); err != nil {
		return fmt.Errorf("time must be HH:MM")
	}
	if r.StartsAt.IsZero() {
		return fmt.Errorf("starts_at required")
	}
	return nil
}

// Store is the reservation table. Insert must be atomic with respect to the
// one-active-reservation-per-slot rule: of two concurrent inserts for the
// same slot exactly one succeeds and the other gets ErrSlotTaken.
type Store interface {
	Insert(ctx context.Context, r Reservation) (Reservation, error)
	// ListActive returns non-cancelled reservations with from <= date < to.
	ListActive(ctx context.Context, from, to time.Time) ([]Reservation, error)
	// List returns every reservation with from <= date < to, cancelled included.
	List(ctx context.Context, from, to time.Time) ([]Reservation, error)
	Get(ctx context.Context, id string) (Reservation, error)
	// ActiveForLead returns the lead's non-cancelled reservation, if any.
	ActiveForLead(ctx context.Context, leadID string) (Reservation, error)
	SetStatus(ctx context.Context, id string, to Status) (Reservation, error)
}

// prepare fills the server-side fields of a reservation about to be inserted.
func prepare(r Reservation, now time.Time) (Reservation, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.Status == StatusCancelled {
		return Reservation{}, fmt.Errorf("cannot insert a cancelled reservation")
	}
	if err := r.Validate(); err != nil {
		return Reservation{}, err
	}
	r.CreatedAt = now.UTC()
	r.UpdatedAt = r.CreatedAt
	return r, nil
}

// civilDate returns t's calendar date as seen in t's own location.
func civilDate(t time.Time) string {
	return t.Format("2006-01-02")
}
