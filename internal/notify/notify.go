// Package notify tells staff that a lead booked a meeting. Delivery is best
// effort: a failed notification is logged and never affects the booking.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Notification struct {
	ReservationID string    `json:"reservationId"`
	LeadID        string    `json:"leadId"`
	Email         string    `json:"email"`
	Name          string    `json:"name,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Company       string    `json:"company,omitempty"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	StartsAt      time.Time `json:"startsAt"`
	Notes         string    `json:"notes,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes the notification to the structured log only.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, n Notification) error {
	l.Logger.Info().
		Str("reservation_id", n.ReservationID).
		Str("lead_id", n.LeadID).
		Str("email", n.Email).
		Str("date", n.Date).
		Str("time", n.Time).
		Msg("meeting booked")
	return nil
}

const DefaultTimeout = 10 * time.Second

// Dispatcher sends notifications in the background.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{notifier: n, timeout: timeout, log: log}
}

// Dispatch returns immediately. The send outlives ctx's cancellation but is
// bounded by the dispatcher timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) {
	if d == nil || d.notifier == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error().Interface("panic", r).Str("reservation_id", n.ReservationID).Msg("notifier panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.log.Warn().Err(err).Str("reservation_id", n.ReservationID).Msg("notification failed")
		}
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
