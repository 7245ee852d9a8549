package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/advisory-booking/internal/booking"
	"github.com/example/advisory-booking/internal/reservations"
)

//go:embed templates/*.html static/*
var fs embed.FS

type Server struct {
	Booking *booking.Service
	Log     zerolog.Logger

	// ContactEmail is shown wherever the lead cannot book online.
	ContactEmail string
	// Ping, when set, backs /healthz.
	Ping func(ctx context.Context) error
}

type tmplData struct {
	Title   string
	Contact string
	Token   string

	Flash  string // retryable failure
	Notice string // informational, e.g. after a conflict
	Notes  string

	View        booking.View
	Reservation reservationView
}

type reservationView struct {
	ID      string
	Date    string
	Time    string
	Name    string
	Email   string
	Company string
}

func (d tmplData) LoadFailed() bool { return d.View.Load == booking.LoadFailed }

func (d tmplData) NoSlots() bool { return d.View.Load == booking.Loaded && len(d.View.Days) == 0 }

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /static/", http.FileServer(http.FS(fs)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.Ping != nil {
			if err := s.Ping(r.Context()); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /book/{token}", s.handleBook)
	mux.HandleFunc("POST /book/{token}", s.handleCommit)

	return s.recoverer(s.requestLog(mux))
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	tok := r.PathValue("token")
	f := s.Booking.Start(tok)
	if f.State() == booking.StateTokenInvalid {
		s.renderInvalid(w)
		return
	}

	if err := f.Load(r.Context()); err != nil {
		s.Log.Warn().Err(err).Msg("availability load failed")
	}

	data := tmplData{Title: "Book a meeting", Token: tok}
	if f.State() == booking.StateAlreadyBooked {
		s.renderAlreadyBooked(w, f.View())
		return
	}

	if date := r.URL.Query().Get("date"); date != "" && f.View().Load == booking.Loaded {
		if err := f.SelectDate(date); err != nil {
			data.Notice = "That day has no open times any more. Please pick another day."
		}
	}

	data.View = f.View()
	status := http.StatusOK
	if data.LoadFailed() {
		status = http.StatusServiceUnavailable
	}
	s.render(w, status, "templates/book.html", data)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	tok := r.PathValue("token")
	f := s.Booking.Start(tok)
	if f.State() == booking.StateTokenInvalid {
		s.renderInvalid(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	date := strings.TrimSpace(r.FormValue("date"))
	hhmm := strings.TrimSpace(r.FormValue("time"))
	notes := strings.TrimSpace(r.FormValue("notes"))
	data := tmplData{Title: "Book a meeting", Token: tok, Notes: notes}

	_ = f.Restore(date, hhmm)
	res, err := f.Submit(r.Context(), notes)
	if errors.Is(err, booking.ErrNoSelection) {
		_ = f.Load(r.Context())
		if f.State() == booking.StateAlreadyBooked {
			s.renderAlreadyBooked(w, f.View())
			return
		}
		data.Flash = "Please choose a day and a time."
		data.View = f.View()
		s.render(w, http.StatusUnprocessableEntity, "templates/book.html", data)
		return
	}

	switch res.Outcome {
	case booking.OutcomeBooked:
		s.render(w, http.StatusCreated, "templates/confirmed.html", tmplData{
			Title:       "Meeting booked",
			Contact:     s.ContactEmail,
			Reservation: s.reservationView(f.View().Last.Reservation),
		})

	case booking.OutcomeAlreadyBooked:
		s.renderAlreadyBooked(w, f.View())

	case booking.OutcomeConflict:
		// the reload after a conflict may find the lead's own booking
		if f.State() == booking.StateAlreadyBooked {
			s.renderAlreadyBooked(w, f.View())
			return
		}
		data.Notice = "Sorry, that time was just taken or is no longer available. Please choose another time."
		data.View = f.View()
		s.render(w, http.StatusConflict, "templates/book.html", data)

	case booking.OutcomeFailed:
		s.Log.Error().Err(err).Str("date", date).Str("time", hhmm).Msg("booking failed")
		// refresh the grid for the page; the selection stays as posted
		_ = f.Load(r.Context())
		data.Flash = "We could not save your booking just now. Your selection is kept, please try again."
		data.View = f.View()
		s.render(w, http.StatusServiceUnavailable, "templates/book.html", data)

	default:
		s.Log.Warn().Err(err).Str("state", f.State().String()).Msg("booking not submitted")
		_ = f.Load(r.Context())
		data.Flash = "Your booking was not submitted. Please choose a time and try again."
		data.View = f.View()
		s.render(w, http.StatusConflict, "templates/book.html", data)
	}
}

func (s *Server) renderInvalid(w http.ResponseWriter) {
	s.render(w, http.StatusNotFound, "templates/invalid.html", tmplData{
		Title:   "Link not valid",
		Contact: s.ContactEmail,
	})
}

func (s *Server) renderAlreadyBooked(w http.ResponseWriter, v booking.View) {
	existing := v.Existing
	if existing.ID == "" {
		existing = v.Last.Reservation
	}
	s.render(w, http.StatusOK, "templates/already_booked.html", tmplData{
		Title:       "Already booked",
		Contact:     s.ContactEmail,
		Reservation: s.reservationView(existing),
	})
}

func (s *Server) reservationView(r reservations.Reservation) reservationView {
	rv := reservationView{ID: r.ID, Date: r.Date, Time: r.Time, Name: r.Name, Email: r.Email, Company: r.Company}
	if !r.StartsAt.IsZero() {
		loc := s.location()
		rv.Date = r.StartsAt.In(loc).Format("Monday, January 2, 2006")
		rv.Time = r.StartsAt.In(loc).Format("3:04 PM MST")
	}
	return rv
}

func (s *Server) location() *time.Location {
	if s.Booking != nil && s.Booking.Engine != nil && s.Booking.Engine.Rules.Location != nil {
		return s.Booking.Engine.Rules.Location
	}
	return time.UTC
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data tmplData) {
	if data.Contact == "" {
		data.Contact = s.ContactEmail
	}
	t, err := template.ParseFS(fs,
		"templates/base.html",
		name,
	)
	if err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", data); err != nil {
		s.Log.Error().Err(err).Str("template", name).Msg("render failed")
		http.Error(w, "render error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func Start(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
