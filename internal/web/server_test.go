package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/advisory-booking/internal/availability"
	"github.com/example/advisory-booking/internal/booking"
	"github.com/example/advisory-booking/internal/reservations"
	"github.com/example/advisory-booking/internal/token"
)

const contact = "advisors@example.com"

type testEnv struct {
	store  reservations.Store
	codec  *token.Codec
	engine *availability.Engine
	srv    *Server
	h      http.Handler
}

func newEnv(t *testing.T, wrap func(reservations.Store) reservations.Store) *testEnv {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	now := func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, loc) }

	sqlite, err := reservations.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	var store reservations.Store = sqlite
	if wrap != nil {
		store = wrap(store)
	}

	rules := availability.DefaultRules()
	rules.Location = loc

	codec, err := token.NewCodec([]byte(strings.Repeat("w", 32)), true)
	require.NoError(t, err)
	codec.Now = now

	engine := availability.NewEngine(rules, store)
	engine.Now = now
	committer := booking.NewCommitter(rules, store, nil, zerolog.Nop())
	committer.Now = now

	srv := &Server{
		Booking:      booking.NewService(codec, engine, committer, store),
		Log:          zerolog.Nop(),
		ContactEmail: contact,
	}
	return &testEnv{store: store, codec: codec, engine: engine, srv: srv, h: srv.Routes()}
}

func (e *testEnv) link(t *testing.T, lead string) string {
	t.Helper()
	tok, _, err := e.codec.Issue(token.Claims{LeadID: lead, Email: lead + "@example.com", Name: "Dana " + lead, Company: "Acme"}, time.Hour)
	require.NoError(t, err)
	return "/book/" + url.PathEscape(tok)
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func (e *testEnv) post(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func slot(date, hhmm string) url.Values {
	return url.Values{"date": {date}, "time": {hhmm}}
}

func TestBookPage_InvalidToken(t *testing.T) {
	env := newEnv(t, nil)

	for _, p := range []string{"/book/garbage", "/book/" + strings.Repeat("A", 60)} {
		rr := env.get(p)
		assert.Equal(t, http.StatusNotFound, rr.Code, p)
		assert.Contains(t, rr.Body.String(), "not valid")
		assert.Contains(t, rr.Body.String(), contact)
	}

	rr := env.post("/book/garbage", slot("2026-10-20", "16:00"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBookPage_ListsDaysAndTimes(t *testing.T) {
	env := newEnv(t, nil)
	link := env.link(t, "l1")

	rr := env.get(link)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Tuesday, October 20")
	assert.NotContains(t, body, "Monday, October 19", "inside the lead-time buffer")
	assert.NotContains(t, body, "Saturday")
	assert.Contains(t, body, "Dana l1")

	rr = env.get(link + "?date=2026-10-20")
	require.Equal(t, http.StatusOK, rr.Code)
	body = rr.Body.String()
	assert.Contains(t, body, "Choose a time on Tuesday, October 20")
	assert.Contains(t, body, "4:00 PM")
	assert.Contains(t, body, `value="2026-10-20"`)

	rr = env.get(link + "?date=2026-10-24")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "no open times any more")
}

func TestBookPage_LoadFailureIsDistinct(t *testing.T) {
	env := newEnv(t, nil)
	env.engine.Reservations = failingLister{}

	rr := env.get(env.link(t, "l1"))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "could not load available times")
	assert.NotContains(t, rr.Body.String(), "no open times in the next")
}

func TestCommit_Booked(t *testing.T) {
	env := newEnv(t, nil)

	rr := env.post(env.link(t, "l1"), url.Values{"date": {"2026-10-20"}, "time": {"16:00"}, "notes": {"Q3 close"}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := rr.Body.String()
	assert.Contains(t, body, "You're booked")
	assert.Contains(t, body, "Tuesday, October 20, 2026")
	assert.Contains(t, body, "4:00 PM EDT")
	assert.Contains(t, body, "Acme")

	active, err := env.store.ActiveForLead(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, "Q3 close", active.Notes)
}

func TestCommit_ConflictRefreshes(t *testing.T) {
	env := newEnv(t, nil)

	require.Equal(t, http.StatusCreated, env.post(env.link(t, "first"), slot("2026-10-20", "16:00")).Code)

	rr := env.post(env.link(t, "second"), slot("2026-10-20", "16:00"))
	require.Equal(t, http.StatusConflict, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "just taken")
	assert.Contains(t, body, "Choose a time on Tuesday, October 20")
	assert.Contains(t, body, `value="16:00" disabled`)
}

func TestCommit_ReplayShowsExisting(t *testing.T) {
	env := newEnv(t, nil)
	link := env.link(t, "l1")

	require.Equal(t, http.StatusCreated, env.post(link, slot("2026-10-20", "16:00")).Code)

	rr := env.post(link, slot("2026-10-21", "09:00"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "already have a meeting")
	assert.Contains(t, rr.Body.String(), "Tuesday, October 20, 2026")

	rr = env.get(link)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "already have a meeting")
}

func TestCommit_ReplayOntoTakenSlotShowsExisting(t *testing.T) {
	env := newEnv(t, func(s reservations.Store) reservations.Store {
		return slotIndexFirst{Store: s}
	})
	link := env.link(t, "l1")

	require.Equal(t, http.StatusCreated, env.post(link, slot("2026-10-20", "16:00")).Code)
	require.Equal(t, http.StatusCreated, env.post(env.link(t, "l2"), slot("2026-10-21", "09:00")).Code)

	rr := env.post(link, slot("2026-10-21", "09:00"))
	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "already have a meeting")
	assert.Contains(t, body, "Tuesday, October 20, 2026")
	assert.NotContains(t, body, "just taken")
}

func TestBookPage_FormGuardsDoubleSubmit(t *testing.T) {
	env := newEnv(t, nil)
	rr := env.get(env.link(t, "l1") + "?date=2026-10-20")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `onsubmit="this.querySelector('button[type=submit]').disabled = true"`)
}

func TestCommit_FailureKeepsSelection(t *testing.T) {
	env := newEnv(t, func(s reservations.Store) reservations.Store {
		return brokenInsert{Store: s}
	})

	rr := env.post(env.link(t, "l1"), slot("2026-10-20", "16:00"))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Your selection is kept")
	assert.Contains(t, body, `value="2026-10-20"`)
	assert.Contains(t, body, `value="16:00" checked`)
	assert.NotContains(t, body, "just taken")
}

func TestCommit_MissingSelection(t *testing.T) {
	env := newEnv(t, nil)
	rr := env.post(env.link(t, "l1"), url.Values{"date": {"2026-10-20"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "choose a day and a time")
}

func TestHealthz(t *testing.T) {
	env := newEnv(t, nil)
	rr := env.get("/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)

	env.srv.Ping = func(context.Context) error { return errors.New("db down") }
	rr = httptest.NewRecorder()
	env.srv.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStatic(t *testing.T) {
	env := newEnv(t, nil)
	rr := env.get("/static/style.css")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/css")
}

func TestRecoverer(t *testing.T) {
	srv := &Server{Log: zerolog.Nop()}
	rr := httptest.NewRecorder()
	// no booking service wired: the handler panics
	srv.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/book/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestRedactPath(t *testing.T) {
	assert.Equal(t, "/book/{token}", redactPath("/book/abc"))
	assert.Equal(t, "/healthz", redactPath("/healthz"))
}

type failingLister struct{}

func (failingLister) ListActive(context.Context, time.Time, time.Time) ([]reservations.Reservation, error) {
	return nil, errors.New("db down")
}

type brokenInsert struct {
	reservations.Store
}

func (brokenInsert) Insert(context.Context, reservations.Reservation) (reservations.Reservation, error) {
	return reservations.Reservation{}, errors.New("connection reset")
}

// slotIndexFirst reports a held slot before checking the lead, the order
// Postgres evaluates the two partial unique indexes in.
type slotIndexFirst struct {
	reservations.Store
}

func (s slotIndexFirst) Insert(ctx context.Context, r reservations.Reservation) (reservations.Reservation, error) {
	day, err := time.Parse(availability.DateLayout, r.Date)
	if err != nil {
		return reservations.Reservation{}, err
	}
	held, err := s.Store.ListActive(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return reservations.Reservation{}, err
	}
	for _, h := range held {
		if h.Time == r.Time {
			return reservations.Reservation{}, reservations.ErrSlotTaken
		}
	}
	return s.Store.Insert(ctx, r)
}
