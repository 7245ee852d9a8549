package booking

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/advisory-booking/internal/availability"
	"github.com/example/advisory-booking/internal/notify"
	"github.com/example/advisory-booking/internal/reservations"
	"github.com/example/advisory-booking/internal/token"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

// Monday 2026-10-19 09:00 New York; with the default 12h lead the first open
// slot is Tuesday 08:00.
func monday9(t *testing.T) time.Time {
	return time.Date(2026, 10, 19, 9, 0, 0, 0, newYork(t))
}

func testRules(t *testing.T) availability.Rules {
	r := availability.DefaultRules()
	r.Location = newYork(t)
	return r
}

func openStore(t *testing.T) *reservations.SQLiteStore {
	t.Helper()
	s, err := reservations.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "booking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func lead(id string) token.Claims {
	return token.Claims{
		LeadID:  id,
		Email:   id + "@example.com",
		Name:    "Lead " + id,
		Company: "Co " + id,
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n notify.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
}

func (d *recordingDispatcher) all() []notify.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Notification(nil), d.sent...)
}

type fixture struct {
	rules     availability.Rules
	store     reservations.Store
	dispatch  *recordingDispatcher
	committer *Committer
	engine    *availability.Engine
	codec     *token.Codec
	svc       *Service
}

func newFixture(t *testing.T, store reservations.Store, rules availability.Rules) *fixture {
	t.Helper()
	now := func() time.Time { return monday9(t) }

	codec, err := token.NewCodec([]byte(strings.Repeat("k", 32)), true)
	require.NoError(t, err)
	codec.Now = now

	engine := availability.NewEngine(rules, store)
	engine.Now = now

	d := &recordingDispatcher{}
	c := NewCommitter(rules, store, d, zerolog.Nop())
	c.Now = now

	return &fixture{
		rules:     rules,
		store:     store,
		dispatch:  d,
		committer: c,
		engine:    engine,
		codec:     codec,
		svc:       NewService(codec, engine, c, store),
	}
}

func (fx *fixture) link(t *testing.T, id string) string {
	t.Helper()
	tok, _, err := fx.codec.Issue(lead(id), time.Hour)
	require.NoError(t, err)
	return tok
}

// failingInsert simulates the database going away at commit time.
type failingInsert struct {
	reservations.Store
	err error
}

func (f failingInsert) Insert(context.Context, reservations.Reservation) (reservations.Reservation, error) {
	return reservations.Reservation{}, f.err
}

// blockingInsert parks every Insert until release is closed.
type blockingInsert struct {
	reservations.Store
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newBlockingInsert(s reservations.Store) *blockingInsert {
	return &blockingInsert{Store: s, entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingInsert) Insert(ctx context.Context, r reservations.Reservation) (reservations.Reservation, error) {
	b.calls.Add(1)
	b.entered <- struct{}{}
	<-b.release
	return b.Store.Insert(ctx, r)
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
