package reservations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reservations (
	id          TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL,
	email       TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	phone       TEXT NOT NULL DEFAULT '',
	company     TEXT NOT NULL DEFAULT '',
	slot_date   TEXT NOT NULL,
	slot_time   TEXT NOT NULL,
	starts_at   TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'confirmed', 'cancelled')),
	notes       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS reservations_active_slot
	ON reservations (slot_date, slot_time)
	WHERE status <> 'cancelled';

CREATE UNIQUE INDEX IF NOT EXISTS reservations_active_lead
	ON reservations (lead_id)
	WHERE status <> 'cancelled';

CREATE INDEX IF NOT EXISTS reservations_starts_at ON reservations (starts_at);
`

const sqliteColumns = `id,lead_id,email,name,phone,company,slot_date,slot_time,starts_at,status,notes,created_at,updated_at`

// SQLiteStore keeps reservations in a local SQLite file, for single-node
// deployments and development. Same uniqueness rules as Postgres.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	d, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, err
	}
	// one writer at a time; the unique indexes still decide who wins
	d.SetMaxOpenConns(1)
	if err := d.PingContext(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := d.ExecContext(ctx, sqliteSchema); err != nil {
		d.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: d, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Insert(ctx context.Context, r Reservation) (Reservation, error) {
	r, err := prepare(r, s.now())
	if err != nil {
		return Reservation{}, err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO reservations(`+sqliteColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.LeadID, r.Email, r.Name, r.Phone, r.Company, r.Date, r.Time, sqliteTime(r.StartsAt),
		string(r.Status), r.Notes, sqliteTime(r.CreatedAt), sqliteTime(r.UpdatedAt),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			if strings.Contains(se.Error(), "lead_id") {
				return Reservation{}, ErrLeadBooked
			}
			return Reservation{}, ErrSlotTaken
		}
		return Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListActive(ctx context.Context, from, to time.Time) ([]Reservation, error) {
	return s.list(ctx, `
SELECT `+sqliteColumns+`
FROM reservations
WHERE slot_date >= ? AND slot_date < ? AND status <> 'cancelled'
ORDER BY starts_at ASC`, civilDate(from), civilDate(to))
}

func (s *SQLiteStore) List(ctx context.Context, from, to time.Time) ([]Reservation, error) {
	return s.list(ctx, `
SELECT `+sqliteColumns+`
FROM reservations
WHERE slot_date >= ? AND slot_date < ?
ORDER BY starts_at ASC, created_at ASC`, civilDate(from), civilDate(to))
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]Reservation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Reservation, error) {
	r, err := scanSQLite(s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM reservations WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	return r, err
}

func (s *SQLiteStore) ActiveForLead(ctx context.Context, leadID string) (Reservation, error) {
	r, err := scanSQLite(s.db.QueryRowContext(ctx, `
SELECT `+sqliteColumns+`
FROM reservations
WHERE lead_id=? AND status <> 'cancelled'`, leadID))
	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	return r, err
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, to Status) (Reservation, error) {
	from := sourcesFor(to)
	if len(from) == 0 {
		return Reservation{}, fmt.Errorf("%w: nothing moves to %s", ErrBadTransition, to)
	}
	args := []any{string(to), sqliteTime(s.now()), id}
	for _, f := range from {
		args = append(args, f)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE reservations SET status=?, updated_at=?
WHERE id=? AND status IN (?`+strings.Repeat(",?", len(from)-1)+`)`, args...)
	if err != nil {
		return Reservation{}, fmt.Errorf("update reservation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Reservation{}, err
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if n == 0 {
		return Reservation{}, fmt.Errorf("%w: %s -> %s", ErrBadTransition, cur.Status, to)
	}
	return cur, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (Reservation, error) {
	var (
		r                          Reservation
		status                     string
		startsAt, created, updated string
	)
	if err := row.Scan(&r.ID, &r.LeadID, &r.Email, &r.Name, &r.Phone, &r.Company, &r.Date, &r.Time,
		&startsAt, &status, &r.Notes, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reservation{}, err
		}
		return Reservation{}, fmt.Errorf("scan reservation: %w", err)
	}
	r.Status = Status(status)
	var err error
	if r.StartsAt, err = parseSQLiteTime(startsAt); err != nil {
		return Reservation{}, err
	}
	if r.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return Reservation{}, err
	}
	if r.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return Reservation{}, err
	}
	return r, nil
}

func sqliteTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

var _ Store = (*SQLiteStore)(nil)
