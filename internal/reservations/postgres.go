package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/example/advisory-booking/internal/db"
)

const (
	leadIndex = "reservations_active_lead"

	pgColumns = `id,lead_id,email,name,phone,company,slot_date,slot_time,starts_at,status,notes,created_at,updated_at`
)

// PostgresStore keeps reservations in Postgres. Slot uniqueness is enforced
// by partial unique indexes, so inserts need no prior read or lock.
type PostgresStore struct {
	db  *db.DB
	now func() time.Time
}

func NewPostgresStore(d *db.DB) *PostgresStore {
	return &PostgresStore{db: d, now: time.Now}
}

func (s *PostgresStore) Insert(ctx context.Context, r Reservation) (Reservation, error) {
	r, err := prepare(r, s.now())
	if err != nil {
		return Reservation{}, err
	}
	err = s.db.Exec(ctx, `
INSERT INTO reservations(`+pgColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.LeadID, r.Email, r.Name, r.Phone, r.Company, pgDate(r.Date), r.Time, r.StartsAt,
		string(r.Status), r.Notes, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := db.UniqueViolation(err); ok {
			if constraint == leadIndex {
				return Reservation{}, ErrLeadBooked
			}
			return Reservation{}, ErrSlotTaken
		}
		return Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, from, to time.Time) ([]Reservation, error) {
	return s.list(ctx, `
SELECT `+pgColumns+`
FROM reservations
WHERE slot_date >= $1 AND slot_date < $2 AND status <> 'cancelled'
ORDER BY starts_at ASC`, pgDate(civilDate(from)), pgDate(civilDate(to)))
}

func (s *PostgresStore) List(ctx context.Context, from, to time.Time) ([]Reservation, error) {
	return s.list(ctx, `
SELECT `+pgColumns+`
FROM reservations
WHERE slot_date >= $1 AND slot_date < $2
ORDER BY starts_at ASC, created_at ASC`, pgDate(civilDate(from)), pgDate(civilDate(to)))
}

func (s *PostgresStore) list(ctx context.Context, sql string, args ...any) ([]Reservation, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		r, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Reservation, error) {
	r, err := scanPostgres(s.db.QueryRow(ctx, `SELECT `+pgColumns+` FROM reservations WHERE id=$1`, id))
	if err != nil {
		if db.IsNotFound(err) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, err
	}
	return r, nil
}

func (s *PostgresStore) ActiveForLead(ctx context.Context, leadID string) (Reservation, error) {
	r, err := scanPostgres(s.db.QueryRow(ctx, `
SELECT `+pgColumns+`
FROM reservations
WHERE lead_id=$1 AND status <> 'cancelled'`, leadID))
	if err != nil {
		if db.IsNotFound(err) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, err
	}
	return r, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, to Status) (Reservation, error) {
	r, err := scanPostgres(s.db.QueryRow(ctx, `
UPDATE reservations SET status=$2, updated_at=now()
WHERE id=$1 AND status = ANY($3)
RETURNING `+pgColumns, id, string(to), sourcesFor(to)))
	if err == nil {
		return r, nil
	}
	if !db.IsNotFound(err) {
		if _, ok := db.UniqueViolation(err); ok {
			return Reservation{}, ErrSlotTaken
		}
		return Reservation{}, fmt.Errorf("update reservation status: %w", err)
	}
	// nothing updated: tell a missing row from a forbidden transition
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	return Reservation{}, fmt.Errorf("%w: %s -> %s", ErrBadTransition, cur.Status, to)
}

func scanPostgres(row db.Row) (Reservation, error) {
	var (
		r      Reservation
		date   time.Time
		status string
	)
	err := row.Scan(&r.ID, &r.LeadID, &r.Email, &r.Name, &r.Phone, &r.Company, &date, &r.Time,
		&r.StartsAt, &status, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Reservation{}, db.WrapNotFound(err)
	}
	r.Date = date.Format("2006-01-02")
	r.Status = Status(status)
	return r, nil
}

// pgDate turns a YYYY-MM-DD string into a UTC midnight for DATE parameters.
func pgDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ Store = (*PostgresStore)(nil)
