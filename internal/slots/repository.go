package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mishraclinic/whatsapp-assistant/internal/db"
)

var (
	// ErrSlotConflict means the requested time is already held by a
	// confirmed booking. Callers should offer alternatives, not retry.
	ErrSlotConflict = errors.New("slots: slot already booked")
	// ErrSlotNotFound signals an unknown slot id.
	ErrSlotNotFound = errors.New("slots: not found")
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository stores availability slots.
type Repository struct {
	pool  querier
	retry db.RetryPolicy
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("slots: pgx pool required")
	}
	return &Repository{pool: pool, retry: db.DefaultRetryPolicy()}
}

// NewRepositoryWithQuerier allows injecting mocks for tests.
func NewRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("slots: querier required")
	}
	return &Repository{pool: q, retry: db.RetryPolicy{Attempts: 1}}
}

const slotColumns = `id, slot_start_time, is_booked, created_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	if err := row.Scan(&s.ID, &s.StartTime, &s.IsBooked, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.StartTime = s.StartTime.UTC()
	return &s, nil
}

// FindOrCreate returns the slot starting at the given UTC instant,
// creating it on first demand. If a booked slot overlaps the requested
// interval the call fails with ErrSlotConflict before inserting
// anything. The unique index on slot_start_time closes the concurrent
// create race; a loser of that race re-reads the winner's row.
func (r *Repository) FindOrCreate(ctx context.Context, start time.Time) (*Slot, error) {
	start = start.UTC().Truncate(time.Minute)
	end := start.Add(Duration)

	var out *Slot
	err := db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		overlap := `
			SELECT ` + slotColumns + `
			FROM availability_slots
			WHERE is_booked = TRUE
			  AND slot_start_time < $2
			  AND slot_start_time + make_interval(mins => $3) > $1
			LIMIT 1`
		_, err := scanSlot(r.pool.QueryRow(ctx, overlap, start, end, int(Duration.Minutes())))
		if err == nil {
			return db.Permanent(ErrSlotConflict)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("slots: overlap check failed: %w", err)
		}

		exact := `SELECT ` + slotColumns + ` FROM availability_slots WHERE slot_start_time = $1`
		s, err := scanSlot(r.pool.QueryRow(ctx, exact, start))
		if err == nil {
			out = s
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("slots: select failed: %w", err)
		}

		insert := `
			INSERT INTO availability_slots (id, slot_start_time, is_booked)
			VALUES ($1, $2, FALSE)
			ON CONFLICT (slot_start_time) DO NOTHING
			RETURNING ` + slotColumns
		s, err = scanSlot(r.pool.QueryRow(ctx, insert, uuid.New(), start))
		if err == nil {
			out = s
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("slots: insert failed: %w", err)
		}

		s, err = scanSlot(r.pool.QueryRow(ctx, exact, start))
		if err != nil {
			return fmt.Errorf("slots: reselect after conflict failed: %w", err)
		}
		out = s
		return nil
	})
	return out, err
}

// Reserve atomically claims a free slot. The conditional update is the
// only place a slot flips to booked, so losing the race surfaces as
// ErrSlotConflict rather than a double booking.
func (r *Repository) Reserve(ctx context.Context, id uuid.UUID) error {
	return db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		ct, err := r.pool.Exec(ctx,
			`UPDATE availability_slots SET is_booked = TRUE WHERE id = $1 AND is_booked = FALSE`, id)
		if err != nil {
			return fmt.Errorf("slots: reserve failed: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return db.Permanent(ErrSlotConflict)
		}
		return nil
	})
}

// Release frees a slot. Releasing an already-free slot is not an error;
// the bool return tells the caller whether anything actually changed so
// cancellation can log the oddity.
func (r *Repository) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	var released bool
	err := db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		ct, err := r.pool.Exec(ctx,
			`UPDATE availability_slots SET is_booked = FALSE WHERE id = $1 AND is_booked = TRUE`, id)
		if err != nil {
			return fmt.Errorf("slots: release failed: %w", err)
		}
		released = ct.RowsAffected() > 0
		return nil
	})
	return released, err
}

// GetByID fetches a single slot.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	var out *Slot
	err := db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		s, err := scanSlot(r.pool.QueryRow(ctx,
			`SELECT `+slotColumns+` FROM availability_slots WHERE id = $1`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return db.Permanent(ErrSlotNotFound)
			}
			return fmt.Errorf("slots: select failed: %w", err)
		}
		out = s
		return nil
	})
	return out, err
}

// ListFree returns up to limit unbooked slots starting at or after
// from, ordered by start time.
func (r *Repository) ListFree(ctx context.Context, from time.Time, limit int) ([]*Slot, error) {
	var out []*Slot
	err := db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, `
			SELECT `+slotColumns+`
			FROM availability_slots
			WHERE is_booked = FALSE AND slot_start_time >= $1
			ORDER BY slot_start_time
			LIMIT $2`, from.UTC(), limit)
		if err != nil {
			return fmt.Errorf("slots: list free failed: %w", err)
		}
		defer rows.Close()

		var slots []*Slot
		for rows.Next() {
			s, err := scanSlot(rows)
			if err != nil {
				return fmt.Errorf("slots: scan failed: %w", err)
			}
			slots = append(slots, s)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("slots: iterate failed: %w", err)
		}
		out = slots
		return nil
	})
	return out, err
}
