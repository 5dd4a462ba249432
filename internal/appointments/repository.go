package appointments

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

// ErrAppointmentNotFound signals a lookup or cancel against a missing
// appointment row.
var ErrAppointmentNotFound = errors.New("appointments: not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository stores appointments.
type Repository struct {
	pool  querier
	retry db.RetryPolicy
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{pool: pool, retry: db.DefaultRetryPolicy()}
}

// NewRepositoryWithQuerier allows injecting mocks for tests.
func NewRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("appointments: querier required")
	}
	return &Repository{pool: q, retry: db.RetryPolicy{Attempts: 1}}
}

const apptColumns = `a.id, a.patient_id, a.slot_id, s.slot_start_time, a.status, a.created_at, a.updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var rawStatus string
	if err := row.Scan(&a.ID, &a.PatientID, &a.SlotID, &a.StartTime, &rawStatus, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = Status(rawStatus)
	a.StartTime = a.StartTime.UTC()
	return &a, nil
}

// Create inserts a confirmed appointment for an already-reserved slot.
func (r *Repository) Create(ctx context.Context, patientID, slotID uuid.UUID) (*Appointment, error) {
	var out *Appointment
	err := db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		query := `
			WITH inserted AS (
				INSERT INTO appointments (id, patient_id, slot_id, status)
				VALUES ($1, $2, $3, $4)
				RETURNING id, patient_id, slot_id, status, created_at, updated_at
			)
			SELECT a.id, a.patient_id, a.slot_id, s.slot_start_time, a.status, a.created_at, a.updated_at
			FROM inserted a
			JOIN availability_slots s ON s.id = a.slot_id`
		a, err := scanAppointment(r.pool.QueryRow(ctx, query, uuid.New(), patientID, slotID, string(StatusConfirmed)))
		if err != nil {
			return fmt.Errorf("appointments: insert failed: %w", err)
		}
		out = a
		return nil
	})
	return out, err
}

// GetByID fetches a single appointment regardless of status.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var out *Appointment
	err := db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		query := `
			SELECT ` + apptColumns + `
			FROM appointments a
			JOIN availability_slots s ON s.id = a.slot_id
			WHERE a.id = $1`
		a, err := scanAppointment(r.pool.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return db.Permanent(ErrAppointmentNotFound)
			}
			return fmt.Errorf("appointments: select failed: %w", err)
		}
		out = a
		return nil
	})
	return out, err
}

// MarkCancelled flips an appointment to cancelled. Cancelling an
// already-cancelled appointment succeeds again; only a missing row
// reports ErrAppointmentNotFound.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	return db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		ct, err := r.pool.Exec(ctx, `
			UPDATE appointments SET status = $1, updated_at = $2
			WHERE id = $3`,
			string(StatusCancelled), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("appointments: cancel failed: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return db.Permanent(ErrAppointmentNotFound)
		}
		return nil
	})
}

// ListUpcoming returns the patient's confirmed future appointments
// ordered by start time.
func (r *Repository) ListUpcoming(ctx context.Context, patientID uuid.UUID, now time.Time) ([]*Appointment, error) {
	var out []*Appointment
	err := db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, `
			SELECT `+apptColumns+`
			FROM appointments a
			JOIN availability_slots s ON s.id = a.slot_id
			WHERE a.patient_id = $1 AND a.status = $2 AND s.slot_start_time >= $3
			ORDER BY s.slot_start_time`,
			patientID, string(StatusConfirmed), now.UTC())
		if err != nil {
			return fmt.Errorf("appointments: list upcoming failed: %w", err)
		}
		defer rows.Close()

		var appts []*Appointment
		for rows.Next() {
			a, err := scanAppointment(rows)
			if err != nil {
				return fmt.Errorf("appointments: scan failed: %w", err)
			}
			appts = append(appts, a)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("appointments: iterate failed: %w", err)
		}
		out = appts
		return nil
	})
	return out, err
}
