package patients

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
	// ErrPatientNotFound signals a lookup or conditional update that
	// matched no row.
	ErrPatientNotFound = errors.New("patients: not found")
	// ErrFieldNotAllowed marks a write outside the profile allow-list.
	// This is a programming error, not user input error.
	ErrFieldNotAllowed = errors.New("patients: field not allowed for profile updates")
)

// Field names accepted by UpdateField. Anything else is rejected.
const (
	FieldFullName = "full_name"
	FieldAge      = "age"
	FieldGender   = "gender"
	FieldEmail    = "email"
)

var allowedFields = map[string]struct{}{
	FieldFullName: {},
	FieldAge:      {},
	FieldGender:   {},
	FieldEmail:    {},
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository stores patient profiles in the relational database.
type Repository struct {
	pool  querier
	retry db.RetryPolicy
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("patients: pgx pool required")
	}
	return &Repository{pool: pool, retry: db.DefaultRetryPolicy()}
}

// NewRepositoryWithQuerier allows injecting mocks for tests. Retries are
// disabled so expectations stay deterministic.
func NewRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("patients: querier required")
	}
	return &Repository{pool: q, retry: db.RetryPolicy{Attempts: 1}}
}

const patientColumns = `id, phone_number, full_name, COALESCE(age, 0), COALESCE(gender, ''), COALESCE(email, ''), onboarding_step, onboarding_completed, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var rawStep string
	var rawGender string
	if err := row.Scan(
		&p.ID,
		&p.PhoneNumber,
		&p.FullName,
		&p.Age,
		&rawGender,
		&p.Email,
		&rawStep,
		&p.OnboardingCompleted,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	step, err := ParseStep(rawStep)
	if err != nil {
		return nil, err
	}
	p.Step = step
	p.Gender = Gender(rawGender)
	return &p, nil
}

// FindOrCreateByPhone returns the existing patient untouched, or inserts
// a fresh row with a synthesized default name. Safe under concurrent
// first messages from the same number: the losing insert re-reads.
func (r *Repository) FindOrCreateByPhone(ctx context.Context, phone string) (*Patient, error) {
	var out *Patient
	err := db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		p, err := r.findByPhone(ctx, phone)
		if err == nil {
			out = p
			return nil
		}
		if !errors.Is(err, ErrPatientNotFound) {
			return err
		}

		insert := `
			INSERT INTO patients (id, phone_number, full_name, onboarding_step, onboarding_completed)
			VALUES ($1, $2, $3, $4, FALSE)
			ON CONFLICT (phone_number) DO NOTHING
			RETURNING ` + patientColumns
		p, err = scanPatient(r.pool.QueryRow(ctx, insert, uuid.New(), phone, DefaultName(phone), string(StepStart)))
		if err == nil {
			out = p
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("patients: insert failed: %w", err)
		}

		// Lost the insert race; the row exists now.
		p, err = r.findByPhone(ctx, phone)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (r *Repository) findByPhone(ctx context.Context, phone string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE phone_number = $1`
	p, err := scanPatient(r.pool.QueryRow(ctx, query, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		if errors.Is(err, ErrUnknownStep) {
			return nil, db.Permanent(err)
		}
		return nil, fmt.Errorf("patients: select failed: %w", err)
	}
	return p, nil
}

// GetByID fetches a patient row.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var out *Patient
	err := db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
		p, err := scanPatient(r.pool.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return db.Permanent(ErrPatientNotFound)
			}
			if errors.Is(err, ErrUnknownStep) {
				return db.Permanent(err)
			}
			return fmt.Errorf("patients: select failed: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

// UpdateField writes a single profile field from the explicit allow-list.
// Writes outside the list fail with ErrFieldNotAllowed before touching
// the database.
func (r *Repository) UpdateField(ctx context.Context, id uuid.UUID, field string, value any) error {
	if _, ok := allowedFields[field]; !ok {
		return fmt.Errorf("%w: %q", ErrFieldNotAllowed, field)
	}
	if field == FieldAge {
		age, ok := value.(int)
		if !ok || !ValidAge(age) {
			return fmt.Errorf("patients: invalid age value %v", value)
		}
	}

	return db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		// field is restricted to the allow-list above, never user input.
		query := fmt.Sprintf(`UPDATE patients SET %s = $1, updated_at = $2 WHERE id = $3`, field)
		ct, err := r.pool.Exec(ctx, query, value, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("patients: update %s failed: %w", field, err)
		}
		if ct.RowsAffected() == 0 {
			return db.Permanent(ErrPatientNotFound)
		}
		return nil
	})
}

// SetStep records a step transition.
func (r *Repository) SetStep(ctx context.Context, id uuid.UUID, step Step) error {
	if _, ok := knownSteps[step]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	return db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		query := `UPDATE patients SET onboarding_step = $1, updated_at = $2 WHERE id = $3`
		ct, err := r.pool.Exec(ctx, query, string(step), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("patients: set step failed: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return db.Permanent(ErrPatientNotFound)
		}
		return nil
	})
}

// CompleteOnboarding atomically flips the completed flag and parks the
// step at the terminal value.
func (r *Repository) CompleteOnboarding(ctx context.Context, id uuid.UUID) error {
	return db.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		query := `
			UPDATE patients
			SET onboarding_completed = TRUE, onboarding_step = $1, updated_at = $2
			WHERE id = $3`
		ct, err := r.pool.Exec(ctx, query, string(StepCompleted), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("patients: complete onboarding failed: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return db.Permanent(ErrPatientNotFound)
		}
		return nil
	})
}
