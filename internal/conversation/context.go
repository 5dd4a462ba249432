package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BookingContext is the ephemeral state of an in-flight booking or
// cancellation flow. It lives in Redis with a TTL so an abandoned flow
// evaporates instead of trapping the patient.
type BookingContext struct {
	MonthOptions       []MonthOption `json:"month_options,omitempty"`
	Year               int           `json:"year,omitempty"`
	Month              time.Month    `json:"month,omitempty"`
	Day                int           `json:"day,omitempty"`
	AppointmentChoices []uuid.UUID   `json:"appointment_choices,omitempty"`
	Rescheduling       bool          `json:"rescheduling,omitempty"`
}

// ContextStore keeps booking contexts in Redis keyed by patient id.
type ContextStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewContextStore wires the store. ttl bounds how long an abandoned
// flow survives.
func NewContextStore(client *redis.Client, ttl time.Duration) *ContextStore {
	if client == nil {
		panic("conversation: redis client required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ContextStore{client: client, ttl: ttl}
}

func contextKey(patientID uuid.UUID) string {
	return "booking_ctx:" + patientID.String()
}

// Get returns the stored context, or nil when none exists.
func (s *ContextStore) Get(ctx context.Context, patientID uuid.UUID) (*BookingContext, error) {
	raw, err := s.client.Get(ctx, contextKey(patientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get context: %w", err)
	}

	var bc BookingContext
	if err := json.Unmarshal(raw, &bc); err != nil {
		return nil, fmt.Errorf("conversation: decode context: %w", err)
	}
	return &bc, nil
}

// Save writes the context and refreshes its TTL.
func (s *ContextStore) Save(ctx context.Context, patientID uuid.UUID, bc *BookingContext) error {
	raw, err := json.Marshal(bc)
	if err != nil {
		return fmt.Errorf("conversation: encode context: %w", err)
	}
	if err := s.client.Set(ctx, contextKey(patientID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("conversation: save context: %w", err)
	}
	return nil
}

// Clear removes the context. Clearing an absent key is fine.
func (s *ContextStore) Clear(ctx context.Context, patientID uuid.UUID) error {
	if err := s.client.Del(ctx, contextKey(patientID)).Err(); err != nil {
		return fmt.Errorf("conversation: clear context: %w", err)
	}
	return nil
}
