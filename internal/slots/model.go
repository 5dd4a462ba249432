// Package slots manages the clinic's bookable half-hour appointment
// slots. Start times are stored in UTC; presentation in clinic local
// time happens at the conversation layer.
package slots

import (
	"time"

	"github.com/google/uuid"
)

// Duration is the fixed length of every bookable slot.
const Duration = 30 * time.Minute

// Slot is one bookable interval. IsBooked flips under a compare-and-set
// update so two patients can never hold the same slot.
type Slot struct {
	ID        uuid.UUID
	StartTime time.Time
	IsBooked  bool
	CreatedAt time.Time
}

// End returns the exclusive end of the slot interval.
func (s *Slot) End() time.Time {
	return s.StartTime.Add(Duration)
}
