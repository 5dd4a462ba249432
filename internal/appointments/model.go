// Package appointments owns confirmed bookings and the transitions
// between a free slot and a confirmed appointment.
package appointments

import (
	"time"

	"github.com/google/uuid"
)

// Status enumerates the lifecycle of an appointment.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Appointment joins a patient to a reserved slot.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	SlotID    uuid.UUID
	StartTime time.Time
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}
