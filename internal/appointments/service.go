package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mishraclinic/whatsapp-assistant/internal/observability/metrics"
	"github.com/mishraclinic/whatsapp-assistant/internal/slots"
	"github.com/mishraclinic/whatsapp-assistant/pkg/logging"
)

// slotStore is the slice of the slot repository the booking service needs.
type slotStore interface {
	FindOrCreate(ctx context.Context, start time.Time) (*slots.Slot, error)
	Reserve(ctx context.Context, id uuid.UUID) error
	Release(ctx context.Context, id uuid.UUID) (bool, error)
	ListFree(ctx context.Context, from time.Time, limit int) ([]*slots.Slot, error)
}

type apptStore interface {
	Create(ctx context.Context, patientID, slotID uuid.UUID) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	ListUpcoming(ctx context.Context, patientID uuid.UUID, now time.Time) ([]*Appointment, error)
}

// Service coordinates slot reservation and appointment records. Booking
// is reserve-then-insert with a compensating release, so a crash or
// insert failure never strands a slot as booked without an appointment.
type Service struct {
	slots   slotStore
	appts   apptStore
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewService wires the booking service. metrics may be nil.
func NewService(slotRepo slotStore, apptRepo apptStore, logger *logging.Logger, m *metrics.Metrics) *Service {
	if slotRepo == nil || apptRepo == nil {
		panic("appointments: slot and appointment stores required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{slots: slotRepo, appts: apptRepo, logger: logger, metrics: m}
}

// Book reserves the slot starting at the given UTC instant and records
// a confirmed appointment for the patient. Either both writes land or
// neither does.
func (s *Service) Book(ctx context.Context, patientID uuid.UUID, start time.Time) (*Appointment, error) {
	slot, err := s.slots.FindOrCreate(ctx, start)
	if err != nil {
		if errors.Is(err, slots.ErrSlotConflict) {
			s.metrics.IncSlotConflict()
		}
		return nil, err
	}
	if slot.IsBooked {
		s.metrics.IncSlotConflict()
		return nil, slots.ErrSlotConflict
	}

	if err := s.slots.Reserve(ctx, slot.ID); err != nil {
		if errors.Is(err, slots.ErrSlotConflict) {
			s.metrics.IncSlotConflict()
		}
		return nil, err
	}

	appt, err := s.appts.Create(ctx, patientID, slot.ID)
	if err != nil {
		// Compensate so the slot does not stay booked with no record.
		if _, relErr := s.slots.Release(ctx, slot.ID); relErr != nil {
			s.logger.Error("failed to release slot after booking failure",
				"slot_id", slot.ID, "error", relErr)
		}
		return nil, fmt.Errorf("appointments: book failed: %w", err)
	}

	s.metrics.IncBooking()
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID, "patient_id", patientID, "start", appt.StartTime)
	return appt, nil
}

// Cancel marks an appointment cancelled and frees its slot. Cancel is
// idempotent: a second cancel of the same appointment succeeds, and a
// slot that was already free only gets a warning. Only a missing
// appointment row is a hard failure.
func (s *Service) Cancel(ctx context.Context, apptID uuid.UUID) (*Appointment, error) {
	appt, err := s.appts.GetByID(ctx, apptID)
	if err != nil {
		return nil, err
	}

	if err := s.appts.MarkCancelled(ctx, apptID); err != nil {
		return nil, err
	}

	released, err := s.slots.Release(ctx, appt.SlotID)
	if err != nil {
		return nil, fmt.Errorf("appointments: release after cancel failed: %w", err)
	}
	if !released {
		s.logger.Warn("cancelled appointment's slot was already free",
			"appointment_id", apptID, "slot_id", appt.SlotID)
	}

	s.metrics.IncCancellation()
	appt.Status = StatusCancelled
	s.logger.Info("appointment cancelled", "appointment_id", apptID, "patient_id", appt.PatientID)
	return appt, nil
}

// Upcoming lists the patient's confirmed future appointments.
func (s *Service) Upcoming(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	return s.appts.ListUpcoming(ctx, patientID, time.Now())
}

// FreeSlots lists open slots starting at or after the given instant,
// used to suggest alternatives when a requested time is taken.
func (s *Service) FreeSlots(ctx context.Context, from time.Time, limit int) ([]*slots.Slot, error) {
	return s.slots.ListFree(ctx, from, limit)
}
