// Package calendar creates Google Calendar events for confirmed
// appointments. Invites are best-effort: a calendar outage must never
// fail or delay a booking.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/mishraclinic/whatsapp-assistant/pkg/logging"
)

// InviteStatus reports what happened to the invite attempt.
type InviteStatus string

const (
	InviteSent    InviteStatus = "sent"
	InviteSkipped InviteStatus = "skipped"
	InviteFailed  InviteStatus = "failed"
)

// Invite describes the event to create.
type Invite struct {
	Summary       string
	Description   string
	Start         time.Time
	End           time.Time
	AttendeeEmail string
	Timezone      string
}

// Service creates calendar events on the clinic calendar.
type Service struct {
	events     *gcal.EventsService
	calendarID string
	timeout    time.Duration
	logger     *logging.Logger
}

// NewService builds the calendar service from service-account JSON.
// Returns nil (not an error) when credentials are absent so callers can
// treat the integration as disabled.
func NewService(ctx context.Context, credentialsJSON, calendarID string, timeout time.Duration, logger *logging.Logger) (*Service, error) {
	if strings.TrimSpace(credentialsJSON) == "" {
		return nil, nil
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}

	svc, err := gcal.NewService(ctx, option.WithCredentialsJSON([]byte(credentialsJSON)))
	if err != nil {
		return nil, fmt.Errorf("calendar: failed to create service: %w", err)
	}
	return &Service{events: svc.Events, calendarID: calendarID, timeout: timeout, logger: logger}, nil
}

// CreateInvite inserts the event. A nil receiver (integration disabled)
// reports InviteSkipped.
func (s *Service) CreateInvite(ctx context.Context, inv Invite) (InviteStatus, error) {
	if s == nil {
		return InviteSkipped, nil
	}
	if inv.Start.IsZero() || inv.End.IsZero() {
		return InviteFailed, errors.New("calendar: event start and end required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	event := &gcal.Event{
		Summary:     inv.Summary,
		Description: inv.Description,
		Start:       &gcal.EventDateTime{DateTime: inv.Start.Format(time.RFC3339), TimeZone: inv.Timezone},
		End:         &gcal.EventDateTime{DateTime: inv.End.Format(time.RFC3339), TimeZone: inv.Timezone},
	}
	if inv.AttendeeEmail != "" {
		event.Attendees = []*gcal.EventAttendee{{Email: inv.AttendeeEmail}}
	}

	created, err := s.events.Insert(s.calendarID, event).Context(ctx).SendUpdates("all").Do()
	if err != nil {
		return InviteFailed, fmt.Errorf("calendar: insert event failed: %w", err)
	}

	s.logger.Info("calendar invite created", "event_id", created.Id, "start", inv.Start)
	return InviteSent, nil
}
