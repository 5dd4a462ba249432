// Package conversation drives the WhatsApp dialogue: onboarding new
// patients, walking booking, cancellation and reschedule flows, and
// routing free-form questions to the knowledge service.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/mishraclinic/whatsapp-assistant/internal/appointments"
	"github.com/mishraclinic/whatsapp-assistant/internal/calendar"
	"github.com/mishraclinic/whatsapp-assistant/internal/intent"
	"github.com/mishraclinic/whatsapp-assistant/internal/messaging"
	"github.com/mishraclinic/whatsapp-assistant/internal/observability/metrics"
	"github.com/mishraclinic/whatsapp-assistant/internal/patients"
	"github.com/mishraclinic/whatsapp-assistant/internal/slots"
	"github.com/mishraclinic/whatsapp-assistant/pkg/logging"
)

var routerTracer = otel.Tracer("assistant.internal.conversation.router")

type patientStore interface {
	FindOrCreateByPhone(ctx context.Context, phone string) (*patients.Patient, error)
	UpdateField(ctx context.Context, id uuid.UUID, field string, value any) error
	SetStep(ctx context.Context, id uuid.UUID, step patients.Step) error
	CompleteOnboarding(ctx context.Context, id uuid.UUID) error
}

type bookingService interface {
	Book(ctx context.Context, patientID uuid.UUID, start time.Time) (*appointments.Appointment, error)
	Cancel(ctx context.Context, apptID uuid.UUID) (*appointments.Appointment, error)
	Upcoming(ctx context.Context, patientID uuid.UUID) ([]*appointments.Appointment, error)
	FreeSlots(ctx context.Context, from time.Time, limit int) ([]*slots.Slot, error)
}

type messageClassifier interface {
	Classify(ctx context.Context, message, conversationStep string) intent.Result
}

type answerer interface {
	Ask(ctx context.Context, query string) (string, error)
}

type outboundMessenger interface {
	Send(ctx context.Context, to, body string) error
}

type inviteCreator interface {
	CreateInvite(ctx context.Context, inv calendar.Invite) (calendar.InviteStatus, error)
}

// RouterConfig wires the router's collaborators. Knowledge and Invites
// are optional; everything else is required.
type RouterConfig struct {
	Patients   patientStore
	Bookings   bookingService
	Classifier messageClassifier
	Knowledge  answerer
	Messenger  outboundMessenger
	Invites    inviteCreator
	Contexts   *ContextStore
	Schedule   *Schedule
	ClinicName string
	Logger     *logging.Logger
	Metrics    *metrics.Metrics

	// FillerInterval paces the progress notes during a knowledge
	// lookup. Zero means the production default.
	FillerInterval time.Duration

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Router handles one inbound message at a time per patient and returns
// the immediate reply. It never returns an error: any internal failure
// degrades to an apology so the patient is never left hanging.
type Router struct {
	patients   patientStore
	bookings   bookingService
	classifier messageClassifier
	knowledge  answerer
	messenger  outboundMessenger
	invites    inviteCreator
	contexts   *ContextStore
	sched      *Schedule
	clinicName string
	logger     *logging.Logger
	metrics    *metrics.Metrics

	fillerInterval time.Duration
	now            func() time.Time
}

// NewRouter validates the wiring and builds the router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Patients == nil || cfg.Bookings == nil || cfg.Classifier == nil ||
		cfg.Messenger == nil || cfg.Contexts == nil || cfg.Schedule == nil {
		panic("conversation: missing required router dependency")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.ClinicName == "" {
		cfg.ClinicName = "the clinic"
	}
	if cfg.FillerInterval <= 0 {
		cfg.FillerInterval = 4 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{
		patients:       cfg.Patients,
		bookings:       cfg.Bookings,
		classifier:     cfg.Classifier,
		knowledge:      cfg.Knowledge,
		messenger:      cfg.Messenger,
		invites:        cfg.Invites,
		contexts:       cfg.Contexts,
		sched:          cfg.Schedule,
		clinicName:     cfg.ClinicName,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		fillerInterval: cfg.FillerInterval,
		now:            cfg.Now,
	}
}

// Handle processes one inbound message and returns the reply to embed
// in the webhook response. An empty reply means the answer will arrive
// out of band.
func (r *Router) Handle(ctx context.Context, from, body string) string {
	ctx, span := routerTracer.Start(ctx, "conversation.handle")
	defer span.End()

	phone := messaging.StripWhatsAppPrefix(from)
	p, err := r.patients.FindOrCreateByPhone(ctx, phone)
	if err != nil {
		r.logger.Error("failed to load patient", "phone", phone, "error", err)
		r.metrics.IncInbound("error")
		return replyApology
	}

	reply := r.route(ctx, p, strings.TrimSpace(body))
	r.metrics.IncInbound("ok")
	return reply
}

func (r *Router) route(ctx context.Context, p *patients.Patient, text string) string {
	// A greeting always restarts the conversation, even mid-flow.
	if quick := (intent.FallbackClassifier{}).Classify(text, ""); quick.Intent == intent.IntentGreeting {
		return r.handleGreeting(ctx, p)
	}

	if p.Step.IsAwaiting() {
		return r.handleStep(ctx, p, text)
	}

	if !p.OnboardingCompleted {
		return r.beginOnboarding(ctx, p)
	}

	res := r.classifier.Classify(ctx, text, string(p.Step))
	switch res.Intent {
	case intent.IntentGreeting:
		return r.handleGreeting(ctx, p)
	case intent.IntentRequestBooking:
		return r.startBooking(ctx, p, false, "")
	case intent.IntentRequestCancellation:
		return r.listAppointments(ctx, p, patients.StepAwaitingCancel, "cancel")
	case intent.IntentRequestReschedule:
		return r.listAppointments(ctx, p, patients.StepAwaitingResch, "reschedule")
	case intent.IntentSelectChoice, intent.IntentProvideTime:
		return replyNoActiveSelection
	case intent.IntentDermQuery:
		return r.startKnowledgeLookup(p, text)
	default:
		return replyHelp
	}
}

// handleGreeting resets any in-flight flow and greets the patient, or
// starts onboarding for a new patient.
func (r *Router) handleGreeting(ctx context.Context, p *patients.Patient) string {
	if err := r.contexts.Clear(ctx, p.ID); err != nil {
		r.logger.Warn("failed to clear booking context", "patient_id", p.ID, "error", err)
	}

	if !p.OnboardingCompleted {
		return r.beginOnboarding(ctx, p)
	}

	if p.Step != patients.StepCompleted {
		if err := r.patients.SetStep(ctx, p.ID, patients.StepCompleted); err != nil {
			r.logger.Error("failed to reset step", "patient_id", p.ID, "error", err)
			return replyApology
		}
	}
	return fmt.Sprintf(replyGreetingOnboarded, p.FirstName())
}

func (r *Router) beginOnboarding(ctx context.Context, p *patients.Patient) string {
	if err := r.patients.SetStep(ctx, p.ID, patients.StepAwaitingName); err != nil {
		r.logger.Error("failed to start onboarding", "patient_id", p.ID, "error", err)
		return replyApology
	}
	return fmt.Sprintf(replyAskName, r.clinicName)
}

func (r *Router) handleStep(ctx context.Context, p *patients.Patient, text string) string {
	switch p.Step {
	case patients.StepAwaitingName:
		return r.handleName(ctx, p, text)
	case patients.StepAwaitingAge:
		return r.handleAge(ctx, p, text)
	case patients.StepAwaitingSex:
		return r.handleSex(ctx, p, text)
	case patients.StepAwaitingEmail:
		return r.handleEmail(ctx, p, text)
	case patients.StepAwaitingMonth:
		return r.handleMonthChoice(ctx, p, text)
	case patients.StepAwaitingDate:
		return r.handleDateChoice(ctx, p, text)
	case patients.StepAwaitingTime:
		return r.handleTimeChoice(ctx, p, text)
	case patients.StepAwaitingCancel:
		return r.handleAppointmentChoice(ctx, p, text, false)
	case patients.StepAwaitingResch:
		return r.handleAppointmentChoice(ctx, p, text, true)
	default:
		return replyHelp
	}
}

func (r *Router) handleName(ctx context.Context, p *patients.Patient, text string) string {
	if !patients.ValidFullName(text) {
		return replyInvalidName
	}
	name := strings.Join(strings.Fields(text), " ")
	if err := r.patients.UpdateField(ctx, p.ID, patients.FieldFullName, name); err != nil {
		r.logger.Error("failed to save name", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if err := r.patients.SetStep(ctx, p.ID, patients.StepAwaitingAge); err != nil {
		r.logger.Error("failed to advance step", "patient_id", p.ID, "error", err)
		return replyApology
	}
	first := strings.Fields(name)[0]
	return fmt.Sprintf(replyAskAge, first)
}

func (r *Router) handleAge(ctx context.Context, p *patients.Patient, text string) string {
	age, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || !patients.ValidAge(age) {
		return replyInvalidAge
	}
	if err := r.patients.UpdateField(ctx, p.ID, patients.FieldAge, age); err != nil {
		r.logger.Error("failed to save age", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if err := r.patients.SetStep(ctx, p.ID, patients.StepAwaitingSex); err != nil {
		r.logger.Error("failed to advance step", "patient_id", p.ID, "error", err)
		return replyApology
	}
	return replyAskSex
}

func (r *Router) handleSex(ctx context.Context, p *patients.Patient, text string) string {
	gender, ok := patients.ParseGender(text)
	if !ok {
		return replyInvalidSex
	}
	if err := r.patients.UpdateField(ctx, p.ID, patients.FieldGender, string(gender)); err != nil {
		r.logger.Error("failed to save gender", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if err := r.patients.SetStep(ctx, p.ID, patients.StepAwaitingEmail); err != nil {
		r.logger.Error("failed to advance step", "patient_id", p.ID, "error", err)
		return replyApology
	}
	return replyAskEmail
}

func (r *Router) handleEmail(ctx context.Context, p *patients.Patient, text string) string {
	email := strings.TrimSpace(text)
	if !patients.ValidEmail(email) {
		return replyInvalidEmail
	}
	if err := r.patients.UpdateField(ctx, p.ID, patients.FieldEmail, email); err != nil {
		r.logger.Error("failed to save email", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if err := r.patients.CompleteOnboarding(ctx, p.ID); err != nil {
		r.logger.Error("failed to complete onboarding", "patient_id", p.ID, "error", err)
		return replyApology
	}
	return fmt.Sprintf(replyOnboarded, p.FirstName())
}

// startBooking opens the month-selection step. intro prefixes the
// month list, used by reschedule to confirm the cancellation first.
func (r *Router) startBooking(ctx context.Context, p *patients.Patient, rescheduling bool, intro string) string {
	opts := r.sched.MonthOptions(r.now())
	bc := &BookingContext{MonthOptions: opts, Rescheduling: rescheduling}
	if err := r.contexts.Save(ctx, p.ID, bc); err != nil {
		r.logger.Error("failed to save booking context", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if err := r.patients.SetStep(ctx, p.ID, patients.StepAwaitingMonth); err != nil {
		r.logger.Error("failed to advance step", "patient_id", p.ID, "error", err)
		return replyApology
	}
	return formatMonthPrompt(intro, opts)
}

func parseChoice(text string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(text), "."))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r *Router) handleMonthChoice(ctx context.Context, p *patients.Patient, text string) string {
	bc, err := r.contexts.Get(ctx, p.ID)
	if err != nil {
		r.logger.Error("failed to load booking context", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if bc == nil || len(bc.MonthOptions) == 0 {
		// Context expired; restart the flow rather than guessing.
		return r.startBooking(ctx, p, false, "")
	}

	n, ok := parseChoice(text)
	if !ok || n < 1 || n > len(bc.MonthOptions) {
		return formatInvalidChoice(len(bc.MonthOptions))
	}

	chosen := bc.MonthOptions[n-1]
	bc.Year, bc.Month = chosen.Year, chosen.Month
	if err := r.contexts.Save(ctx, p.ID, bc); err != nil {
		r.logger.Error("failed to save booking context", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if err := r.patients.SetStep(ctx, p.ID, patients.StepAwaitingDate); err != nil {
		r.logger.Error("failed to advance step", "patient_id", p.ID, "error", err)
		return replyApology
	}
	return fmt.Sprintf(replyDatePrompt, chosen.Label())
}

func (r *Router) handleDateChoice(ctx context.Context, p *patients.Patient, text string) string {
	bc, err := r.contexts.Get(ctx, p.ID)
	if err != nil {
		r.logger.Error("failed to load booking context", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if bc == nil || bc.Month == 0 {
		return r.startBooking(ctx, p, false, "")
	}

	day, ok := parseChoice(text)
	if !ok || day < 1 || day > 31 {
		return replyInvalidDate
	}

	bc.Day = day
	if err := r.contexts.Save(ctx, p.ID, bc); err != nil {
		r.logger.Error("failed to save booking context", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if err := r.patients.SetStep(ctx, p.ID, patients.StepAwaitingTime); err != nil {
		r.logger.Error("failed to advance step", "patient_id", p.ID, "error", err)
		return replyApology
	}
	return replyTimePrompt
}

func (r *Router) handleTimeChoice(ctx context.Context, p *patients.Patient, text string) string {
	bc, err := r.contexts.Get(ctx, p.ID)
	if err != nil {
		r.logger.Error("failed to load booking context", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if bc == nil || bc.Day == 0 {
		return r.startBooking(ctx, p, false, "")
	}

	hour, minute, ok := ParseTimeOfDay(text)
	if !ok {
		return replyInvalidTime
	}

	local := r.sched.At(bc.Year, bc.Month, bc.Day, hour, minute)
	if !r.sched.WithinWindow(local) {
		return replyOutsideWindow
	}
	if !local.After(r.now()) {
		return replyPastTime
	}

	appt, err := r.bookings.Book(ctx, p.ID, local.UTC())
	if err != nil {
		if errors.Is(err, slots.ErrSlotConflict) {
			// Stay on the time step so the patient can try again.
			return r.slotTakenReply(ctx, p, local.UTC())
		}
		r.logger.Error("booking failed", "patient_id", p.ID, "error", err)
		return replyApology
	}

	rescheduled := bc.Rescheduling
	if err := r.contexts.Clear(ctx, p.ID); err != nil {
		r.logger.Warn("failed to clear booking context", "patient_id", p.ID, "error", err)
	}
	if err := r.patients.SetStep(ctx, p.ID, patients.StepCompleted); err != nil {
		r.logger.Error("failed to reset step", "patient_id", p.ID, "error", err)
	}

	r.sendCalendarInvite(p, appt)

	when := r.sched.FormatLocal(appt.StartTime)
	if rescheduled {
		return fmt.Sprintf(replyRescheduleConfirmed, when)
	}
	return fmt.Sprintf(replyBookingConfirmed, when)
}

// slotTakenReply offers nearby free times alongside the conflict
// notice when any exist.
func (r *Router) slotTakenReply(ctx context.Context, p *patients.Patient, requested time.Time) string {
	free, err := r.bookings.FreeSlots(ctx, requested, 3)
	if err != nil {
		r.logger.Warn("failed to list free slots", "patient_id", p.ID, "error", err)
	}
	if len(free) == 0 {
		return replySlotTaken
	}
	lines := make([]string, len(free))
	for i, s := range free {
		lines[i] = r.sched.FormatLocal(s.StartTime)
	}
	return formatSlotSuggestions(lines)
}

func (r *Router) listAppointments(ctx context.Context, p *patients.Patient, step patients.Step, action string) string {
	upcoming, err := r.bookings.Upcoming(ctx, p.ID)
	if err != nil {
		r.logger.Error("failed to list appointments", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if len(upcoming) == 0 {
		return replyNoUpcoming
	}

	ids := make([]uuid.UUID, len(upcoming))
	lines := make([]string, len(upcoming))
	for i, a := range upcoming {
		ids[i] = a.ID
		lines[i] = r.sched.FormatLocal(a.StartTime)
	}

	bc := &BookingContext{AppointmentChoices: ids}
	if err := r.contexts.Save(ctx, p.ID, bc); err != nil {
		r.logger.Error("failed to save booking context", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if err := r.patients.SetStep(ctx, p.ID, step); err != nil {
		r.logger.Error("failed to advance step", "patient_id", p.ID, "error", err)
		return replyApology
	}
	return formatAppointmentList(action, lines)
}

func (r *Router) handleAppointmentChoice(ctx context.Context, p *patients.Patient, text string, reschedule bool) string {
	bc, err := r.contexts.Get(ctx, p.ID)
	if err != nil {
		r.logger.Error("failed to load booking context", "patient_id", p.ID, "error", err)
		return replyApology
	}
	if bc == nil || len(bc.AppointmentChoices) == 0 {
		return replyNoActiveSelection
	}

	n, ok := parseChoice(text)
	if !ok || n < 1 || n > len(bc.AppointmentChoices) {
		return formatInvalidChoice(len(bc.AppointmentChoices))
	}

	cancelled, err := r.bookings.Cancel(ctx, bc.AppointmentChoices[n-1])
	if err != nil {
		r.logger.Error("cancellation failed", "patient_id", p.ID, "error", err)
		return replyApology
	}

	when := r.sched.FormatLocal(cancelled.StartTime)
	if reschedule {
		return r.startBooking(ctx, p, true, fmt.Sprintf(replyCancelledNowRebook, when))
	}

	if err := r.contexts.Clear(ctx, p.ID); err != nil {
		r.logger.Warn("failed to clear booking context", "patient_id", p.ID, "error", err)
	}
	if err := r.patients.SetStep(ctx, p.ID, patients.StepCompleted); err != nil {
		r.logger.Error("failed to reset step", "patient_id", p.ID, "error", err)
	}
	return fmt.Sprintf(replyCancelled, when)
}

func (r *Router) sendCalendarInvite(p *patients.Patient, appt *appointments.Appointment) {
	if r.invites == nil || p.Email == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		status, err := r.invites.CreateInvite(ctx, calendar.Invite{
			Summary:       fmt.Sprintf("Appointment at %s", r.clinicName),
			Description:   fmt.Sprintf("Appointment for %s.", p.FullName),
			Start:         appt.StartTime,
			End:           appt.StartTime.Add(r.sched.SlotLength),
			AttendeeEmail: p.Email,
			Timezone:      r.sched.Location.String(),
		})
		if err != nil {
			r.logger.Warn("calendar invite failed", "appointment_id", appt.ID, "error", err)
			return
		}
		r.logger.Debug("calendar invite", "appointment_id", appt.ID, "status", status)
	}()
}

// startKnowledgeLookup answers a medical question out of band: progress
// notes keep the patient informed while retrieval runs, then the final
// answer arrives as separate messages.
func (r *Router) startKnowledgeLookup(p *patients.Patient, query string) string {
	if r.knowledge == nil {
		return replyHelp
	}

	phone := p.PhoneNumber
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			r.streamFillers(ctx, phone, stop)
		}()

		answer, err := r.knowledge.Ask(ctx, query)
		close(stop)
		<-done

		if err != nil {
			r.logger.Error("knowledge lookup failed", "patient_id", p.ID, "error", err)
			r.sendOrLog(ctx, phone, replyAnswerFailed)
			return
		}

		r.sendOrLog(ctx, phone, replyDrafting)
		r.sendOrLog(ctx, phone, answer)
	}()

	return ""
}

// streamFillers sends the first progress note immediately and then one
// per tick. The sequence runs at most once; a long lookup goes quiet
// after the last note rather than repeating itself.
func (r *Router) streamFillers(ctx context.Context, phone string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.fillerInterval)
	defer ticker.Stop()

	for i, status := range fillerStatuses {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		r.sendOrLog(ctx, phone, status)
		if i == len(fillerStatuses)-1 {
			return
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Router) sendOrLog(ctx context.Context, phone, body string) {
	if err := r.messenger.Send(ctx, phone, body); err != nil {
		r.logger.Warn("outbound send failed", "to", phone, "error", err)
	}
}
