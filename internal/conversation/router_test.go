package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mishraclinic/whatsapp-assistant/internal/appointments"
	"github.com/mishraclinic/whatsapp-assistant/internal/intent"
	"github.com/mishraclinic/whatsapp-assistant/internal/patients"
	"github.com/mishraclinic/whatsapp-assistant/internal/slots"
	"github.com/mishraclinic/whatsapp-assistant/pkg/logging"
)

type fakePatients struct {
	mu      sync.Mutex
	byPhone map[string]*patients.Patient
	err     error
}

func newFakePatients() *fakePatients {
	return &fakePatients{byPhone: make(map[string]*patients.Patient)}
}

func (f *fakePatients) FindOrCreateByPhone(ctx context.Context, phone string) (*patients.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.byPhone[phone]; ok {
		cp := *p
		return &cp, nil
	}
	p := &patients.Patient{
		ID:          uuid.New(),
		PhoneNumber: phone,
		FullName:    patients.DefaultName(phone),
		Step:        patients.StepStart,
	}
	f.byPhone[phone] = p
	cp := *p
	return &cp, nil
}

func (f *fakePatients) find(id uuid.UUID) *patients.Patient {
	for _, p := range f.byPhone {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (f *fakePatients) UpdateField(ctx context.Context, id uuid.UUID, field string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.find(id)
	if p == nil {
		return patients.ErrPatientNotFound
	}
	switch field {
	case patients.FieldFullName:
		p.FullName = value.(string)
	case patients.FieldAge:
		p.Age = value.(int)
	case patients.FieldGender:
		p.Gender = patients.Gender(value.(string))
	case patients.FieldEmail:
		p.Email = value.(string)
	default:
		return patients.ErrFieldNotAllowed
	}
	return nil
}

func (f *fakePatients) SetStep(ctx context.Context, id uuid.UUID, step patients.Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.find(id)
	if p == nil {
		return patients.ErrPatientNotFound
	}
	p.Step = step
	return nil
}

func (f *fakePatients) CompleteOnboarding(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.find(id)
	if p == nil {
		return patients.ErrPatientNotFound
	}
	p.OnboardingCompleted = true
	p.Step = patients.StepCompleted
	return nil
}

func (f *fakePatients) stepOf(phone string) patients.Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byPhone[phone].Step
}

type fakeBookings struct {
	mu         sync.Mutex
	bookErr    error
	booked     []time.Time
	upcoming   []*appointments.Appointment
	cancelled  []uuid.UUID
	free       []*slots.Slot
	nextApptID uuid.UUID
}

func (f *fakeBookings) Book(ctx context.Context, patientID uuid.UUID, start time.Time) (*appointments.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	f.booked = append(f.booked, start)
	id := f.nextApptID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &appointments.Appointment{ID: id, PatientID: patientID, StartTime: start, Status: appointments.StatusConfirmed}, nil
}

func (f *fakeBookings) Cancel(ctx context.Context, apptID uuid.UUID) (*appointments.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, apptID)
	for _, a := range f.upcoming {
		if a.ID == apptID {
			cp := *a
			cp.Status = appointments.StatusCancelled
			return &cp, nil
		}
	}
	return nil, appointments.ErrAppointmentNotFound
}

func (f *fakeBookings) Upcoming(ctx context.Context, patientID uuid.UUID) ([]*appointments.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upcoming, nil
}

func (f *fakeBookings) FreeSlots(ctx context.Context, from time.Time, limit int) ([]*slots.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit < len(f.free) {
		return f.free[:limit], nil
	}
	return f.free, nil
}

type fakeMessenger struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeMessenger) Send(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, body)
	return nil
}

func (f *fakeMessenger) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

type slowAnswerer struct {
	answer string
	err    error
	delay  time.Duration
}

func (s slowAnswerer) Ask(ctx context.Context, query string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.delay):
	}
	return s.answer, s.err
}

type routerFixture struct {
	router    *Router
	patients  *fakePatients
	bookings  *fakeBookings
	messenger *fakeMessenger
	contexts  *ContextStore
	sched     *Schedule
	now       time.Time
}

func newRouterFixture(t *testing.T, knowledge answerer) *routerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sched, err := NewSchedule("Asia/Kolkata", 10, 22, 30*time.Minute)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}

	logger := logging.New("error")
	f := &routerFixture{
		patients:  newFakePatients(),
		bookings:  &fakeBookings{},
		messenger: &fakeMessenger{},
		contexts:  NewContextStore(client, time.Hour),
		sched:     sched,
		now:       time.Date(2026, 9, 14, 12, 0, 0, 0, sched.Location),
	}
	f.router = NewRouter(RouterConfig{
		Patients:       f.patients,
		Bookings:       f.bookings,
		Classifier:     intent.NewClassifier(nil, logger, nil),
		Knowledge:      knowledge,
		Messenger:      f.messenger,
		Contexts:       f.contexts,
		Schedule:       sched,
		ClinicName:     "Dr. Sunil Mishra's Hair & Trichology Clinic",
		Logger:         logger,
		FillerInterval: 20 * time.Millisecond,
		Now:            func() time.Time { return f.now },
	})
	return f
}

const testPhone = "+1000000001"

func (f *routerFixture) onboard(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.router.Handle(ctx, testPhone, "hi")
	f.router.Handle(ctx, testPhone, "Asha Patel")
	f.router.Handle(ctx, testPhone, "30")
	f.router.Handle(ctx, testPhone, "female")
	f.router.Handle(ctx, testPhone, "asha@example.com")
	if f.patients.stepOf(testPhone) != patients.StepCompleted {
		t.Fatal("onboarding did not complete")
	}
}

func TestOnboardingWalk(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()

	reply := f.router.Handle(ctx, testPhone, "hi")
	if !strings.Contains(reply, "full name") {
		t.Fatalf("expected name prompt, got %q", reply)
	}
	if f.patients.stepOf(testPhone) != patients.StepAwaitingName {
		t.Fatalf("step = %s", f.patients.stepOf(testPhone))
	}

	if reply := f.router.Handle(ctx, testPhone, "Asha"); !strings.Contains(reply, "full name") {
		t.Fatalf("single-word name must be rejected, got %q", reply)
	}

	reply = f.router.Handle(ctx, testPhone, "Asha Patel")
	if !strings.Contains(reply, "Asha") || !strings.Contains(reply, "old") {
		t.Fatalf("expected age prompt with first name, got %q", reply)
	}

	if reply := f.router.Handle(ctx, testPhone, "200"); !strings.Contains(reply, "between 1 and 120") {
		t.Fatalf("out-of-range age must be rejected, got %q", reply)
	}

	reply = f.router.Handle(ctx, testPhone, "30")
	if !strings.Contains(reply, "Male, Female or Other") {
		t.Fatalf("expected sex prompt, got %q", reply)
	}

	if reply := f.router.Handle(ctx, testPhone, "yes"); !strings.Contains(reply, "Male, Female or Other") {
		t.Fatalf("invalid sex must be rejected, got %q", reply)
	}

	reply = f.router.Handle(ctx, testPhone, "female")
	if !strings.Contains(reply, "email") {
		t.Fatalf("expected email prompt, got %q", reply)
	}

	if reply := f.router.Handle(ctx, testPhone, "not-an-email"); !strings.Contains(reply, "valid address") {
		t.Fatalf("invalid email must be rejected, got %q", reply)
	}

	reply = f.router.Handle(ctx, testPhone, "asha@example.com")
	if !strings.Contains(reply, "all set") {
		t.Fatalf("expected completion message, got %q", reply)
	}
	if f.patients.stepOf(testPhone) != patients.StepCompleted {
		t.Fatalf("step = %s", f.patients.stepOf(testPhone))
	}
}

func TestBookingFlow(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.onboard(t)
	ctx := context.Background()

	reply := f.router.Handle(ctx, testPhone, "I want to book an appointment")
	if !strings.Contains(reply, "1. September 2026") || !strings.Contains(reply, "3. November 2026") {
		t.Fatalf("expected month options, got %q", reply)
	}

	if reply := f.router.Handle(ctx, testPhone, "99"); !strings.Contains(reply, "between 1 and 3") {
		t.Fatalf("out-of-range month choice must be rejected, got %q", reply)
	}

	reply = f.router.Handle(ctx, testPhone, "1")
	if !strings.Contains(reply, "September 2026") || !strings.Contains(reply, "1 to 31") {
		t.Fatalf("expected day prompt, got %q", reply)
	}

	if reply := f.router.Handle(ctx, testPhone, "0"); !strings.Contains(reply, "1 to 31") {
		t.Fatalf("day 0 must be rejected, got %q", reply)
	}

	reply = f.router.Handle(ctx, testPhone, "20")
	if !strings.Contains(reply, "10 AM to 10 PM") {
		t.Fatalf("expected time prompt, got %q", reply)
	}

	if reply := f.router.Handle(ctx, testPhone, "9 am"); reply != replyOutsideWindow {
		t.Fatalf("expected window rejection, got %q", reply)
	}
	if reply := f.router.Handle(ctx, testPhone, "soonish"); reply != replyInvalidTime {
		t.Fatalf("expected unparseable time rejection, got %q", reply)
	}

	reply = f.router.Handle(ctx, testPhone, "4 pm")
	if !strings.Contains(reply, "confirmed") {
		t.Fatalf("expected confirmation, got %q", reply)
	}

	if len(f.bookings.booked) != 1 {
		t.Fatalf("expected one booking, got %d", len(f.bookings.booked))
	}
	wantLocal := time.Date(2026, time.September, 20, 16, 0, 0, 0, f.sched.Location)
	if !f.bookings.booked[0].Equal(wantLocal) {
		t.Fatalf("booked %v, want %v", f.bookings.booked[0], wantLocal)
	}
	if f.bookings.booked[0].Location() != time.UTC {
		t.Fatal("slot start must be stored in UTC")
	}

	if f.patients.stepOf(testPhone) != patients.StepCompleted {
		t.Fatalf("step after booking = %s", f.patients.stepOf(testPhone))
	}
}

func TestBookingRejectsPastTime(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.onboard(t)
	ctx := context.Background()

	f.router.Handle(ctx, testPhone, "book an appointment")
	f.router.Handle(ctx, testPhone, "1")
	f.router.Handle(ctx, testPhone, "14") // today in the fixture clock

	if reply := f.router.Handle(ctx, testPhone, "11 am"); reply != replyPastTime {
		t.Fatalf("expected past-time rejection, got %q", reply)
	}
}

func TestBookingSlotConflictStaysOnTimeStep(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.onboard(t)
	ctx := context.Background()

	f.router.Handle(ctx, testPhone, "book an appointment")
	f.router.Handle(ctx, testPhone, "1")
	f.router.Handle(ctx, testPhone, "20")

	f.bookings.bookErr = slots.ErrSlotConflict
	if reply := f.router.Handle(ctx, testPhone, "4 pm"); reply != replySlotTaken {
		t.Fatalf("expected slot-taken reply, got %q", reply)
	}
	if f.patients.stepOf(testPhone) != patients.StepAwaitingTime {
		t.Fatalf("patient must stay on time step, got %s", f.patients.stepOf(testPhone))
	}

	// A different time succeeds without restarting the flow.
	f.bookings.bookErr = nil
	if reply := f.router.Handle(ctx, testPhone, "5 pm"); !strings.Contains(reply, "confirmed") {
		t.Fatalf("expected confirmation, got %q", reply)
	}
}

func TestSlotConflictSuggestsFreeTimes(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.onboard(t)
	ctx := context.Background()

	f.router.Handle(ctx, testPhone, "book an appointment")
	f.router.Handle(ctx, testPhone, "1")
	f.router.Handle(ctx, testPhone, "20")

	f.bookings.bookErr = slots.ErrSlotConflict
	f.bookings.free = []*slots.Slot{
		{ID: uuid.New(), StartTime: time.Date(2026, time.September, 20, 16, 30, 0, 0, time.UTC)},
		{ID: uuid.New(), StartTime: time.Date(2026, time.September, 20, 17, 0, 0, 0, time.UTC)},
	}

	reply := f.router.Handle(ctx, testPhone, "4 pm")
	if !strings.Contains(reply, "just taken") || !strings.Contains(reply, "These times are free") {
		t.Fatalf("expected conflict notice with suggestions, got %q", reply)
	}
	if !strings.Contains(reply, f.sched.FormatLocal(f.bookings.free[0].StartTime)) {
		t.Fatalf("expected first free time in clinic local time, got %q", reply)
	}
	if f.patients.stepOf(testPhone) != patients.StepAwaitingTime {
		t.Fatalf("patient must stay on time step, got %s", f.patients.stepOf(testPhone))
	}
}

func TestGreetingMidFlowResets(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.onboard(t)
	ctx := context.Background()

	f.router.Handle(ctx, testPhone, "book an appointment")
	f.router.Handle(ctx, testPhone, "1")
	if f.patients.stepOf(testPhone) != patients.StepAwaitingDate {
		t.Fatalf("setup failed, step = %s", f.patients.stepOf(testPhone))
	}

	reply := f.router.Handle(ctx, testPhone, "hello")
	if !strings.Contains(reply, "Asha") {
		t.Fatalf("expected personalized greeting, got %q", reply)
	}
	if f.patients.stepOf(testPhone) != patients.StepCompleted {
		t.Fatalf("greeting must reset the step, got %s", f.patients.stepOf(testPhone))
	}

	p, _ := f.patients.FindOrCreateByPhone(ctx, testPhone)
	if bc, _ := f.contexts.Get(ctx, p.ID); bc != nil {
		t.Fatal("greeting must clear the booking context")
	}
}

func TestCancellationFlow(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.onboard(t)
	ctx := context.Background()

	if reply := f.router.Handle(ctx, testPhone, "cancel my appointment"); reply != replyNoUpcoming {
		t.Fatalf("expected no-upcoming reply, got %q", reply)
	}

	apptA := &appointments.Appointment{ID: uuid.New(), StartTime: f.now.Add(24 * time.Hour).UTC(), Status: appointments.StatusConfirmed}
	apptB := &appointments.Appointment{ID: uuid.New(), StartTime: f.now.Add(48 * time.Hour).UTC(), Status: appointments.StatusConfirmed}
	f.bookings.upcoming = []*appointments.Appointment{apptA, apptB}

	reply := f.router.Handle(ctx, testPhone, "cancel my appointment")
	if !strings.Contains(reply, "1.") || !strings.Contains(reply, "2.") {
		t.Fatalf("expected numbered list, got %q", reply)
	}
	if f.patients.stepOf(testPhone) != patients.StepAwaitingCancel {
		t.Fatalf("step = %s", f.patients.stepOf(testPhone))
	}

	if reply := f.router.Handle(ctx, testPhone, "99"); !strings.Contains(reply, "between 1 and 2") {
		t.Fatalf("out-of-range choice must be rejected, got %q", reply)
	}

	reply = f.router.Handle(ctx, testPhone, "2")
	if !strings.Contains(reply, "cancelled") {
		t.Fatalf("expected cancellation confirmation, got %q", reply)
	}
	if len(f.bookings.cancelled) != 1 || f.bookings.cancelled[0] != apptB.ID {
		t.Fatalf("expected appointment B cancelled, got %v", f.bookings.cancelled)
	}
	if f.patients.stepOf(testPhone) != patients.StepCompleted {
		t.Fatalf("step after cancel = %s", f.patients.stepOf(testPhone))
	}
}

func TestRescheduleFlow(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.onboard(t)
	ctx := context.Background()

	appt := &appointments.Appointment{ID: uuid.New(), StartTime: f.now.Add(24 * time.Hour).UTC(), Status: appointments.StatusConfirmed}
	f.bookings.upcoming = []*appointments.Appointment{appt}

	reply := f.router.Handle(ctx, testPhone, "I need to reschedule my appointment")
	if !strings.Contains(reply, "reschedule") {
		t.Fatalf("expected reschedule list, got %q", reply)
	}
	if f.patients.stepOf(testPhone) != patients.StepAwaitingResch {
		t.Fatalf("step = %s", f.patients.stepOf(testPhone))
	}

	reply = f.router.Handle(ctx, testPhone, "1")
	if !strings.Contains(reply, "cancelled") || !strings.Contains(reply, "Which month") {
		t.Fatalf("expected cancel confirmation plus month prompt, got %q", reply)
	}
	if len(f.bookings.cancelled) != 1 || f.bookings.cancelled[0] != appt.ID {
		t.Fatalf("old appointment not cancelled: %v", f.bookings.cancelled)
	}

	// Finish the rebooking to confirm the reschedule wording.
	f.router.Handle(ctx, testPhone, "1")
	f.router.Handle(ctx, testPhone, "25")
	reply = f.router.Handle(ctx, testPhone, "4 pm")
	if !strings.Contains(reply, "moved to") {
		t.Fatalf("expected reschedule confirmation, got %q", reply)
	}
}

func TestMedicalQueryAnswersOutOfBand(t *testing.T) {
	f := newRouterFixture(t, slowAnswerer{answer: "Hair loss has many causes.", delay: 60 * time.Millisecond})
	f.onboard(t)
	ctx := context.Background()

	reply := f.router.Handle(ctx, testPhone, "why is my hair falling out")
	if reply != "" {
		t.Fatalf("medical queries answer out of band, got %q", reply)
	}

	deadline := time.Now().Add(2 * time.Second)
	var sends []string
	for time.Now().Before(deadline) {
		sends = f.messenger.all()
		if len(sends) > 0 && sends[len(sends)-1] == "Hair loss has many causes." {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(sends) < 3 {
		t.Fatalf("expected fillers, drafting note and answer, got %q", sends)
	}
	if sends[0] != "Searching..." {
		t.Fatalf("first status should be Searching..., got %q", sends[0])
	}
	if sends[len(sends)-2] != replyDrafting {
		t.Fatalf("expected drafting note before answer, got %q", sends)
	}
	if sends[len(sends)-1] != "Hair loss has many causes." {
		t.Fatalf("expected final answer, got %q", sends)
	}
}

func TestMedicalQueryFillerSequenceIsBounded(t *testing.T) {
	// The answer takes far longer than one pass through the progress
	// notes; the sequence must not wrap around.
	f := newRouterFixture(t, slowAnswerer{answer: "It depends on the cause.", delay: 300 * time.Millisecond})
	f.onboard(t)

	if reply := f.router.Handle(context.Background(), testPhone, "why is my hair thinning"); reply != "" {
		t.Fatalf("expected out-of-band handling, got %q", reply)
	}

	deadline := time.Now().Add(2 * time.Second)
	var sends []string
	for time.Now().Before(deadline) {
		sends = f.messenger.all()
		if len(sends) > 0 && sends[len(sends)-1] == "It depends on the cause." {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	var fillers int
	for _, s := range sends {
		for _, status := range fillerStatuses {
			if s == status {
				fillers++
			}
		}
	}
	if fillers != len(fillerStatuses) {
		t.Fatalf("expected exactly %d progress notes, got %d in %q", len(fillerStatuses), fillers, sends)
	}
	want := append(append([]string{}, fillerStatuses...), replyDrafting, "It depends on the cause.")
	if len(sends) != len(want) {
		t.Fatalf("expected %q, got %q", want, sends)
	}
	for i := range want {
		if sends[i] != want[i] {
			t.Fatalf("send %d = %q, want %q", i, sends[i], want[i])
		}
	}
}

func TestMedicalQueryFailureApologizes(t *testing.T) {
	f := newRouterFixture(t, slowAnswerer{err: fmt.Errorf("retrieval down"), delay: 10 * time.Millisecond})
	f.onboard(t)

	if reply := f.router.Handle(context.Background(), testPhone, "is minoxidil safe?"); reply != "" {
		t.Fatalf("expected out-of-band handling, got %q", reply)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sends := f.messenger.all()
		if len(sends) > 0 && sends[len(sends)-1] == replyAnswerFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected apology for failed lookup, got %q", f.messenger.all())
}

func TestStoreFailureYieldsApology(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.patients.err = fmt.Errorf("db down")

	if reply := f.router.Handle(context.Background(), testPhone, "hi"); reply != replyApology {
		t.Fatalf("expected apology, got %q", reply)
	}
}

func TestChoiceWithoutActiveFlow(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.onboard(t)

	if reply := f.router.Handle(context.Background(), testPhone, "2"); reply != replyNoActiveSelection {
		t.Fatalf("expected no-active-selection reply, got %q", reply)
	}
}
