package patients

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Step is the patient's current position in the conversation state machine.
type Step string

const (
	StepStart          Step = "start"
	StepAwaitingName   Step = "awaiting_name"
	StepAwaitingAge    Step = "awaiting_age"
	StepAwaitingSex    Step = "awaiting_sex"
	StepAwaitingEmail  Step = "awaiting_email"
	StepCompleted      Step = "completed"
	StepAwaitingMonth  Step = "awaiting_month_selection"
	StepAwaitingDate   Step = "awaiting_date_selection"
	StepAwaitingTime   Step = "awaiting_time_selection"
	StepAwaitingCancel Step = "awaiting_cancellation_choice"
	StepAwaitingResch  Step = "awaiting_reschedule_choice"
)

var knownSteps = map[Step]struct{}{
	StepStart:          {},
	StepAwaitingName:   {},
	StepAwaitingAge:    {},
	StepAwaitingSex:    {},
	StepAwaitingEmail:  {},
	StepCompleted:      {},
	StepAwaitingMonth:  {},
	StepAwaitingDate:   {},
	StepAwaitingTime:   {},
	StepAwaitingCancel: {},
	StepAwaitingResch:  {},
}

// ErrUnknownStep marks a step value outside the fixed enumeration. An
// unrecognized step in the database is a bug, never a valid state.
var ErrUnknownStep = errors.New("patients: unknown onboarding step")

// ParseStep validates a raw step value against the enumeration.
func ParseStep(raw string) (Step, error) {
	s := Step(strings.TrimSpace(raw))
	if s == "" {
		return StepStart, nil
	}
	if _, ok := knownSteps[s]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStep, raw)
	}
	return s, nil
}

// IsAwaiting reports whether the step expects a direct reply to an
// earlier prompt, bypassing intent classification for parsing.
func (s Step) IsAwaiting() bool {
	return strings.HasPrefix(string(s), "awaiting_")
}

// Gender is the patient's self-reported sex.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// ParseGender accepts a case-insensitive match against the fixed options.
func ParseGender(raw string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "male":
		return GenderMale, true
	case "female":
		return GenderFemale, true
	case "other":
		return GenderOther, true
	default:
		return "", false
	}
}

// Patient is a clinic patient keyed by WhatsApp phone number.
type Patient struct {
	ID                  uuid.UUID
	PhoneNumber         string
	FullName            string
	Age                 int
	Gender              Gender
	Email               string
	Step                Step
	OnboardingCompleted bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// FirstName returns the leading token of the full name, for greetings.
func (p *Patient) FirstName() string {
	parts := strings.Fields(p.FullName)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidFullName requires at least two alphabetic tokens.
func ValidFullName(name string) bool {
	parts := strings.Fields(strings.TrimSpace(name))
	if len(parts) < 2 {
		return false
	}
	for _, part := range parts {
		for _, r := range part {
			if !unicode.IsLetter(r) {
				return false
			}
		}
	}
	return true
}

// ValidAge bounds age to [1,120].
func ValidAge(age int) bool {
	return age >= 1 && age <= 120
}

// ValidEmail checks for a local@domain.tld shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// DefaultName synthesizes a placeholder name from the phone suffix for
// patients created before onboarding collects their real name.
func DefaultName(phone string) string {
	digits := make([]rune, 0, len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	suffix := string(digits)
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "Patient " + suffix
}
