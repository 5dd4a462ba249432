package conversation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Schedule captures the clinic's working hours in its local timezone.
// Slot starts are accepted when they fall inside [OpenHour, CloseHour).
type Schedule struct {
	Location   *time.Location
	OpenHour   int
	CloseHour  int
	SlotLength time.Duration
}

// NewSchedule loads the timezone and validates the window.
func NewSchedule(timezone string, openHour, closeHour int, slotLength time.Duration) (*Schedule, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("conversation: load timezone %q: %w", timezone, err)
	}
	if openHour < 0 || closeHour > 24 || openHour >= closeHour {
		return nil, fmt.Errorf("conversation: invalid clinic hours %d-%d", openHour, closeHour)
	}
	if slotLength <= 0 {
		slotLength = 30 * time.Minute
	}
	return &Schedule{Location: loc, OpenHour: openHour, CloseHour: closeHour, SlotLength: slotLength}, nil
}

// MonthOption is one bookable month offered to the patient.
type MonthOption struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// Label renders the option for display, e.g. "September 2026".
func (m MonthOption) Label() string {
	return fmt.Sprintf("%s %d", m.Month, m.Year)
}

// MonthOptions offers the months containing today, today+31d and
// today+62d. The fixed 31-day stride means a short month can make two
// offsets land in the same calendar month or hop over one; that quirk
// is accepted and the options are presented as computed.
func (s *Schedule) MonthOptions(now time.Time) []MonthOption {
	local := now.In(s.Location)
	opts := make([]MonthOption, 0, 3)
	for _, days := range []int{0, 31, 62} {
		t := local.AddDate(0, 0, days)
		opts = append(opts, MonthOption{Year: t.Year(), Month: t.Month()})
	}
	return opts
}

// At builds a local clinic time from the selected parts. Days beyond
// the month's length normalize forward per time.Date semantics.
func (s *Schedule) At(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, s.Location)
}

// WithinWindow reports whether a local start time falls inside clinic
// hours.
func (s *Schedule) WithinWindow(local time.Time) bool {
	h := local.In(s.Location).Hour()
	return h >= s.OpenHour && h < s.CloseHour
}

// FormatLocal renders a UTC instant in the clinic's timezone for
// patient-facing messages.
func (s *Schedule) FormatLocal(t time.Time) string {
	return t.In(s.Location).Format("Monday, 2 January 2006 at 3:04 PM")
}

var timeOfDayPattern = regexp.MustCompile(`(?i)^\s*(\d{1,2})(?:[:.](\d{2}))?\s*(am|pm)?\s*$`)

// ParseTimeOfDay reads expressions like "4 pm", "4:30pm", "16:30" or
// "16". Bare hours without a meridiem are taken as 24-hour clock.
func ParseTimeOfDay(text string) (hour, minute int, ok bool) {
	m := timeOfDayPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch {
	case m[3] == "":
	case hour < 1 || hour > 12:
		return 0, 0, false
	default:
		if strings.EqualFold(m[3], "pm") {
			if hour != 12 {
				hour += 12
			}
		} else if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
