// Package intent turns free-form patient messages into a small set of
// actionable labels plus extracted entities. Classification never
// returns an error to callers; when the model is unavailable a
// rule-based fallback answers instead.
package intent

import "strings"

// Intent labels a patient message.
type Intent string

const (
	IntentGreeting            Intent = "greeting"
	IntentRequestBooking      Intent = "request_booking"
	IntentRequestReschedule   Intent = "request_reschedule"
	IntentRequestCancellation Intent = "request_cancellation"
	IntentSelectChoice        Intent = "select_choice"
	IntentProvideTime         Intent = "provide_time"
	IntentDermQuery           Intent = "derm_query"
	IntentUnknown             Intent = "unknown"
)

var knownIntents = map[Intent]struct{}{
	IntentGreeting:            {},
	IntentRequestBooking:      {},
	IntentRequestReschedule:   {},
	IntentRequestCancellation: {},
	IntentSelectChoice:        {},
	IntentProvideTime:         {},
	IntentDermQuery:           {},
	IntentUnknown:             {},
}

// ParseIntent validates a raw label, mapping anything unrecognized to
// IntentUnknown rather than failing.
func ParseIntent(raw string) Intent {
	i := Intent(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownIntents[i]; !ok {
		return IntentUnknown
	}
	return i
}

// Entities carries values extracted alongside the label. Zero values
// mean "absent": Choice is 1-based, TimeText empty when no time was
// mentioned.
type Entities struct {
	// Choice is the 1-based option number the patient picked.
	Choice int `json:"choice,omitempty"`
	// TimeText is the raw time expression, e.g. "4 pm" or "16:30".
	TimeText string `json:"time_text,omitempty"`
}

// Result is the classification outcome.
type Result struct {
	Intent   Intent   `json:"intent"`
	Entities Entities `json:"entities"`
	// Source records whether the model or the fallback produced this.
	Source string `json:"-"`
}

const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)
