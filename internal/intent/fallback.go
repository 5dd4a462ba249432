package intent

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	greetingWords = map[string]struct{}{
		"hi": {}, "hello": {}, "hey": {}, "namaste": {}, "hola": {},
		"good morning": {}, "good afternoon": {}, "good evening": {},
	}
	cancelPattern   = regexp.MustCompile(`\bcancel`)
	reschedPattern  = regexp.MustCompile(`\b(reschedul|postpone|move|change)\w*\b.*\b(appointment|booking|slot)\b|\breschedul`)
	bookPattern     = regexp.MustCompile(`\b(book|appointment|schedule|slot|visit|consult)`)
	timePattern     = regexp.MustCompile(`\b\d{1,2}([:.]\d{2})?\s*(am|pm)\b|\b\d{1,2}:\d{2}\b`)
	medicalKeywords = []string{
		"hair", "scalp", "skin", "dandruff", "acne", "itch", "rash",
		"treatment", "transplant", "prp", "minoxidil", "alopecia",
		"baldness", "pigment", "eczema", "psoriasis",
	}
)

// FallbackClassifier labels messages with fixed rules when the model is
// unreachable. It is deliberately conservative: it reads numbers and
// times in context and otherwise routes plausible medical text to the
// knowledge path.
type FallbackClassifier struct{}

// Classify applies the rules. The step string biases interpretation of
// bare numbers and times the same way the model prompt does.
func (FallbackClassifier) Classify(message, conversationStep string) Result {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return Result{Intent: IntentUnknown, Source: SourceFallback}
	}

	if _, ok := greetingWords[strings.Trim(text, "!. ")]; ok {
		return Result{Intent: IntentGreeting, Source: SourceFallback}
	}

	if n, err := strconv.Atoi(strings.TrimSuffix(text, ".")); err == nil {
		// A bare number is an option pick while a list is on screen.
		// Outside a selection step it is still most plausibly a choice.
		if n > 0 {
			return Result{Intent: IntentSelectChoice, Entities: Entities{Choice: n}, Source: SourceFallback}
		}
		return Result{Intent: IntentUnknown, Source: SourceFallback}
	}

	if m := timePattern.FindString(text); m != "" && (strings.Contains(conversationStep, "time") || len(strings.Fields(text)) <= 3) {
		return Result{Intent: IntentProvideTime, Entities: Entities{TimeText: m}, Source: SourceFallback}
	}

	if cancelPattern.MatchString(text) {
		return Result{Intent: IntentRequestCancellation, Source: SourceFallback}
	}
	if reschedPattern.MatchString(text) {
		return Result{Intent: IntentRequestReschedule, Source: SourceFallback}
	}
	if bookPattern.MatchString(text) {
		return Result{Intent: IntentRequestBooking, Source: SourceFallback}
	}

	for _, kw := range medicalKeywords {
		if strings.Contains(text, kw) {
			return Result{Intent: IntentDermQuery, Source: SourceFallback}
		}
	}
	if strings.HasSuffix(text, "?") {
		return Result{Intent: IntentDermQuery, Source: SourceFallback}
	}

	return Result{Intent: IntentUnknown, Source: SourceFallback}
}
