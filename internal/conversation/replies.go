package conversation

import (
	"fmt"
	"strings"
)

// Patient-facing reply text. Kept in one place so the clinic can review
// the assistant's entire vocabulary at a glance.
const (
	replyAskName = "Welcome to %s! I'm the clinic's assistant. To get you registered, may I have your full name?"

	replyInvalidName = "That doesn't look like a full name. Please share your first and last name, for example \"Asha Patel\"."

	replyAskAge     = "Thank you, %s! How old are you?"
	replyInvalidAge = "Please enter your age as a number between 1 and 120."

	replyAskSex     = "Got it. What is your sex? Please reply Male, Female or Other."
	replyInvalidSex = "Please reply with Male, Female or Other."

	replyAskEmail     = "Almost done! What's your email address?"
	replyInvalidEmail = "That email doesn't look right. Please share a valid address like name@example.com."

	replyOnboarded = "You're all set, %s! You can ask me about hair and skin concerns, or say \"book an appointment\" whenever you're ready."

	replyGreetingOnboarded = "Hello %s! How can I help you today? You can ask a question about hair or skin, or book, reschedule and cancel appointments."

	replyDatePrompt    = "Great, %s it is. Which day of the month works for you? Reply with a number from 1 to 31."
	replyInvalidDate   = "Please reply with a day number from 1 to 31."
	replyTimePrompt    = "And what time would you like? The clinic is open from 10 AM to 10 PM. You can reply like \"4 pm\" or \"16:30\"."
	replyInvalidTime   = "I couldn't read that time. Please reply like \"4 pm\" or \"16:30\"."
	replyOutsideWindow = "The clinic takes appointments between 10 AM and 10 PM. Please pick a time inside those hours."
	replyPastTime      = "That time has already passed. Please pick a time in the future."
	replySlotTaken     = "I'm sorry, that slot was just taken. Could you pick a different time?"

	replyBookingConfirmed    = "Your appointment is confirmed for %s. We look forward to seeing you!"
	replyRescheduleConfirmed = "Your appointment has been moved to %s. We look forward to seeing you!"

	replyNoUpcoming = "You don't have any upcoming appointments."

	replyCancelled = "Your appointment on %s has been cancelled."

	replyCancelledNowRebook = "Your appointment on %s has been cancelled. Let's find you a new time."

	replyNoActiveSelection = "There's nothing to pick from right now. Say \"book an appointment\" to get started."

	replyHelp = "I can answer questions about hair and skin, or manage your appointments. Try asking a question, or say \"book an appointment\"."

	replyApology = "I'm sorry, something went wrong on our side. Please try again in a moment."

	replyDrafting = "Drafting the answer for you now..."

	replyAnswerFailed = "I'm sorry, I couldn't find an answer right now. Please try again later, or ask the clinic directly."
)

// Progress notes streamed while a medical question is being researched.
var fillerStatuses = []string{
	"Searching...",
	"Retrieving...",
	"Thinking...",
	"Analysing...",
}

func formatMonthPrompt(intro string, opts []MonthOption) string {
	var b strings.Builder
	if intro != "" {
		b.WriteString(intro)
		b.WriteString("\n")
	}
	b.WriteString("Which month would you like to book in?\n")
	for i, opt := range opts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt.Label())
	}
	b.WriteString("Reply with the option number.")
	return b.String()
}

func formatInvalidChoice(max int) string {
	return fmt.Sprintf("Please reply with a number between 1 and %d.", max)
}

func formatSlotSuggestions(lines []string) string {
	var b strings.Builder
	b.WriteString(replySlotTaken)
	b.WriteString(" These times are free:\n")
	for _, line := range lines {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	b.WriteString("Reply with a new time.")
	return b.String()
}

func formatAppointmentList(action string, lines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Which appointment would you like to %s?\n", action)
	for i, line := range lines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, line)
	}
	b.WriteString("Reply with the option number.")
	return b.String()
}
