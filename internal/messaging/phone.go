package messaging

import "strings"

const whatsappPrefix = "whatsapp:"

func sanitizePhone(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := sanitizePhone(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// WhatsAppAddress formats a phone number as a Twilio WhatsApp address.
func WhatsAppAddress(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, whatsappPrefix) {
		return whatsappPrefix + NormalizeE164(strings.TrimPrefix(phone, whatsappPrefix))
	}
	return whatsappPrefix + NormalizeE164(phone)
}

// StripWhatsAppPrefix returns the bare E.164 number from an inbound
// Twilio WhatsApp address.
func StripWhatsAppPrefix(address string) string {
	return NormalizeE164(strings.TrimPrefix(strings.TrimSpace(address), whatsappPrefix))
}
