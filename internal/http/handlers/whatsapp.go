// Package handlers holds the HTTP surface: the Twilio WhatsApp webhook
// and operational endpoints.
package handlers

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mishraclinic/whatsapp-assistant/pkg/logging"
)

var whatsappTracer = otel.Tracer("assistant.internal.http.handlers.whatsapp")

// MessageRouter produces the reply for one inbound message. An empty
// reply means the response will arrive out of band.
type MessageRouter interface {
	Handle(ctx context.Context, from, body string) string
}

const webhookApology = "I'm sorry, something went wrong on our side. Please try again in a moment."

// WhatsAppHandler receives Twilio's inbound-message webhooks. It always
// answers 200 with TwiML: Twilio retries non-2xx responses, and a
// patient should get an apology rather than silence.
type WhatsAppHandler struct {
	router MessageRouter
	logger *logging.Logger
}

// NewWhatsAppHandler wires the webhook handler.
func NewWhatsAppHandler(router MessageRouter, logger *logging.Logger) *WhatsAppHandler {
	if router == nil {
		panic("handlers: message router cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WhatsAppHandler{router: router, logger: logger}
}

// Webhook handles POST /webhooks/whatsapp requests.
func (h *WhatsAppHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := whatsappTracer.Start(r.Context(), "handlers.whatsapp.webhook")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		h.logger.Error("failed to parse twilio form", "error", err)
		span.RecordError(err)
		writeTwiML(w, webhookApology)
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	span.SetAttributes(attribute.String("assistant.from", from))

	if from == "" {
		h.logger.Warn("webhook missing From field")
		writeTwiML(w, webhookApology)
		return
	}

	reply := h.router.Handle(ctx, from, body)
	writeTwiML(w, reply)
}

type twimlMessage struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// writeTwiML renders the reply as a TwiML response. An empty reply
// produces an empty <Response/>, which tells Twilio to send nothing.
func writeTwiML(w http.ResponseWriter, reply string) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(twimlMessage{Message: reply}); err != nil {
		// Encoding a string can't realistically fail; fall back to an
		// empty response rather than a broken one.
		buf.Reset()
		buf.WriteString(xml.Header)
		buf.WriteString("<Response></Response>")
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
