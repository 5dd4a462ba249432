// Package messaging delivers outbound WhatsApp messages through
// Twilio's REST API, chunking long bodies to fit channel limits.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/mishraclinic/whatsapp-assistant/internal/observability/metrics"
	"github.com/mishraclinic/whatsapp-assistant/pkg/logging"
)

// TextSender sends a single message body to one recipient.
type TextSender interface {
	SendText(ctx context.Context, to, body string) error
}

// Messenger splits long replies into ordered chunks and paces delivery
// so WhatsApp shows them in sequence.
type Messenger struct {
	sender  TextSender
	limit   int
	delay   time.Duration
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewMessenger wires the chunking messenger. metrics may be nil.
func NewMessenger(sender TextSender, limit int, delay time.Duration, logger *logging.Logger, m *metrics.Metrics) *Messenger {
	if sender == nil {
		panic("messaging: sender required")
	}
	if limit <= 0 {
		limit = 1500
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Messenger{sender: sender, limit: limit, delay: delay, logger: logger, metrics: m}
}

// Send delivers the body to the recipient, one chunk at a time in
// order. The first failed chunk aborts the rest so the patient never
// sees a reply with a hole in the middle.
func (m *Messenger) Send(ctx context.Context, to, body string) error {
	chunks := SplitMessage(body, m.limit)
	if len(chunks) == 0 {
		return nil
	}

	for i, chunk := range chunks {
		if i > 0 && m.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.delay):
			}
		}
		if err := m.sender.SendText(ctx, to, chunk); err != nil {
			return fmt.Errorf("messaging: chunk %d/%d failed: %w", i+1, len(chunks), err)
		}
		m.metrics.IncOutboundChunk()
	}

	if len(chunks) > 1 {
		m.logger.Debug("reply sent in chunks", "to", to, "chunks", len(chunks))
	}
	return nil
}
