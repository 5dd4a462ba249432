// Package metrics exposes Prometheus counters for the assistant's
// message and booking pipeline. All methods are nil-safe so callers
// never have to guard instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline counters.
type Metrics struct {
	inboundMessages *prometheus.CounterVec
	intents         *prometheus.CounterVec
	bookings        prometheus.Counter
	slotConflicts   prometheus.Counter
	cancellations   prometheus.Counter
	outboundChunks  prometheus.Counter
}

// New registers the counters on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_inbound_messages_total",
			Help: "Inbound WhatsApp messages received on the webhook.",
		}, []string{"outcome"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_intents_total",
			Help: "Classified intents by label and source (model or fallback).",
		}, []string{"intent", "source"}),
		bookings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whatsapp_bookings_total",
			Help: "Appointments booked successfully.",
		}),
		slotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whatsapp_slot_conflicts_total",
			Help: "Booking attempts that lost a slot race or hit a taken slot.",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whatsapp_cancellations_total",
			Help: "Appointments cancelled.",
		}),
		outboundChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whatsapp_outbound_chunks_total",
			Help: "Outbound WhatsApp message chunks sent.",
		}),
	}
	reg.MustRegister(m.inboundMessages, m.intents, m.bookings, m.slotConflicts, m.cancellations, m.outboundChunks)
	return m
}

// IncInbound counts a webhook delivery by outcome ("ok" or "error").
func (m *Metrics) IncInbound(outcome string) {
	if m == nil {
		return
	}
	m.inboundMessages.WithLabelValues(outcome).Inc()
}

// IncIntent counts a classification result.
func (m *Metrics) IncIntent(intent, source string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(intent, source).Inc()
}

// IncBooking counts a confirmed booking.
func (m *Metrics) IncBooking() {
	if m == nil {
		return
	}
	m.bookings.Inc()
}

// IncSlotConflict counts a booking attempt that hit a taken slot.
func (m *Metrics) IncSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
}

// IncCancellation counts a cancelled appointment.
func (m *Metrics) IncCancellation() {
	if m == nil {
		return
	}
	m.cancellations.Inc()
}

// IncOutboundChunk counts one outbound message chunk.
func (m *Metrics) IncOutboundChunk() {
	if m == nil {
		return
	}
	m.outboundChunks.Inc()
}
