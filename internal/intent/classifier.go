package intent

import (
	"context"

	"github.com/mishraclinic/whatsapp-assistant/internal/observability/metrics"
	"github.com/mishraclinic/whatsapp-assistant/pkg/logging"
)

// ModelClassifier is the slice of the Gemini client the dispatcher uses.
type ModelClassifier interface {
	Classify(ctx context.Context, message string, conversationStep string) (Result, error)
}

// Classifier labels messages and never fails: model errors degrade to
// the rule-based fallback, so the conversation always gets an answer.
type Classifier struct {
	model    ModelClassifier
	fallback FallbackClassifier
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewClassifier wires the dispatcher. model may be nil to run on rules
// alone; metrics may be nil.
func NewClassifier(model ModelClassifier, logger *logging.Logger, m *metrics.Metrics) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{model: model, logger: logger, metrics: m}
}

// Classify returns a Result, falling back on any model failure.
func (c *Classifier) Classify(ctx context.Context, message, conversationStep string) Result {
	if c.model != nil {
		res, err := c.model.Classify(ctx, message, conversationStep)
		if err == nil {
			c.metrics.IncIntent(string(res.Intent), res.Source)
			return res
		}
		c.logger.Warn("model classification failed, using fallback", "error", err)
	}

	res := c.fallback.Classify(message, conversationStep)
	c.metrics.IncIntent(string(res.Intent), res.Source)
	return res
}
