package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const classifierSystemPrompt = `You classify WhatsApp messages sent to a hair and skin clinic's assistant.
Reply with ONLY a JSON object, no prose, of the form:
{"intent": "<label>", "entities": {"choice": <number or omit>, "time_text": "<string or omit>"}}

Labels:
- "greeting": hello/hi/namaste openers with no other request
- "request_booking": wants a new appointment
- "request_reschedule": wants to move an existing appointment
- "request_cancellation": wants to cancel an existing appointment
- "select_choice": picks a numbered option from a list shown earlier (set entities.choice)
- "provide_time": states a time of day like "4 pm" or "16:30" (set entities.time_text)
- "derm_query": asks about hair, skin, scalp, treatments, or other medical topics
- "unknown": none of the above`

// GeminiClassifier labels messages with Google's Gemini API.
type GeminiClassifier struct {
	client  *genai.Client
	modelID string
	timeout time.Duration
}

// NewGeminiClassifier creates a Gemini-backed classifier.
func NewGeminiClassifier(ctx context.Context, apiKey, modelID string, timeout time.Duration) (*GeminiClassifier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("intent: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-1.5-flash"
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("intent: failed to create gemini client: %w", err)
	}

	return &GeminiClassifier{client: client, modelID: modelID, timeout: timeout}, nil
}

// Classify asks the model for a label. The timeout is bounded so a slow
// model stalls classification, never the whole webhook.
func (c *GeminiClassifier) Classify(ctx context.Context, message string, conversationStep string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.client.GenerativeModel(c.modelID)
	model.SetTemperature(0.1)
	model.SystemInstruction = genai.NewUserContent(genai.Text(classifierSystemPrompt))

	prompt := message
	if conversationStep != "" {
		prompt = fmt.Sprintf("Conversation state: %s\nMessage: %s", conversationStep, message)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Result{}, fmt.Errorf("intent: gemini classification failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, errors.New("intent: gemini returned no candidates")
	}

	var raw strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			raw.WriteString(string(text))
		}
	}

	return parseModelOutput(raw.String())
}

// Close releases the underlying client.
func (c *GeminiClassifier) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// parseModelOutput extracts the JSON object from model text that may be
// wrapped in markdown fences or surrounded by chatter.
func parseModelOutput(raw string) (Result, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end < start {
		return Result{}, fmt.Errorf("intent: no JSON object in model output %q", raw)
	}
	cleaned = cleaned[start : end+1]

	var parsed struct {
		Intent   string   `json:"intent"`
		Entities Entities `json:"entities"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return Result{}, fmt.Errorf("intent: malformed model output: %w", err)
	}

	return Result{
		Intent:   ParseIntent(parsed.Intent),
		Entities: parsed.Entities,
		Source:   SourceModel,
	}, nil
}
