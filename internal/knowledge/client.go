// Package knowledge answers medical questions through the clinic's
// hosted document-retrieval service.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ErrEmptyAnswer signals the service returned no usable text.
var ErrEmptyAnswer = errors.New("knowledge: empty answer")

// Options configures the retrieval client.
type Options struct {
	BaseURL    string
	Token      string
	OrgID      string
	Collection string
	Timeout    time.Duration
}

// Client queries the retrieval service. Long-running generation is
// expected, so the timeout is generous and the caller streams status
// updates to the patient while waiting.
type Client struct {
	httpClient *http.Client
	opts       Options
}

// NewClient builds a retrieval client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("knowledge: base URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 100 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
	}, nil
}

type askRequest struct {
	Query      string `json:"query"`
	OrgID      string `json:"org_id,omitempty"`
	Collection string `json:"collection_name,omitempty"`
}

type askResponse struct {
	Answer string `json:"answer"`
	Detail string `json:"detail"`
}

// Citation markers like [1] or 【4:2†source】 are stripped before the
// answer is shown; the patient can't follow them anywhere.
var (
	citationPattern = regexp.MustCompile(`【[^】]*】|\[\d+(:\d+)?\]`)
	doubleSpaces    = regexp.MustCompile(`[ \t]{2,}`)
)

// Ask sends the patient's question and returns the cleaned answer text.
func (c *Client) Ask(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(askRequest{
		Query:      query,
		OrgID:      c.opts.OrgID,
		Collection: c.opts.Collection,
	})
	if err != nil {
		return "", fmt.Errorf("knowledge: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.opts.BaseURL, "/")+"/ask", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("knowledge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("knowledge: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("knowledge: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("knowledge: service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed askResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("knowledge: decode response: %w", err)
	}

	answer := CleanAnswer(parsed.Answer)
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}

// CleanAnswer strips citation markers and squeezes leftover whitespace.
func CleanAnswer(answer string) string {
	cleaned := citationPattern.ReplaceAllString(answer, "")
	cleaned = doubleSpaces.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}
