// Package mlserver is an HTTP client for the summarize/translate model
// server. It satisfies the pipeline condense and translate contracts.
package mlserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// Client talks to the external model server. Construct it once and share the
// pointer: the underlying http.Client pools connections.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ pipeline.Condenser = (*Client)(nil)
var _ pipeline.Translator = (*Client)(nil)

// NewClient creates a reusable model-server client.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Condense requests a summary of text within the given word range.
func (c *Client) Condense(ctx context.Context, text string, minWords, maxWords int) (string, error) {
	payload := map[string]any{
		"text":      text,
		"min_words": minWords,
		"max_words": maxWords,
	}

	var resp struct {
		Summary string `json:"summary"`
	}
	if err := c.post(ctx, "/summarize", payload, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// Translate requests a rendering of text from source to target language.
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	payload := map[string]any{
		"text":   text,
		"source": source,
		"target": target,
	}

	var resp struct {
		Translation string `json:"translation"`
	}
	if err := c.post(ctx, "/translate", payload, &resp); err != nil {
		return "", err
	}
	return resp.Translation, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
