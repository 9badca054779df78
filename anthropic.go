package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Anthropic Messages API client
// ─────────────────────────────────────────────────────────────────────────────

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultChatModel        = "claude-3-5-haiku-20241022"

	// maxReplyTokens bounds the upstream completion; the whole reply is
	// buffered before responding.
	maxReplyTokens = 1024
)

// anthropicClient is a minimal, non-streaming client for the Anthropic
// Messages API. One call per chat request, no retries.
type anthropicClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// newAnthropicClient constructs a client; an empty baseURL selects the
// production API endpoint.
func newAnthropicClient(baseURL, apiKey, model string) *anthropicClient {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	if model == "" {
		model = defaultChatModel
	}
	return &anthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

// configured reports whether an API credential is present.
func (c *anthropicClient) configured() bool {
	return c.apiKey != ""
}

// anthropicMessage is a single conversation turn on the wire.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicRequest is the Messages API request payload.
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

// anthropicResponse is the subset of the Messages API response we read.
type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// upstreamError marks a non-2xx answer from the API so the handler can map
// it to 502 while logging the upstream body without echoing it.
type upstreamError struct {
	status int
	body   string
}

// Error implements the error interface.
func (e *upstreamError) Error() string {
	return fmt.Sprintf("anthropic HTTP %d: %s", e.status, e.body)
}

// complete sends one Messages API request and returns the first text
// content block. Transport and parse failures are returned as plain
// errors, non-2xx statuses as *upstreamError.
func (c *anthropicClient) complete(ctx context.Context, system string, msgs []anthropicMessage) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: maxReplyTokens,
		System:    system,
		Messages:  msgs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &upstreamError{status: resp.StatusCode, body: string(raw)}
	}

	var ar anthropicResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return "", fmt.Errorf("chat JSON parse error: %w", err)
	}
	if ar.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s", ar.Error.Message)
	}
	for _, block := range ar.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}
