// Package reasoning provides the client for the external reasoning service.
package reasoning

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

// HardTimeoutCap bounds every reasoning call regardless of the requested
// timeout.
const HardTimeoutCap = 60 * time.Second

// Request carries the prompt and generation parameters for one call.
type Request struct {
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
	// Timeout is the requested per-call bound; values above HardTimeoutCap
	// are clamped.
	Timeout time.Duration
}

// Service is a synchronous text-generation call. Implementations handle
// timeout, non-success status, and transport errors uniformly as errors.
type Service interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

// Client is an OpenAI-compatible chat-completions client.
type Client struct {
	apiKey       string
	apiBase      string
	defaultModel string
	httpClient   *http.Client
}

// NewClient creates a reasoning client.
func NewClient(apiKey, apiBase, defaultModel string) *Client {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &Client{
		apiKey:       apiKey,
		apiBase:      strings.TrimSuffix(apiBase, "/"),
		defaultModel: defaultModel,
		httpClient: &http.Client{
			Timeout: HardTimeoutCap,
		},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends one completion request and returns the raw text.
func (c *Client) Generate(ctx context.Context, req *Request) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 || timeout > HardTimeoutCap {
		timeout = HardTimeoutCap
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	var messages []map[string]string
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reasoning service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("reasoning service returned no choices")
	}
	return apiResp.Choices[0].Message.Content, nil
}
