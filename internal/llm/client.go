// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// ErrEmptyResponse is returned when a completion carries no choices.
var ErrEmptyResponse = errors.New("empty response from upstream")

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the chat completions payload.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

// Completion is a non-streaming result. Raw is the upstream body as
// received.
type Completion struct {
	Raw     json.RawMessage
	Model   string
	Content string
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Client calls the chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	backoff    func(attempt int) time.Duration

	Stats *LLMStats
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration, stats *LLMStats) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		backoff: Backoff,
		Stats:   stats,
	}
}

// Model returns the default model used when a request names none.
func (c *Client) Model() string {
	return c.model
}

// Complete sends a non-streaming request, retrying transient failures.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	req.Stream = false
	if req.Model == "" {
		req.Model = c.model
	}

	var lastErr error
	for attempt := range MaxRetries {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		start := time.Now()
		out, err := c.complete(ctx, req)
		c.record(start, err)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", MaxRetries, lastErr)
}

func (c *Client) complete(ctx context.Context, req Request) (*Completion, error) {
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := statusError(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var apiResp completionResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("upstream error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	model := apiResp.Model
	if model == "" {
		model = req.Model
	}
	return &Completion{
		Raw:     body,
		Model:   model,
		Content: apiResp.Choices[0].Message.Content,
	}, nil
}

// Stream sends a streaming request and calls fn with every content delta
// in order. Retries happen only while no delta has been delivered. An
// error returned by fn aborts the stream and is returned as is.
func (c *Client) Stream(ctx context.Context, req Request, fn func(delta string) error) error {
	req.Stream = true
	if req.Model == "" {
		req.Model = c.model
	}

	var lastErr error
	for attempt := range MaxRetries {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff(attempt-1)); err != nil {
				return err
			}
		}
		start := time.Now()
		delivered, err := c.stream(ctx, req, fn)
		c.record(start, err)
		if err == nil {
			return nil
		}
		lastErr = err
		if delivered || !IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", MaxRetries, lastErr)
}

func (c *Client) stream(ctx context.Context, req Request, fn func(string) error) (bool, error) {
	resp, err := c.post(ctx, req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return false, statusError(resp.StatusCode, body)
	}

	delivered := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return delivered, nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return delivered, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return delivered, fmt.Errorf("upstream error: %s: %s", chunk.Error.Type, chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			delivered = true
			if err := fn(choice.Delta.Content); err != nil {
				return delivered, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return delivered, fmt.Errorf("read stream: %w", err)
	}
	return delivered, nil
}

func (c *Client) post(ctx context.Context, req Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat api: %w", err)
	}
	return resp, nil
}

func (c *Client) record(start time.Time, err error) {
	if c.Stats == nil {
		return
	}
	if err != nil {
		c.Stats.RecordError()
		return
	}
	c.Stats.Record(time.Since(start).Milliseconds())
}

func statusError(code int, body []byte) error {
	if code == http.StatusTooManyRequests || code >= 500 {
		return &RetryableError{
			StatusCode: code,
			Message:    string(body),
		}
	}
	if code != http.StatusOK {
		return fmt.Errorf("chat api status %d: %s", code, truncate(string(body), 200))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
