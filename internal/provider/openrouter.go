package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	requestTimeout    = 60 * time.Second
	streamingTimeout  = 300 * time.Second
	maxChatRetries    = 3
	initialBackoff    = 500 * time.Millisecond
)

// OpenRouter communicates with the OpenRouter chat completions API.
type OpenRouter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
}

// NewOpenRouter creates an OpenRouter client with the given API key.
func NewOpenRouter(apiKey string) *OpenRouter {
	return &OpenRouter{
		apiKey:  apiKey,
		baseURL: openRouterBaseURL,
		httpClient: &http.Client{
			Timeout: 0, // per-request timeouts via context
		},
		referer: "https://github.com/teleprompt/autocue",
		title:   "autocue",
	}
}

// NewOpenRouterWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewOpenRouterWithBaseURL(apiKey, baseURL string) *OpenRouter {
	c := NewOpenRouter(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *OpenRouter) Name() string { return "openrouter" }

// chatMessage is one message in the OpenAI-style wire format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completionRequest is the JSON body for POST /chat/completions.
type completionRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"-"`
}

// MarshalJSON merges Options into the top-level request object so callers can
// pass provider parameters (temperature, max_tokens) without this package
// enumerating them.
func (r completionRequest) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"model":    r.Model,
		"messages": r.Messages,
		"stream":   r.Stream,
	}
	for k, v := range r.Options {
		m[k] = v
	}
	return json.Marshal(m)
}

// streamChunk is one SSE data payload from a streaming completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamGenerate streams completion output over SSE, invoking onChunk for
// each piece of delta content. HTTP 429 responses are retried with
// exponential backoff before the stream starts.
func (c *OpenRouter) StreamGenerate(ctx context.Context, genReq GenerationRequest, onChunk func(string) error) error {
	body, err := json.Marshal(completionRequest{
		Model:    genReq.Model,
		Messages: []chatMessage{{Role: "user", Content: genReq.Prompt}},
		Stream:   true,
		Options:  genReq.Options,
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	rc, err := c.openStream(ctx, body)
	if err != nil {
		return err
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue // comment/keepalive payloads are not JSON chunks
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if err := onChunk(choice.Delta.Content); err != nil {
					return err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// openStream opens the SSE response body, retrying rate-limited requests.
func (c *OpenRouter) openStream(ctx context.Context, body []byte) (io.ReadCloser, error) {
	var lastErr error
	for attempt := range maxChatRetries {
		rc, err := c.doChat(ctx, body, streamingTimeout)
		if err == nil {
			return rc, nil
		}

		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxChatRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("rate limited after %d retries: %w", maxChatRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

func (c *OpenRouter) doChat(ctx context.Context, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		cancel()
		return nil, &rateLimitError{status: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	// Wrap the body so the timeout context cancel is called when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// Model is one entry in OpenRouter's model catalog.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type modelList struct {
	Data []Model `json:"data"`
}

// ListModels returns the list of available models from OpenRouter.
func (c *OpenRouter) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}

	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *OpenRouter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
