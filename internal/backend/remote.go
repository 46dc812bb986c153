package backend

import (
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
	defaultRemoteBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout       = 60 * time.Second
	maxRetries           = 3
	initialBackoff       = 500 * time.Millisecond
)

// Compile-time check that RemoteClient implements Backend.
var _ Backend = (*RemoteClient)(nil)

// RemoteClient communicates with an OpenAI-compatible cloud API
// (OpenRouter by default). Rate-limited requests are retried with
// exponential backoff.
type RemoteClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewRemoteClient creates a remote backend with the given API key and
// default model.
func NewRemoteClient(apiKey, model string) *RemoteClient {
	return &RemoteClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultRemoteBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewRemoteClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewRemoteClientWithBaseURL(apiKey, model, baseURL string) *RemoteClient {
	c := NewRemoteClient(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *RemoteClient) Kind() Kind { return KindRemote }

// Configured reports whether the client has an API key set. An unconfigured
// remote backend is treated as unavailable by routing.
func (c *RemoteClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Healthy returns true if the API responds to GET /models with 200.
func (c *RemoteClient) Healthy(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// completionRequest is the JSON body for POST /chat/completions.
type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// completionResponse is the JSON returned by POST /chat/completions.
type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt as a single user message and returns the
// assistant's response. HTTP 429 responses are retried up to maxRetries
// times with exponential backoff.
func (c *RemoteClient) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("remote backend not configured (missing API key)")
	}

	model := p.Model
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		text, err := c.doComplete(ctx, body)
		if err == nil {
			return text, nil
		}

		if !isRateLimit(err) {
			return "", err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
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

func (c *RemoteClient) doComplete(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

func (c *RemoteClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/pkorolov/weir")
	req.Header.Set("X-Title", "weir")
}
