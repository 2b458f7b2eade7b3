package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"tokencount/internal/domain"
)

const (
	anthropicAPIBase      = "https://api.anthropic.com"
	anthropicCountPath    = "/v1/messages/count_tokens"
	anthropicAPIVersion   = "2023-06-01"
	defaultRequestTimeout = 30 * time.Second

	// emptyTurn stands in for empty message content, which the endpoint rejects.
	emptyTurn = " "
)

// Option configures an AnthropicCounter.
type Option func(*AnthropicCounter)

// WithBaseURL overrides the API base URL (scheme and host, no path).
func WithBaseURL(u string) Option {
	return func(c *AnthropicCounter) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithVersion overrides the anthropic-version header.
func WithVersion(v string) Option {
	return func(c *AnthropicCounter) {
		if v != "" {
			c.version = v
		}
	}
}

// WithHTTPClient replaces the HTTP client. Nil is ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *AnthropicCounter) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithLogger sets a structured logger. Nil is ignored and slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *AnthropicCounter) {
		if l != nil {
			c.logger = l
		}
	}
}

// AnthropicCounter counts tokens with the Anthropic Messages count_tokens endpoint.
type AnthropicCounter struct {
	apiKey      string
	model       string
	client      *http.Client
	version     string
	baseURL     string
	logger      *slog.Logger
	marshalFunc func(v interface{}) ([]byte, error) // for testing
}

// NewAnthropicCounter returns a remote counter for the given provider model id.
// An empty apiKey is accepted; Count then fails with domain.ErrMissingCredential.
func NewAnthropicCounter(apiKey, model string, opts ...Option) *AnthropicCounter {
	c := &AnthropicCounter{
		apiKey:      apiKey,
		model:       model,
		client:      &http.Client{Timeout: defaultRequestTimeout},
		version:     anthropicAPIVersion,
		baseURL:     anthropicAPIBase,
		marshalFunc: json.Marshal,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type countRequest struct {
	Model    string         `json:"model"`
	System   string         `json:"system,omitempty"`
	Messages []countMessage `json:"messages"`
}

type countMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type countResponse struct {
	InputTokens *int `json:"input_tokens"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildRequest maps a payload onto the count_tokens request shape. System
// messages move to the system field and tool messages are sent as user turns.
// Empty content is replaced by emptyTurn.
func (c *AnthropicCounter) buildRequest(payload domain.Payload) countRequest {
	req := countRequest{Model: c.model}
	if !payload.IsMessages() {
		req.Messages = []countMessage{{Role: string(domain.RoleUser), Content: nonEmpty(payload.Text)}}
		return req
	}
	var system []string
	for _, m := range payload.Messages {
		switch m.Role {
		case domain.RoleSystem:
			if m.Content != "" {
				system = append(system, m.Content)
			}
		case domain.RoleTool:
			req.Messages = append(req.Messages, countMessage{Role: string(domain.RoleUser), Content: nonEmpty(m.Content)})
		default:
			req.Messages = append(req.Messages, countMessage{Role: string(m.Role), Content: nonEmpty(m.Content)})
		}
	}
	req.System = strings.Join(system, "\n\n")
	if len(req.Messages) == 0 {
		req.Messages = []countMessage{{Role: string(domain.RoleUser), Content: emptyTurn}}
	}
	return req
}

func nonEmpty(s string) string {
	if s == "" {
		return emptyTurn
	}
	return s
}

func (c *AnthropicCounter) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// Count implements domain.Counter. Remote counts are exact, never approximate.
func (c *AnthropicCounter) Count(ctx context.Context, payload domain.Payload) (int, bool, error) {
	if c.apiKey == "" {
		return 0, false, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", domain.ErrMissingCredential)
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if !payload.IsMessages() && payload.Text == "" {
		return 0, false, nil
	}
	raw, err := c.marshalFunc(c.buildRequest(payload))
	if err != nil {
		return 0, false, fmt.Errorf("anthropic marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+anthropicCountPath, bytes.NewReader(raw))
	if err != nil {
		return 0, false, fmt.Errorf("anthropic request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		if ctx.Err() == nil && errors.As(err, &netErr) && netErr.Timeout() {
			return 0, false, &TimeoutError{After: c.client.Timeout, Err: err}
		}
		return 0, false, fmt.Errorf("anthropic do: %w", err)
	}
	defer resp.Body.Close()
	c.log().Debug("anthropic count_tokens", "model", c.model, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return 0, false, apiError(resp)
	}
	var out countResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, false, fmt.Errorf("anthropic decode: %w", err)
	}
	if out.InputTokens == nil {
		return 0, false, fmt.Errorf("anthropic decode: response has no input_tokens")
	}
	return *out.InputTokens, false, nil
}

// APIError is a non-200 reply from the count endpoint.
type APIError struct {
	StatusCode int
	Status     string // e.g. "503 Service Unavailable"
	Type       string // provider error type, when the body carried one
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("anthropic api: %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("anthropic api: %s", e.Status)
}

// HTTPStatus exposes the status code to retry classification.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// TimeoutError is a single request that outlived the client timeout while
// the caller's context was still live.
type TimeoutError struct {
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("anthropic: request timed out after %s: %v", e.After, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout implements net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// Temporary implements net.Error.
func (e *TimeoutError) Temporary() bool { return true }

// Retryable marks the failure as transient for retry classification.
func (e *TimeoutError) Retryable() bool { return true }

// apiError reads at most 64 KiB of a failed response into an *APIError.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
	var parsed apiErrorResponse
	if json.Unmarshal(body, &parsed) == nil {
		e.Type = parsed.Error.Type
		e.Message = parsed.Error.Message
	}
	return e
}

var _ domain.Counter = (*AnthropicCounter)(nil)
