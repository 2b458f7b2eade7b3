package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// Core Configuration
// =============================================================================

// Config is built once at startup and passed to every component that needs it.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" json:"anthropic"`
	Output    OutputConfig    `yaml:"output" json:"output"`
	Budget    BudgetConfig    `yaml:"budget" json:"budget"`
	Infra     InfraConfig     `yaml:"infra" json:"infra"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	TimeoutMs int             `yaml:"timeoutMs" json:"timeoutMs"` // per remote call
}

// AnthropicConfig holds the remote counting endpoint settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	BaseURL string `yaml:"baseUrl" json:"baseUrl"`
	Version string `yaml:"version" json:"version"`
}

type OutputConfig struct {
	NoColor bool `yaml:"noColor" json:"noColor"`
}

// BudgetConfig holds default budget options; CLI flags override them.
type BudgetConfig struct {
	ReservePct float64 `yaml:"reservePct" json:"reservePct"`
}

// RetryConfig controls retry behaviour for remote counting calls.
type RetryConfig struct {
	MaxRetries     int `yaml:"maxRetries" json:"maxRetries"`         // Maximum retry attempts (0 = no retries)
	InitialBackoff int `yaml:"initialBackoff" json:"initialBackoff"` // Initial backoff in milliseconds
	MaxBackoff     int `yaml:"maxBackoff" json:"maxBackoff"`         // Maximum backoff in milliseconds
	Multiplier     int `yaml:"multiplier" json:"multiplier"`         // Backoff multiplier (e.g. 2 for exponential doubling)
}

type InfraConfig struct {
	LogFormat string `yaml:"logFormat" json:"logFormat"` // "json" | "text"
	LogLevel  string `yaml:"logLevel" json:"logLevel"`
}

// =============================================================================
// Input Payload
// =============================================================================

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// ValidRoles lists every role accepted in a messages file.
var ValidRoles = []MessageRole{RoleSystem, RoleUser, RoleAssistant, RoleTool}

// Message is one chat turn. Content is always flattened to text.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// UnmarshalJSON accepts content as a string or as an array whose items are
// strings or objects with a "text" field. Array text is joined with a space.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    MessageRole     `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	text, err := flattenContent(raw.Content)
	if err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = text
	return nil
}

// flattenContent decodes content (string or array of parts) into plain text.
func flattenContent(content json.RawMessage) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s, nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(content, &parts); err != nil {
		return "", fmt.Errorf("content must be a string or an array: %w", err)
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		var ps string
		if err := json.Unmarshal(p, &ps); err == nil {
			texts = append(texts, ps)
			continue
		}
		var block struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(p, &block); err == nil && block.Text != nil {
			texts = append(texts, *block.Text)
		}
	}
	return strings.Join(texts, " "), nil
}

// Payload is the input of one run: either plain text or a message list.
// Text is set only for plain text and Messages only for message lists;
// IsMessages tells them apart.
type Payload struct {
	Text     string
	Messages []Message
	Source   string // "stdin" or a file path, for error reporting

	isMessages bool
}

// PlainText returns a text payload.
func PlainText(text, source string) Payload {
	return Payload{Text: text, Source: source}
}

// MessageList returns a message payload.
func MessageList(msgs []Message, source string) Payload {
	return Payload{Messages: msgs, Source: source, isMessages: true}
}

// IsMessages reports whether the payload came from a messages file.
func (p Payload) IsMessages() bool { return p.isMessages }

// =============================================================================
// Models & Results
// =============================================================================

// Strategy selects how a model's tokens are counted.
type Strategy string

const (
	StrategyLocal  Strategy = "local"
	StrategyRemote Strategy = "remote"
)

// ModelSpec describes one countable model.
type ModelSpec struct {
	ID            string   `json:"id"`
	Strategy      Strategy `json:"strategy"`
	Provider      string   `json:"provider"`
	Encoding      string   `json:"encoding,omitempty"`      // local only
	ProviderModel string   `json:"providerModel,omitempty"` // remote only
	ContextLimit  int      `json:"contextLimit"`
}

// CountResult is the outcome of counting one model. Tokens is meaningful only
// when Err is nil.
type CountResult struct {
	Model       string
	Tokens      int
	Approximate bool
	Err         error
}

// OK reports whether the count succeeded.
func (r CountResult) OK() bool { return r.Err == nil }

// Report holds one CountResult per requested model, in request order.
type Report []CountResult

// Succeeded returns the number of results without an error.
func (r Report) Succeeded() int {
	n := 0
	for _, res := range r {
		if res.OK() {
			n++
		}
	}
	return n
}
