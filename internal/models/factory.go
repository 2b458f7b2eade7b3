package models

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tokencount/internal/domain"
	"tokencount/internal/llm"
	"tokencount/internal/retry"
	"tokencount/internal/tokenizer"
)

// newTikTokenFn loads a local encoding. Package-level var for test injection.
var newTikTokenFn = func(encoding string) (domain.Tokenizer, error) {
	return tokenizer.NewTikToken(encoding)
}

// Factory builds a domain.Counter for a model spec.
type Factory struct {
	cfg    domain.Config
	logger *slog.Logger
}

// NewFactory returns a factory using cfg for credentials, endpoint and retry
// settings. logger may be nil.
func NewFactory(cfg domain.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// Timeout returns the per-call timeout from the configuration.
func (f *Factory) Timeout() time.Duration {
	if f.cfg.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(f.cfg.TimeoutMs) * time.Millisecond
}

// NewCounter returns the counter for spec. Local counters load their encoding
// here, so a failure is reported against that model only.
func (f *Factory) NewCounter(spec domain.ModelSpec) (domain.Counter, error) {
	switch spec.Strategy {
	case domain.StrategyLocal:
		tok, err := newTikTokenFn(spec.Encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
		}
		return tokenizer.NewLocalCounter(tok), nil
	case domain.StrategyRemote:
		return f.newRemote(spec)
	default:
		return nil, fmt.Errorf("unknown tokenizer strategy %q", spec.Strategy)
	}
}

func (f *Factory) newRemote(spec domain.ModelSpec) (domain.Counter, error) {
	switch spec.Provider {
	case "anthropic":
		opts := []llm.Option{
			llm.WithBaseURL(f.cfg.Anthropic.BaseURL),
			llm.WithVersion(f.cfg.Anthropic.Version),
			llm.WithLogger(f.logger),
		}
		if t := f.Timeout(); t > 0 {
			opts = append(opts, llm.WithHTTPClient(&http.Client{Timeout: t}))
		}
		inner := llm.NewAnthropicCounter(f.cfg.Anthropic.APIKey, spec.ProviderModel, opts...)
		rc := retry.FromDomain(f.cfg.Retry)
		if rc.MaxRetries <= 0 || rc.Validate() != nil {
			return inner, nil
		}
		return retry.NewRetryableCounter(inner, rc, f.logger), nil
	default:
		return nil, fmt.Errorf("no remote counter for provider %q", spec.Provider)
	}
}
