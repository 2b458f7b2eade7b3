package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tokencount/internal/domain"
)

// =============================================================================
// Config
// =============================================================================

// Config controls retry behaviour for remote counting calls.
type Config struct {
	MaxRetries     int           // retries after the first attempt; 0 disables retrying
	InitialBackoff time.Duration // wait before the first retry
	MaxBackoff     time.Duration // cap for any single wait
	Multiplier     float64       // growth factor between waits
}

// DefaultConfig returns the defaults used when no configuration is supplied.
// Retrying is off until MaxRetries is raised.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     0,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// FromDomain converts the millisecond-based file configuration.
func FromDomain(rc domain.RetryConfig) Config {
	return Config{
		MaxRetries:     rc.MaxRetries,
		InitialBackoff: time.Duration(rc.InitialBackoff) * time.Millisecond,
		MaxBackoff:     time.Duration(rc.MaxBackoff) * time.Millisecond,
		Multiplier:     float64(rc.Multiplier),
	}
}

// Validate checks that all Config fields are within acceptable ranges.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return errors.New("retry: MaxRetries must be >= 0")
	case c.InitialBackoff <= 0:
		return errors.New("retry: InitialBackoff must be > 0")
	case c.MaxBackoff <= 0:
		return errors.New("retry: MaxBackoff must be > 0")
	case c.Multiplier < 1.0:
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	return nil
}

// Backoff returns the wait before retry number n (0-based), capped at MaxBackoff.
func (c Config) Backoff(n int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 0; i < n; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxBackoff) {
			return c.MaxBackoff
		}
	}
	return min(time.Duration(d), c.MaxBackoff)
}

// =============================================================================
// Error Classification
// =============================================================================

// transientStatus holds the HTTP statuses worth another attempt. 529 is
// Anthropic's "overloaded".
var transientStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	529:                            true,
}

// statusCoder is implemented by provider errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// retryHinter is implemented by errors that know they are transient, such as
// a per-request client timeout that fired while the caller was still waiting.
type retryHinter interface {
	Retryable() bool
}

// IsRetryable reports whether err is a transient failure: a 429/5xx/529
// reply, a network timeout, a refused connection or a truncated response.
// Cancellation, deadlines and missing credentials are final unless the error
// itself says it is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var hint retryHinter
	if errors.As(err, &hint) {
		return hint.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrMissingCredential) {
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return transientStatus[sc.HTTPStatus()]
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	if hasStatusWord(msg) {
		return true
	}
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "EOF")
}

// hasStatusWord reports whether msg contains a transient status code as a
// word of its own, so ports or ids that merely contain the digits don't count.
func hasStatusWord(msg string) bool {
	for _, f := range strings.Fields(msg) {
		code, err := strconv.Atoi(strings.Trim(f, ":;,()[]"))
		if err == nil && transientStatus[code] {
			return true
		}
	}
	return false
}

// =============================================================================
// RetryableCounter (Decorator)
// =============================================================================

// RetryableCounter wraps a domain.Counter with retry-on-transient-error logic.
type RetryableCounter struct {
	inner  domain.Counter
	config Config
	wait   func(ctx context.Context, d time.Duration) error // injectable for testing
	logger *slog.Logger
}

// NewRetryableCounter returns a decorator that retries Count calls on transient errors.
// inner must not be nil. logger may be nil.
func NewRetryableCounter(inner domain.Counter, cfg Config, logger *slog.Logger) *RetryableCounter {
	if inner == nil {
		panic("retry: inner counter must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryableCounter{
		inner:  inner,
		config: cfg,
		wait:   waitContext,
		logger: logger,
	}
}

// waitContext blocks for d or until ctx is done.
func waitContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count calls the inner counter, retrying transient failures with capped
// exponential backoff. A non-transient error is returned as is; when every
// attempt fails the last error is wrapped with the attempt count.
func (p *RetryableCounter) Count(ctx context.Context, payload domain.Payload) (int, bool, error) {
	attempts := p.config.MaxRetries + 1
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			d := p.config.Backoff(i - 1)
			p.logger.Debug("retrying count", "attempt", i, "backoff", d, "err", err)
			if werr := p.wait(ctx, d); werr != nil {
				return 0, false, werr
			}
		}
		var n int
		var approx bool
		n, approx, err = p.inner.Count(ctx, payload)
		switch {
		case err == nil:
			return n, approx, nil
		case !IsRetryable(err):
			return 0, false, err
		}
	}
	return 0, false, fmt.Errorf("retries exhausted after %d attempts: %w", attempts, err)
}

var _ domain.Counter = (*RetryableCounter)(nil)
