package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tokencount/internal/domain"
)

// =============================================================================
// RetryConfig Tests
// =============================================================================

func TestDefaultConfig_ShouldDisableRetries(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 0 {
		t.Errorf("want MaxRetries=0, got %d", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 500*time.Millisecond {
		t.Errorf("want InitialBackoff=500ms, got %v", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 5*time.Second {
		t.Errorf("want MaxBackoff=5s, got %v", cfg.MaxBackoff)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("want Multiplier=2.0, got %v", cfg.Multiplier)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid default config, got %v", err)
	}
}

func TestFromDomain_ShouldConvertMilliseconds(t *testing.T) {
	cfg := FromDomain(domain.RetryConfig{MaxRetries: 4, InitialBackoff: 250, MaxBackoff: 2000, Multiplier: 3})
	want := Config{MaxRetries: 4, InitialBackoff: 250 * time.Millisecond, MaxBackoff: 2 * time.Second, Multiplier: 3}
	if cfg != want {
		t.Errorf("want %+v, got %+v", want, cfg)
	}
}

func TestConfig_Validate_WhenFieldOutOfRange_ShouldReturnError(t *testing.T) {
	cases := map[string]func(*Config){
		"negative retries": func(c *Config) { c.MaxRetries = -1 },
		"zero initial":     func(c *Config) { c.InitialBackoff = 0 },
		"zero max":         func(c *Config) { c.MaxBackoff = 0 },
		"low multiplier":   func(c *Config) { c.Multiplier = 0.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// =============================================================================
// Error Classification Tests
// =============================================================================

func TestIsRetryable_ShouldClassifyErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", fmt.Errorf("anthropic api: 429 Too Many Requests"), true},
		{"500", fmt.Errorf("anthropic api: 500 Internal Server Error"), true},
		{"502", fmt.Errorf("anthropic api: 502 Bad Gateway"), true},
		{"503", fmt.Errorf("anthropic api: 503 Service Unavailable"), true},
		{"504", fmt.Errorf("anthropic api: 504 Gateway Timeout"), true},
		{"529", fmt.Errorf("anthropic api: 529 Overloaded"), true},
		{"400", fmt.Errorf("anthropic api: 400 Bad Request"), false},
		{"401", fmt.Errorf("anthropic api: 401 Unauthorized"), false},
		{"404", fmt.Errorf("anthropic api: 404 Not Found"), false},
		{"timeout", &net.OpError{Op: "dial", Net: "tcp", Err: &timeoutErr{}}, true},
		{"connection refused", fmt.Errorf("anthropic do: dial tcp: connect: connection refused"), true},
		{"eof", fmt.Errorf("anthropic do: %w", fmt.Errorf("unexpected EOF")), true},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("anthropic do: %w", context.DeadlineExceeded), false},
		{"missing credential", fmt.Errorf("%w: 503", domain.ErrMissingCredential), false},
		{"wrapped 503", fmt.Errorf("count: %w", fmt.Errorf("anthropic api: 503 Service Unavailable")), true},
		{"generic", errors.New("something went wrong"), false},
		{"port containing 503", errors.New("anthropic do: Post http://127.0.0.1:5003/v1: bad handshake"), false},
		{"port containing 429", errors.New("dial tcp 10.0.0.1:42900: no route to host"), false},
		{"id containing 500", errors.New("request req_5001 rejected"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

// =============================================================================
// RetryableCounter Tests
// =============================================================================

// mockCounter implements domain.Counter for tests.
type mockCounter struct {
	calls  int32
	counts []int
	errs   []error
	last   domain.Payload
}

func (m *mockCounter) Count(ctx context.Context, payload domain.Payload) (int, bool, error) {
	idx := int(atomic.AddInt32(&m.calls, 1)) - 1
	m.last = payload
	if idx < len(m.errs) && m.errs[idx] != nil {
		return 0, false, m.errs[idx]
	}
	if idx < len(m.counts) {
		return m.counts[idx], false, nil
	}
	return 1, false, nil
}

// timeoutErr implements net.Error with Timeout() = true.
type timeoutErr struct{}

func (t *timeoutErr) Error() string   { return "i/o timeout" }
func (t *timeoutErr) Timeout() bool   { return true }
func (t *timeoutErr) Temporary() bool { return true }

// noWait skips backoff delays in tests.
func noWait(ctx context.Context, d time.Duration) error { return ctx.Err() }

// enabledConfig is the default schedule with two retries turned on.
func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	return cfg
}

func newTestCounter(inner domain.Counter, cfg Config) *RetryableCounter {
	c := NewRetryableCounter(inner, cfg, nil)
	c.wait = noWait
	return c
}

func TestNewRetryableCounter_WhenInnerIsNil_ShouldPanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for nil inner counter")
		}
	}()
	NewRetryableCounter(nil, DefaultConfig(), nil)
}

func TestRetryableCounter_Count_WhenNoError_ShouldNotRetry(t *testing.T) {
	inner := &mockCounter{counts: []int{7}}
	n, _, err := newTestCounter(inner, enabledConfig()).Count(context.Background(), domain.PlainText("hi", "stdin"))
	if err != nil || n != 7 {
		t.Fatalf("want 7, nil; got %d, %v", n, err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
	if inner.last.Text != "hi" {
		t.Errorf("payload not passed through: %+v", inner.last)
	}
}

func TestRetryableCounter_Count_WhenRetryableErrorThenSuccess_ShouldRetryAndSucceed(t *testing.T) {
	inner := &mockCounter{
		errs:   []error{fmt.Errorf("anthropic api: 529 Overloaded"), nil},
		counts: []int{0, 12},
	}
	n, _, err := newTestCounter(inner, enabledConfig()).Count(context.Background(), domain.PlainText("hi", "stdin"))
	if err != nil || n != 12 {
		t.Fatalf("want 12, nil; got %d, %v", n, err)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 calls, got %d", inner.calls)
	}
}

func TestRetryableCounter_Count_WhenNonRetryableError_ShouldNotRetry(t *testing.T) {
	inner := &mockCounter{errs: []error{fmt.Errorf("anthropic api: 401 Unauthorized")}}
	_, _, err := newTestCounter(inner, enabledConfig()).Count(context.Background(), domain.PlainText("hi", "stdin"))
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
}

func TestRetryableCounter_Count_WhenMissingCredential_ShouldNotRetry(t *testing.T) {
	inner := &mockCounter{errs: []error{domain.ErrMissingCredential}}
	_, _, err := newTestCounter(inner, enabledConfig()).Count(context.Background(), domain.PlainText("hi", "stdin"))
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
}

func TestRetryableCounter_Count_WhenMaxRetriesExhausted_ShouldReturnLastError(t *testing.T) {
	serverErr := fmt.Errorf("anthropic api: 503 Service Unavailable")
	inner := &mockCounter{errs: []error{serverErr, serverErr, serverErr}}
	_, _, err := newTestCounter(inner, enabledConfig()).Count(context.Background(), domain.PlainText("hi", "stdin"))
	if !errors.Is(err, serverErr) {
		t.Fatalf("expected wrapped server error, got %v", err)
	}
	if !strings.Contains(err.Error(), "retries exhausted after 3 attempts") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryableCounter_Count_WhenMaxRetriesZero_ShouldNotRetry(t *testing.T) {
	inner := &mockCounter{errs: []error{fmt.Errorf("anthropic api: 500 Internal Server Error")}}
	cfg := enabledConfig()
	cfg.MaxRetries = 0
	if _, _, err := newTestCounter(inner, cfg).Count(context.Background(), domain.PlainText("hi", "stdin")); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
}

func TestRetryableCounter_Count_WhenContextCanceledDuringRetry_ShouldReturnContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	serverErr := fmt.Errorf("anthropic api: 503 Service Unavailable")
	inner := &mockCounter{errs: []error{serverErr, serverErr}}
	c := NewRetryableCounter(inner, enabledConfig(), nil)
	c.wait = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, _, err := c.Count(ctx, domain.PlainText("hi", "stdin"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
}

func TestRetryableCounter_Count_ShouldUseCappedExponentialBackoff(t *testing.T) {
	serverErr := fmt.Errorf("anthropic api: 500 Internal Server Error")
	inner := &mockCounter{errs: []error{serverErr, serverErr, serverErr, serverErr, serverErr}}
	cfg := Config{MaxRetries: 4, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, Multiplier: 2.0}
	c := NewRetryableCounter(inner, cfg, nil)

	var sleeps []time.Duration
	c.wait = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	_, _, _ = c.Count(context.Background(), domain.PlainText("hi", "stdin"))

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep[%d]: want %v, got %v", i, want[i], sleeps[i])
		}
	}
}

func TestConfig_Backoff_ShouldGrowAndCap(t *testing.T) {
	cfg := Config{InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 3}
	want := []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 450 * time.Millisecond, time.Second, time.Second}
	for n, w := range want {
		if got := cfg.Backoff(n); got != w {
			t.Errorf("Backoff(%d): want %v, got %v", n, w, got)
		}
	}
}

func TestWaitContext_WhenCanceled_ShouldReturnEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := waitContext(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("waitContext did not return promptly")
	}
	if err := waitContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("expected nil after the timer fired, got %v", err)
	}
}

// statusErr mimics a provider error that carries its HTTP status.
type statusErr struct{ code int }

func (e *statusErr) Error() string   { return "provider said no" }
func (e *statusErr) HTTPStatus() int { return e.code }

func TestIsRetryable_WhenErrorCarriesStatus_ShouldUseIt(t *testing.T) {
	if !IsRetryable(fmt.Errorf("count: %w", &statusErr{code: 529})) {
		t.Error("529 should be retryable")
	}
	if IsRetryable(&statusErr{code: 401}) {
		t.Error("401 should not be retryable")
	}
}

// transientTimeout is a client timeout that marks itself retryable while also
// wrapping context.DeadlineExceeded, as http.Client timeouts do.
type transientTimeout struct{}

func (transientTimeout) Error() string   { return "request timed out after 100ms" }
func (transientTimeout) Unwrap() error   { return context.DeadlineExceeded }
func (transientTimeout) Retryable() bool { return true }

func TestIsRetryable_WhenErrorMarksItselfRetryable_ShouldOverrideDeadline(t *testing.T) {
	err := fmt.Errorf("count: %w", transientTimeout{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("setup: expected the error to wrap DeadlineExceeded")
	}
	if !IsRetryable(err) {
		t.Error("a self-declared transient timeout should be retryable")
	}
}

func TestRetryableCounter_Count_WhenFirstAttemptTimesOut_ShouldRetry(t *testing.T) {
	inner := &mockCounter{errs: []error{transientTimeout{}}, counts: []int{0, 6}}
	n, _, err := newTestCounter(inner, enabledConfig()).Count(context.Background(), domain.PlainText("hi", "stdin"))
	if err != nil || n != 6 {
		t.Fatalf("want 6, nil; got %d, %v", n, err)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 calls, got %d", inner.calls)
	}
}
