// Package counter runs every requested model counter against one payload and
// collects a result per model.
package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tokencount/internal/domain"
)

// CounterFactory builds the counter for one model.
type CounterFactory interface {
	NewCounter(spec domain.ModelSpec) (domain.Counter, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a structured logger. Nil is ignored and slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout bounds each model's count. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithConcurrency limits how many counters run at once. Values below 1 mean
// one counter at a time.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.concurrency = n
	}
}

// Orchestrator fans a payload out to model counters.
type Orchestrator struct {
	factory     CounterFactory
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

// New returns an orchestrator. factory must not be nil.
func New(factory CounterFactory, opts ...Option) *Orchestrator {
	if factory == nil {
		panic("counter: factory must not be nil")
	}
	o := &Orchestrator{factory: factory, concurrency: 4}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) log() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return slog.Default()
}

// Run counts payload for every spec and returns one result per spec, in spec
// order, regardless of completion order. A failing model never aborts the others.
func (o *Orchestrator) Run(ctx context.Context, payload domain.Payload, specs []domain.ModelSpec) domain.Report {
	report := make(domain.Report, len(specs))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			report[i] = o.countOne(ctx, payload, spec)
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// countOne never returns an error; failures are recorded on the result.
func (o *Orchestrator) countOne(ctx context.Context, payload domain.Payload, spec domain.ModelSpec) (res domain.CountResult) {
	res.Model = spec.ID
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = domain.CountResult{Model: spec.ID, Err: &domain.CountingError{Model: spec.ID, Err: fmt.Errorf("panic: %v", r)}}
		}
		if res.Err != nil {
			o.log().Warn("count failed", "model", spec.ID, "err", res.Err)
			return
		}
		o.log().Debug("counted", "model", spec.ID, "tokens", res.Tokens, "approximate", res.Approximate, "elapsed", time.Since(start))
	}()

	c, err := o.factory.NewCounter(spec)
	if err != nil {
		res.Err = &domain.CountingError{Model: spec.ID, Err: err}
		return res
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	n, approx, err := c.Count(ctx, payload)
	if err != nil {
		if o.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", o.timeout, err)
		}
		res.Err = &domain.CountingError{Model: spec.ID, Err: err}
		return res
	}
	res.Tokens = n
	res.Approximate = approx
	return res
}
