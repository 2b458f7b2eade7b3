// Package signals maps OS termination signals onto context cancellation.
package signals

import (
	"context"
	"os/signal"
)

// notifyContext is swapped in tests.
var notifyContext = signal.NotifyContext

// WithCancelOnSignal returns a context canceled when any CancelSignals
// signal arrives. Callers must call stop to release the signal handler.
func WithCancelOnSignal(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return notifyContext(parent, CancelSignals()...)
}
