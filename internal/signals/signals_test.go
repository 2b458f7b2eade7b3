package signals

import (
	"context"
	"os"
	"testing"
)

func TestCancelSignals_ShouldIncludeInterrupt(t *testing.T) {
	sigs := CancelSignals()
	if len(sigs) == 0 {
		t.Fatal("CancelSignals() should return at least one signal")
	}
	var found bool
	for _, s := range sigs {
		if s == os.Interrupt {
			found = true
			break
		}
	}
	if !found {
		t.Error("CancelSignals() should include os.Interrupt")
	}
}

func TestWithCancelOnSignal_ShouldRegisterCancelSignals(t *testing.T) {
	orig := notifyContext
	defer func() { notifyContext = orig }()
	var got []os.Signal
	notifyContext = func(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
		got = sigs
		return context.WithCancel(parent)
	}

	ctx, stop := WithCancelOnSignal(context.Background())
	if len(got) != len(CancelSignals()) {
		t.Errorf("want %d signals registered, got %d", len(CancelSignals()), len(got))
	}
	stop()
	if ctx.Err() == nil {
		t.Error("stop should cancel the context")
	}
}

func TestWithCancelOnSignal_WhenParentCanceled_ShouldCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := WithCancelOnSignal(parent)
	defer stop()
	cancel()
	<-ctx.Done()
	if ctx.Err() == nil {
		t.Error("expected canceled context")
	}
}
