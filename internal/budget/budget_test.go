package budget

import (
	"errors"
	"testing"

	"tokencount/internal/domain"
)

var testModel = domain.ModelSpec{ID: "gpt-4o", Strategy: domain.StrategyLocal, ContextLimit: 1000}

func defaultOpts() Options { return Options{ReservePct: 0.2} }

func TestAnalyze_WhenDefaults_ShouldReservePercentage(t *testing.T) {
	r := Analyze(100, testModel, defaultOpts())
	want := Result{ContextLimit: 1000, EffectiveLimit: 1000, Reserve: 200, Remaining: 700, PctUsed: 0.10}
	if r != want {
		t.Errorf("want %+v, got %+v", want, r)
	}
	if r.Exceeded() || r.Status() != "" {
		t.Errorf("unexpected status %q", r.Status())
	}
}

func TestAnalyze_WhenAbsoluteReserve_ShouldIgnorePercentage(t *testing.T) {
	r := Analyze(100, testModel, Options{Reserve: 150, HasReserve: true, ReservePct: 0.2})
	if r.Reserve != 150 || r.Remaining != 750 {
		t.Errorf("want reserve 150 remaining 750, got %d/%d", r.Reserve, r.Remaining)
	}
}

func TestAnalyze_WhenMaxTokensBelowLimit_ShouldCapEffectiveLimit(t *testing.T) {
	opts := defaultOpts()
	opts.MaxTokens = 800
	r := Analyze(100, testModel, opts)
	if r.EffectiveLimit != 800 || r.Reserve != 160 || r.Remaining != 540 || r.PctUsed != 0.12 {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestAnalyze_WhenMaxTokensAboveLimit_ShouldKeepContextLimit(t *testing.T) {
	opts := defaultOpts()
	opts.MaxTokens = 1500
	if r := Analyze(100, testModel, opts); r.EffectiveLimit != 1000 {
		t.Errorf("want 1000, got %d", r.EffectiveLimit)
	}
}

func TestAnalyze_Thresholds(t *testing.T) {
	cases := []struct {
		name    string
		tokens  int
		opts    Options
		pct     float64
		warning string
		err     string
	}{
		{"below warning", 500, Options{}, 0.50, "", ""},
		{"exactly 80", 800, Options{}, 0.80, WarningNearLimit, ""},
		{"rounds up to 80", 799, Options{}, 0.80, WarningNearLimit, ""},
		{"just under warning", 794, Options{}, 0.79, "", ""},
		{"exactly 95", 950, Options{}, 0.95, "", ErrorExceeds},
		{"error overrides warning", 960, Options{}, 0.96, "", ErrorExceeds},
		{"negative remaining", 900, Options{Reserve: 200, HasReserve: true}, 0.90, "", ErrorExceeds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Analyze(tc.tokens, testModel, tc.opts)
			if r.PctUsed != tc.pct {
				t.Errorf("pct: want %v, got %v", tc.pct, r.PctUsed)
			}
			if r.Warning != tc.warning || r.Error != tc.err {
				t.Errorf("status: want %q/%q, got %q/%q", tc.warning, tc.err, r.Warning, r.Error)
			}
		})
	}
}

func TestAnalyze_ShouldRoundPercentHalfUp(t *testing.T) {
	cases := map[int]float64{333: 0.33, 334: 0.33, 335: 0.34, 336: 0.34, 1: 0.00, 5: 0.01}
	for tokens, want := range cases {
		if got := Analyze(tokens, testModel, Options{}).PctUsed; got != want {
			t.Errorf("%d tokens: want %v, got %v", tokens, want, got)
		}
	}
}

func TestAnalyze_WhenReservePctBoundaries_ShouldComputeReserve(t *testing.T) {
	if r := Analyze(10, testModel, Options{ReservePct: 0}); r.Reserve != 0 || r.Remaining != 990 {
		t.Errorf("zero pct: %+v", r)
	}
	r := Analyze(10, testModel, Options{ReservePct: 1})
	if r.Reserve != 1000 || r.Remaining != -10 || !r.Exceeded() {
		t.Errorf("full pct: %+v", r)
	}
}

func TestAnalyze_WhenZeroContextLimit_ShouldAvoidDivisionByZero(t *testing.T) {
	zero := domain.ModelSpec{ID: "z", ContextLimit: 0}
	if r := Analyze(0, zero, Options{}); r.PctUsed != 0 || r.Exceeded() {
		t.Errorf("zero tokens: %+v", r)
	}
	r := Analyze(5, zero, Options{})
	if r.PctUsed != overflowPct || !r.Exceeded() {
		t.Errorf("nonzero tokens: %+v", r)
	}
}

func TestAnalyze_WhenVeryLargeNumbers_ShouldNotOverflow(t *testing.T) {
	big := domain.ModelSpec{ID: "big", ContextLimit: 2_000_000_000}
	r := Analyze(1_000_000_000, big, Options{ReservePct: 0.1})
	if r.PctUsed != 0.5 || r.Reserve != 200_000_000 || r.Remaining != 800_000_000 {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestOptions_Validate(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"defaults", defaultOpts(), true},
		{"pct zero", Options{ReservePct: 0}, true},
		{"pct one", Options{ReservePct: 1}, true},
		{"pct negative", Options{ReservePct: -0.1}, false},
		{"pct above one", Options{ReservePct: 1.1}, false},
		{"negative reserve", Options{Reserve: -1, HasReserve: true}, false},
		{"negative max tokens", Options{MaxTokens: -5}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.opts.Validate(); (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestAnalyzeReport_ShouldSkipFailedResults(t *testing.T) {
	specs := []domain.ModelSpec{testModel, {ID: "claude-3-5-sonnet", ContextLimit: 200000}}
	report := domain.Report{
		{Model: "gpt-4o", Tokens: 960},
		{Model: "claude-3-5-sonnet", Err: errors.New("missing credential")},
	}
	results := AnalyzeReport(report, specs, Options{})
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	if !results[0].Exceeded() {
		t.Errorf("expected gpt-4o to exceed budget: %+v", results[0])
	}
	if results[1] != (Result{}) {
		t.Errorf("expected zero result for failed model, got %+v", results[1])
	}
	if !AnyExceeded(results) {
		t.Error("AnyExceeded should be true")
	}
	if AnyExceeded(results[1:]) {
		t.Error("AnyExceeded should be false without the exceeded result")
	}
}
