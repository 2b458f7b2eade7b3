// Package budget compares token counts against model context limits.
package budget

import (
	"errors"
	"math"

	"tokencount/internal/domain"
)

const (
	// WarnThreshold is the fraction of the effective limit that triggers a warning.
	WarnThreshold = 0.80
	// ErrorThreshold is the fraction of the effective limit that exceeds the budget.
	ErrorThreshold = 0.95

	// overflowPct is reported when the effective limit is zero but tokens are not.
	overflowPct = 999.99

	WarningNearLimit = "warning: near limit"
	ErrorExceeds     = "error: exceeds budget"
)

// Options are the user-supplied budget settings.
type Options struct {
	MaxTokens  int     // caps the context limit when > 0
	Reserve    int     // absolute reserve; used when HasReserve
	HasReserve bool
	ReservePct float64 // fraction of the effective limit, in [0, 1]
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.MaxTokens < 0 {
		return errors.New("--max-tokens must be positive")
	}
	if o.HasReserve && o.Reserve < 0 {
		return errors.New("--reserve must be non-negative")
	}
	if o.ReservePct < 0 || o.ReservePct > 1 {
		return errors.New("--reserve-pct must be in range [0.0, 1.0]")
	}
	return nil
}

// Result is the budget analysis of one successful count.
type Result struct {
	ContextLimit   int
	EffectiveLimit int
	Reserve        int
	Remaining      int
	PctUsed        float64 // fraction of the effective limit, two decimals
	Warning        string
	Error          string
}

// Exceeded reports whether the count is over budget.
func (r Result) Exceeded() bool { return r.Error != "" }

// Status returns the error or warning text, or "".
func (r Result) Status() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Warning
}

// Analyze computes the budget for tokens counted against spec.
func Analyze(tokens int, spec domain.ModelSpec, opts Options) Result {
	effective := spec.ContextLimit
	if opts.MaxTokens > 0 && opts.MaxTokens < effective {
		effective = opts.MaxTokens
	}
	reserve := opts.Reserve
	if !opts.HasReserve {
		reserve = int(float64(effective) * opts.ReservePct)
	}
	remaining := effective - reserve - tokens

	var pct float64
	switch {
	case effective == 0 && tokens == 0:
		pct = 0
	case effective == 0:
		pct = overflowPct
	default:
		pct = math.Round(float64(tokens)*100/float64(effective)) / 100
	}

	r := Result{
		ContextLimit:   spec.ContextLimit,
		EffectiveLimit: effective,
		Reserve:        reserve,
		Remaining:      remaining,
		PctUsed:        pct,
	}
	switch {
	case pct >= ErrorThreshold || remaining < 0:
		r.Error = ErrorExceeds
	case pct >= WarnThreshold:
		r.Warning = WarningNearLimit
	}
	return r
}

// AnalyzeReport runs Analyze for every successful result. The returned slice
// is index-aligned with report; failed results get a zero Result.
func AnalyzeReport(report domain.Report, specs []domain.ModelSpec, opts Options) []Result {
	byID := make(map[string]domain.ModelSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}
	out := make([]Result, len(report))
	for i, res := range report {
		spec, ok := byID[res.Model]
		if !res.OK() || !ok {
			continue
		}
		out[i] = Analyze(res.Tokens, spec, opts)
	}
	return out
}

// AnyExceeded reports whether any analysed result is over budget.
func AnyExceeded(results []Result) bool {
	for _, r := range results {
		if r.Exceeded() {
			return true
		}
	}
	return false
}
