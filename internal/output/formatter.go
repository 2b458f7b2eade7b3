// Package output renders a count report as a table or a JSON object.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"tokencount/internal/budget"
	"tokencount/internal/domain"
)

// Mode selects the rendering.
type Mode int

const (
	ModeTable Mode = iota
	ModeJSON
)

const (
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
	ansiReset  = "\033[0m"

	approximateNote = "approximate"
	missing         = "-"
)

var tableHeaders = []string{"model", "tokens", "context_limit", "pct_used", "remaining", "notes"}

// marshalJSON is swapped in tests to force encoding errors.
var marshalJSON = func(v *orderedmap.OrderedMap[string, any]) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Formatter renders reports. It performs no I/O.
type Formatter struct {
	Mode  Mode
	Color bool
}

// Render returns the report rendered in f.Mode. budgets may be nil; when
// present it must be index-aligned with report.
func (f Formatter) Render(report domain.Report, budgets []budget.Result) (string, error) {
	if budgets != nil && len(budgets) != len(report) {
		return "", fmt.Errorf("output render: %d budget results for %d counts", len(budgets), len(report))
	}
	if f.Mode == ModeJSON {
		return renderJSON(report)
	}
	return f.renderTable(report, budgets), nil
}

// renderJSON maps each model to its token count or error text. Keys follow
// report order.
func renderJSON(report domain.Report) (string, error) {
	obj := orderedmap.New[string, any](len(report))
	for _, res := range report {
		if res.OK() {
			obj.Set(res.Model, res.Tokens)
		} else {
			obj.Set(res.Model, ErrorText(res.Err))
		}
	}
	data, err := marshalJSON(obj)
	if err != nil {
		return "", fmt.Errorf("output json: %w", err)
	}
	return string(data) + "\n", nil
}

type row struct {
	cells []string
	color string // applied to the notes cell
}

func (f Formatter) renderTable(report domain.Report, budgets []budget.Result) string {
	if len(report) == 0 {
		return ""
	}
	rows := make([]row, len(report))
	for i, res := range report {
		var b *budget.Result
		if budgets != nil && res.OK() {
			b = &budgets[i]
		}
		rows[i] = buildRow(res, b)
	}

	widths := make([]int, len(tableHeaders))
	for i, h := range tableHeaders {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, c := range r.cells {
			widths[i] = max(widths[i], len(c))
		}
	}

	var sb strings.Builder
	writeLine(&sb, tableHeaders, widths, "", false)
	for _, r := range rows {
		writeLine(&sb, r.cells, widths, r.color, f.Color)
	}
	return sb.String()
}

func buildRow(res domain.CountResult, b *budget.Result) row {
	cells := []string{res.Model, missing, missing, missing, missing, ""}
	if !res.OK() {
		cells[5] = "error: " + ErrorText(res.Err)
		return row{cells: cells, color: ansiRed}
	}
	cells[1] = strconv.Itoa(res.Tokens)

	var notes []string
	var color string
	if b != nil {
		cells[2] = strconv.Itoa(b.ContextLimit)
		cells[3] = formatPct(b.PctUsed)
		cells[4] = strconv.Itoa(b.Remaining)
		if s := b.Status(); s != "" {
			notes = append(notes, s)
			color = ansiYellow
			if b.Exceeded() {
				color = ansiRed
			}
		}
	}
	if res.Approximate {
		notes = append(notes, approximateNote)
		if color == "" {
			color = ansiDim
		}
	}
	cells[5] = strings.Join(notes, "; ")
	return row{cells: cells, color: color}
}

func writeLine(sb *strings.Builder, cells []string, widths []int, color string, colored bool) {
	last := len(cells) - 1
	for i, c := range cells {
		if i > 0 {
			sb.WriteString("  ")
		}
		if i == last {
			// no trailing padding on the final column
			if colored && color != "" && c != "" {
				c = color + c + ansiReset
			}
			sb.WriteString(c)
			continue
		}
		sb.WriteString(c)
		sb.WriteString(strings.Repeat(" ", widths[i]-len(c)))
	}
	sb.WriteString("\n")
}

// formatPct renders a used fraction as a percentage, e.g. 0.1 -> "10%".
func formatPct(frac float64) string {
	return fmt.Sprintf("%.0f%%", frac*100)
}

// ErrorText returns the cause of a per-model failure without the model prefix
// CountingError adds.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var ce *domain.CountingError
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err.Error()
	}
	return err.Error()
}
