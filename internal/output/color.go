package output

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// isTerminal is swapped in tests.
var isTerminal = func(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ColorEnabled reports whether table output to w should carry ANSI colors.
// noColor comes from configuration (NO_COLOR or output.noColor) and always wins.
func ColorEnabled(noColor bool, w io.Writer) bool {
	if noColor {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isTerminal(f.Fd())
}
