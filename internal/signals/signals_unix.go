//go:build unix

package signals

import (
	"os"
	"syscall"
)

// CancelSignals returns the signals that abort an in-flight run: Interrupt
// from the terminal and SIGTERM from process managers.
func CancelSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
