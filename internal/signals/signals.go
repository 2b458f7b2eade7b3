//go:build !unix

package signals

import "os"

// CancelSignals returns the signals that abort an in-flight run.
// Only Interrupt is available outside Unix.
func CancelSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
