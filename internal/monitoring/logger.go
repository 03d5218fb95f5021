// Package monitoring holds the process-wide diagnostic logger and the
// Prometheus collectors of the streaming path.
package monitoring

import (
	"log"
	"sync/atomic"
)

// LogFunc has the signature of log.Printf.
type LogFunc func(format string, v ...any)

var logger atomic.Pointer[LogFunc]

func init() {
	f := LogFunc(log.Printf)
	logger.Store(&f)
}

// Logf writes through the current logger. It is safe to call while another
// goroutine swaps the logger.
func Logf(format string, v ...any) {
	(*logger.Load())(format, v...)
}

// SetLogger installs f and returns the logger it replaced. A nil f mutes
// diagnostics.
func SetLogger(f LogFunc) LogFunc {
	if f == nil {
		f = func(string, ...any) {}
	}
	return *logger.Swap(&f)
}

// Prefixed returns a logger that tags every message with "[tag] ". The
// current logger is looked up on each call, so a later SetLogger applies.
func Prefixed(tag string) LogFunc {
	prefix := "[" + tag + "] "
	return func(format string, v ...any) {
		Logf(prefix+format, v...)
	}
}
