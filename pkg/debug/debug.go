// Package debug provides conditional debug logging for lazytree.
//
// Debug logging is enabled by setting the LAZYTREE_DEBUG environment variable:
//
//	LAZYTREE_DEBUG=1 lazytree ~/src
//
// When enabled, debug messages are written to stderr with timestamps.
// When disabled (default), all debug functions are no-ops.
//
// Usage:
//
//	debug.Log("load %s: %d children", id, n)
//	defer debug.LogEnterExit("deepLoad")()
package debug

import (
	"log"
	"os"
	"sync/atomic"
	"time"
)

var (
	enabled atomic.Bool
	logger  atomic.Pointer[log.Logger]
)

func init() {
	logger.Store(log.New(os.Stderr, "[LAZYTREE_DEBUG] ", log.Ltime|log.Lmicroseconds))
	if os.Getenv("LAZYTREE_DEBUG") != "" {
		enabled.Store(true)
	}
}

// Enabled returns whether debug logging is enabled.
func Enabled() bool {
	return enabled.Load()
}

// SetEnabled allows programmatic control of debug logging.
func SetEnabled(e bool) {
	enabled.Store(e)
}

// SetOutput redirects debug output, e.g. to a file while a TUI owns stderr.
func SetOutput(l *log.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// Log writes a debug message if debug logging is enabled.
// Uses printf-style formatting.
func Log(format string, args ...any) {
	if !enabled.Load() {
		return
	}
	logger.Load().Printf(format, args...)
}

// LogTiming writes a timing message if debug logging is enabled.
func LogTiming(name string, d time.Duration) {
	if !enabled.Load() {
		return
	}
	logger.Load().Printf("%s took %v", name, d)
}

// LogEnterExit logs function entry and exit with timing.
// Usage:
//
//	func myFunc() {
//	    defer debug.LogEnterExit("myFunc")()
//	    // ...
//	}
func LogEnterExit(name string) func() {
	if !enabled.Load() {
		return func() {}
	}
	l := logger.Load()
	l.Printf("-> %s", name)
	start := time.Now()
	return func() {
		l.Printf("<- %s (%v)", name, time.Since(start))
	}
}
