// Package safego launches fire-and-forget goroutines that survive panics.
// The registry uses it for background work that must never take the process
// down: API-key last-used stamps, audit shipper flushes, notifier ticks.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn in a new goroutine. A panic inside fn is recovered and logged
// with a stack trace instead of crashing the process.
func Go(fn func()) {
	Named("background", fn)
}

// Named is Go with a label attached to any recovered panic, so the log record
// identifies which background task blew up.
func Named(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine",
					"task", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
