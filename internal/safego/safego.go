// Package safego provides a panic-recovering goroutine launcher for detached work.
package safego

import (
	"log/slog"
	"sync"
)

// Go launches fn in a new goroutine. A panic in fn is recovered and logged with
// the task name instead of crashing the process.
func Go(name string, fn func()) {
	go run(name, fn)
}

// Tracked is like Go but registers the goroutine on wg so callers can wait for
// detached work during shutdown.
func Tracked(wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		run(name, fn)
	}()
}

func run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine", "task", name, "panic", r)
		}
	}()
	fn()
}
