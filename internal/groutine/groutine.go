// Package groutine starts goroutines carrying a pprof name label, so the event
// loop and the per-peripheral transport workers are identifiable in profiles
// and goroutine dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go runs fn on a new goroutine labelled name. A nil parent uses
// context.Background. The returned channel is closed when fn returns.
func Go(parent context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if parent == nil {
		parent = context.Background()
	}
	done := make(chan struct{})

	go pprof.Do(parent, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		defer close(done)
		fn(context.WithValue(ctx, nameKey, name))
	})
	return done
}

// Name returns the name given to Go, or "" outside a named goroutine.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(nameKey).(string)
	return s
}
