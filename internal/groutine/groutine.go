// Package groutine starts goroutines carrying a pprof "goroutine_name" label,
// so workers show up by name in goroutine profiles and stack dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

// Go runs fn on a new goroutine labelled with name. The context passed to fn
// carries the label and can be queried with Name.
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	go pprof.Do(parentCtx, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name given to Go, or "" outside a named goroutine.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
