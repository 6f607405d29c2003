// Package groutine starts goroutines tagged with a name, visible in pprof
// goroutine profiles and retrievable from the goroutine's context.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

const labelKey = "goroutine_name"

// Go runs fn on a new goroutine labelled name. The context passed to fn is
// derived from parentCtx (context.Background when nil) and carries the name.
//
//	groutine.Go(ctx, "session-scan", func(ctx context.Context) {
//	    _ = radio.Scan(ctx, false, handle)
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	go pprof.Do(parentCtx, pprof.Labels(labelKey, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name given to the goroutine that owns ctx, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
