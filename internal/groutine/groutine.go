// Package groutine starts goroutines carrying a pprof "goroutine_name" label so
// the scheduler loop, tick source, radio simulation and console loops can be
// told apart in profiles and stack dumps.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey struct{}

// Go starts fn in a goroutine named name. A nil parent means
// context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	labels := pprof.Labels("goroutine_name", name)
	go pprof.Do(parent, labels, func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name Go gave the goroutine owning ctx.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}

// Group is a set of named goroutines that can be awaited together.
type Group struct {
	wg sync.WaitGroup
}

// Go starts fn as a member of g.
func (g *Group) Go(parent context.Context, name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(parent, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Wait blocks until every member has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
