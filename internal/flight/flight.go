// Package flight coalesces concurrent calls that share a key.
package flight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group runs one call per key at a time and hands its result to every
// caller waiting on that key. The zero value is ready to use.
//
// The shared call runs on a context detached from the caller that started
// it, keeping its values but not its cancellation or deadline. A caller
// whose own context ends stops waiting and gets its context error; the
// call carries on for the callers still waiting.
type Group[T any] struct {
	g singleflight.Group
}

// Do runs fn for key, or joins the call already in flight. shared reports
// whether the result was handed to more than one caller.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := g.g.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return v, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	}
}
