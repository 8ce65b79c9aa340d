// Package coalesce shares one in-flight computation among concurrent callers
// asking for the same key.
package coalesce

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Cache holds in-flight resolutions only. An entry disappears the moment its
// producer returns, so a later caller always starts a fresh resolution and a
// failure is never served twice.
type Cache[T any] struct {
	group singleflight.Group
}

func New[T any]() *Cache[T] {
	return &Cache[T]{}
}

// Resolve returns the result of fn for key. If a resolution for key is already
// running, the caller waits for it instead of invoking fn. The producer runs
// detached from the first caller's cancellation since other callers may be
// waiting on it; a caller whose ctx ends stops waiting and gets ctx.Err().
func (c *Cache[T]) Resolve(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	ch := c.group.DoChan(key, func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("coalesce: producer for %q panicked: %v", key, r)
			}
		}()
		return fn(context.WithoutCancel(ctx))
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
