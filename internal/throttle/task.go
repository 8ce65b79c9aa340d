// Package throttle bounds how fast and how many outbound operations run.
//
// RateLimiter caps operation starts per rolling second, Pool caps operations
// running at once. Both queue excess callers in FIFO order and isolate each
// caller's failure (including panics) from its siblings.
package throttle

import (
	"context"
	"fmt"
)

type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

func newTask(ctx context.Context, fn func(context.Context) error) *task {
	return &task{ctx: ctx, fn: fn, done: make(chan error, 1)}
}

// run executes the task unless its caller already gave up.
func (t *task) run() {
	if err := t.ctx.Err(); err != nil {
		t.done <- err
		return
	}
	t.done <- call(t.ctx, t.fn)
}

func (t *task) wait() error {
	select {
	case err := <-t.done:
		return err
	case <-t.ctx.Done():
		return t.ctx.Err()
	}
}

func call(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("throttle: operation panicked: %v", r)
		}
	}()
	return fn(ctx)
}
