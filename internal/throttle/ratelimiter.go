package throttle

import (
	"context"
	"sync"
	"time"
)

// RateLimiter lets at most perSecond operations begin within any rolling
// one-second window. Operations start in submission order, in batches: a batch
// runs to completion before the next one is taken, and when the window is
// exhausted the next batch waits for it to roll over.
type RateLimiter struct {
	limit int
	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	queue   []*task
	running bool
	starts  []time.Time
}

func NewRateLimiter(perSecond int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &RateLimiter{
		limit: perSecond,
		now:   time.Now,
		after: time.After,
	}
}

// Do queues fn and blocks until it has run, returning its error. If ctx ends
// first, Do returns ctx.Err() and fn is never started.
func (l *RateLimiter) Do(ctx context.Context, fn func(context.Context) error) error {
	t := newTask(ctx, fn)

	l.mu.Lock()
	l.queue = append(l.queue, t)
	start := !l.running
	l.running = true
	l.mu.Unlock()

	if start {
		go l.drain()
	}
	return t.wait()
}

// Queued returns the number of operations waiting to start.
func (l *RateLimiter) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *RateLimiter) drain() {
	for {
		batch, wait, ok := l.next()
		if !ok {
			return
		}
		if wait > 0 {
			<-l.after(wait)
			continue
		}

		var wg sync.WaitGroup
		for _, t := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				t.run()
			}()
		}
		wg.Wait()
	}
}

// next takes as many queued tasks as the window allows. When the window is
// full it returns how long to wait instead. ok is false once the queue is
// empty, at which point the drain loop exits.
func (l *RateLimiter) next() (batch []*task, wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	for len(l.queue) > 0 && len(l.starts) < l.limit {
		t := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		if err := t.ctx.Err(); err != nil {
			t.done <- err
			continue
		}
		batch = append(batch, t)
		l.starts = append(l.starts, now)
	}

	if len(batch) > 0 {
		return batch, 0, true
	}
	if len(l.queue) == 0 {
		l.running = false
		l.queue = nil
		return nil, 0, false
	}
	return nil, l.starts[0].Add(time.Second).Sub(now), true
}

// prune keeps only starts inside (now-1s, now]. Starts later than now are
// left over from a clock reset and are dropped with the rest.
func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Second)
	kept := l.starts[:0]
	for _, s := range l.starts {
		if s.After(cutoff) && !s.After(now) {
			kept = append(kept, s)
		}
	}
	l.starts = kept
}
