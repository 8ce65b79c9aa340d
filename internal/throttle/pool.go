package throttle

import (
	"context"
	"sync"
)

// Pool runs at most size operations at once. Excess operations wait in FIFO
// order and the next one starts as soon as a running one returns.
type Pool struct {
	size int

	mu     sync.Mutex
	queue  []*task
	active int
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{size: size}
}

// Do queues fn and blocks until it has run, returning its error.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	t := newTask(ctx, fn)

	p.mu.Lock()
	p.queue = append(p.queue, t)
	p.mu.Unlock()

	p.dispatch()
	return t.wait()
}

// Active returns the number of operations currently running.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Queued returns the number of operations waiting for a free slot.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) dispatch() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.active < p.size && len(p.queue) > 0 {
		t := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.active++
		go p.run(t)
	}
}

func (p *Pool) run(t *task) {
	t.run()

	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	p.dispatch()
}
