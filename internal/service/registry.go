package service

import "sync"

// registry tracks destinations with a delivery in progress on this instance.
type registry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newRegistry() *registry {
	return &registry{active: make(map[string]struct{})}
}

// acquire marks id active. It returns false when id already was.
func (r *registry) acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; ok {
		return false
	}
	r.active[id] = struct{}{}
	return true
}

func (r *registry) release(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}
