package capture

import (
	"context"
	"sort"
	"sync"

	"github.com/smartdevs17/errtrail/pkg/utils"
)

// Registry owns named boundaries. Its reloader replaces an exhausted
// boundary with a fresh one, so the next Get starts from a clean state.
type Registry struct {
	mu         sync.RWMutex
	reporter   Reporter
	opts       []BoundaryOption
	boundaries map[string]*Boundary
	reloads    map[string]int
}

// NewRegistry creates an empty registry; opts apply to every boundary it creates
func NewRegistry(reporter Reporter, opts ...BoundaryOption) *Registry {
	return &Registry{
		reporter:   reporter,
		opts:       opts,
		boundaries: make(map[string]*Boundary),
		reloads:    make(map[string]int),
	}
}

// Get returns the boundary for name, creating it on first use
func (r *Registry) Get(name string) *Boundary {
	r.mu.RLock()
	b, ok := r.boundaries[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.boundaries[name]; ok {
		return b
	}
	b = r.newBoundary(name)
	r.boundaries[name] = b
	return b
}

// Lookup returns the boundary for name without creating it
func (r *Registry) Lookup(name string) (*Boundary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boundaries[name]
	return b, ok
}

// List returns the status of every boundary sorted by name
func (r *Registry) List() []Status {
	r.mu.RLock()
	boundaries := make([]*Boundary, 0, len(r.boundaries))
	for _, b := range r.boundaries {
		boundaries = append(boundaries, b)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(boundaries))
	for _, b := range boundaries {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Retry retries the named boundary without re-running its region
func (r *Registry) Retry(ctx context.Context, name string) (RetryOutcome, Status, error) {
	b, ok := r.Lookup(name)
	if !ok {
		return "", Status{}, utils.NewAppError(utils.ErrCodeNotFound, "Boundary not found", name)
	}

	outcome, err := b.Retry(ctx, nil)
	return outcome, r.Get(name).Status(), err
}

// Reloads reports how many times name was hard reset
func (r *Registry) Reloads(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reloads[name]
}

func (r *Registry) newBoundary(name string) *Boundary {
	opts := make([]BoundaryOption, 0, len(r.opts)+1)
	opts = append(opts, r.opts...)
	opts = append(opts, WithReloader(r.reload))
	return NewBoundary(name, r.reporter, opts...)
}

// reload swaps b for a fresh boundary if b is still the registered one
func (r *Registry) reload(ctx context.Context, b *Boundary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.boundaries[b.Name()]; ok && current != b {
		return
	}
	r.boundaries[b.Name()] = r.newBoundary(b.Name())
	r.reloads[b.Name()]++
}
