package core

import (
	"slices"
	"sync"
)

// ContextPool records, per transfer target, the history indices already
// forwarded to it. An index is forwarded to a given target at most once.
type ContextPool struct {
	mu     sync.Mutex
	shared map[string]map[int]struct{}
}

// NewContextPool returns an empty pool.
func NewContextPool() *ContextPool {
	return &ContextPool{shared: map[string]map[int]struct{}{}}
}

// Shared reports whether idx was already forwarded to target.
func (p *ContextPool) Shared(target string, idx int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.shared[target][idx]
	return ok
}

// Mark records idx as forwarded to target. It returns false if it already was.
func (p *ContextPool) Mark(target string, idx int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.shared[target]
	if !ok {
		set = map[int]struct{}{}
		p.shared[target] = set
	}
	if _, dup := set[idx]; dup {
		return false
	}
	set[idx] = struct{}{}
	return true
}

// Indices returns the sorted indices forwarded to target.
func (p *ContextPool) Indices(target string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int, 0, len(p.shared[target]))
	for idx := range p.shared[target] {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// Reset forgets every forwarded index.
func (p *ContextPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shared = map[string]map[int]struct{}{}
}
