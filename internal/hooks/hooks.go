// Package hooks provides the transform pipeline applied around sync and
// push: an ordered list of pure transform functions, run by ascending
// priority, each receiving and returning the same typed value.
//
// The pipelines live outside the core sync loop; engines apply them at
// fixed points (before persisting a fetched record, before sending an
// outbound payload) without knowing what is registered.
package hooks

import (
	"fmt"
	"sort"
	"sync"
)

// Transform is one registered pipeline step.
type Transform[T any] func(T) (T, error)

type entry[T any] struct {
	name     string
	priority int
	fn       Transform[T]
}

// Pipeline is a priority-ordered list of transforms. Safe for concurrent
// use; registration is expected at startup but is not restricted to it.
type Pipeline[T any] struct {
	mu      sync.RWMutex
	entries []entry[T]
}

// Register adds a transform. Lower priority runs first; ties run in
// registration order.
func (p *Pipeline[T]) Register(name string, priority int, fn Transform[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry[T]{name: name, priority: priority, fn: fn})
	sort.SliceStable(p.entries, func(i, j int) bool {
		return p.entries[i].priority < p.entries[j].priority
	})
}

// Apply runs every transform in order. The first error aborts the chain
// and is returned wrapped with the transform's name.
func (p *Pipeline[T]) Apply(v T) (T, error) {
	p.mu.RLock()
	entries := make([]entry[T], len(p.entries))
	copy(entries, p.entries)
	p.mu.RUnlock()

	for _, e := range entries {
		var err error
		v, err = e.fn(v)
		if err != nil {
			return v, fmt.Errorf("hook %s failed: %w", e.name, err)
		}
	}
	return v, nil
}

// Len returns the number of registered transforms.
func (p *Pipeline[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
