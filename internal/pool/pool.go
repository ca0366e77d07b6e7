package pool

import (
	"errors"
	"slices"
	"sync"
)

// ErrPoolEmpty is returned by Take when no link is available.
var ErrPoolEmpty = errors.New("pool: no rescuer link available")

// Pool is a LIFO set of idle links. A link is present at most once.
type Pool[T comparable] struct {
	mu    sync.Mutex
	links []T
}

// New returns an empty pool.
func New[T comparable]() *Pool[T] {
	return &Pool[T]{}
}

// Register adds link on top of the stack. It returns false if link is
// already registered.
func (p *Pool[T]) Register(link T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slices.Contains(p.links, link) {
		return false
	}
	p.links = append(p.links, link)
	return true
}

// Take removes and returns the most recently registered link.
func (p *Pool[T]) Take() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	n := len(p.links)
	if n == 0 {
		return zero, ErrPoolEmpty
	}
	link := p.links[n-1]
	p.links[n-1] = zero
	p.links = p.links[:n-1]
	return link, nil
}

// Remove deletes link if present and reports whether it was.
func (p *Pool[T]) Remove(link T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := slices.Index(p.links, link)
	if i < 0 {
		return false
	}
	p.links = slices.Delete(p.links, i, i+1)
	return true
}

// Len returns the number of idle links.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.links)
}

// Drain removes and returns every idle link, most recent first.
func (p *Pool[T]) Drain() []T {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]T, 0, len(p.links))
	for i := len(p.links) - 1; i >= 0; i-- {
		out = append(out, p.links[i])
	}
	p.links = nil
	return out
}
