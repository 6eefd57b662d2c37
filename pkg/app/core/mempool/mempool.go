package mempool

import (
	"sync"

	"github.com/cockroachdb/errors"
)

var ErrFull = errors.New("mempool full")

// Pool is a bounded FIFO. Select hands items out in exactly the order Push
// accepted them, whatever their kind.
type Pool[T any] struct {
	mu    sync.Mutex
	queue []T
	max   int
	ready chan struct{}
}

// New returns a pool holding at most max items (0 means unbounded)
func New[T any](max int) *Pool[T] {
	return &Pool[T]{max: max, ready: make(chan struct{}, 1)}
}

// Push enqueues it or returns ErrFull
func (p *Pool[T]) Push(it T) error {
	p.mu.Lock()
	if p.max > 0 && len(p.queue) >= p.max {
		p.mu.Unlock()
		return errors.Wrapf(ErrFull, "%d pending", p.max)
	}
	p.queue = append(p.queue, it)
	p.mu.Unlock()

	p.signal()
	return nil
}

// Ready fires after a Push, and again after Select if items remain
func (p *Pool[T]) Ready() <-chan struct{} { return p.ready }

func (p *Pool[T]) signal() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// Select removes and returns up to max of the oldest items (0 means all)
func (p *Pool[T]) Select(max int) []T {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.queue)
	if max > 0 && n > max {
		n = max
	}
	out := make([]T, n)
	copy(out, p.queue[:n])
	var zero T
	for i := 0; i < n; i++ {
		p.queue[i] = zero
	}
	p.queue = p.queue[n:]
	if len(p.queue) > 0 {
		p.signal()
	}
	return out
}

func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
