package game

import "context"

// guard is a single-slot semaphore serializing the commit sections of one
// game instance.
type guard struct {
	ch chan struct{}
}

func newGuard() *guard { return &guard{ch: make(chan struct{}, 1)} }

func (g *guard) Acquire(ctx context.Context) error {
	select {
	case g.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *guard) TryAcquire() bool {
	select {
	case g.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *guard) Release() {
	select {
	case <-g.ch:
	default:
	}
}
