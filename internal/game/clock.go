package game

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Clock supplies the current time and the suspension primitive used for
// round delays.
type Clock interface {
	Now() time.Time
	// Sleep returns early with ctx.Err() if ctx is done. A non-positive d
	// returns immediately.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock is the wall clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Rand is the uniform random source the tally and scheduler draw from.
type Rand interface {
	// Intn returns a value in [0,n).
	Intn(n int) int
	// Float64 returns a value in [0,1).
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe source. seed 0 seeds from the clock.
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// between returns a uniform integer in [lo,hi].
func between(r Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.Intn(hi-lo+1)
}

// window returns a uniform duration in [lo,hi] at second granularity.
func window(r Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := int((hi - lo) / time.Second)
	if span <= 0 {
		return lo
	}
	return lo + time.Duration(r.Intn(span+1))*time.Second
}

// Runner launches named background tasks. The runtime supervisor satisfies it.
type Runner interface {
	Go0(name string, fn func(ctx context.Context))
}
