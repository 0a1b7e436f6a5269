// Package eventbus fans round lifecycle events out to in-process listeners
// such as the audit writer and the metrics exporter.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is one lifecycle signal. Type is dotted ("round.posted",
// "game.toggled"); Data is usually a game.RoundEvent.
type Event struct {
	// ID is a uuid assigned by Publish when empty. Audit rows key on it.
	ID   string
	Type string
	Time time.Time
	Data any
}

// Bus never blocks a publisher: a listener whose buffer is full misses the
// event and the miss is counted in Dropped.
type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose Type starts with one of prefixes, or
	// every event when none are given. The returned func unsubscribes and
	// closes the channel.
	Subscribe(buffer int, prefixes ...string) (<-chan Event, func())
	Dropped() uint64
}

func New() Bus {
	return &bus{listeners: map[uint64]*listener{}}
}

type listener struct {
	ch       chan Event
	prefixes []string
}

func (l *listener) wants(typ string) bool {
	if len(l.prefixes) == 0 {
		return true
	}
	for _, p := range l.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type bus struct {
	mu        sync.RWMutex
	listeners map[uint64]*listener
	next      uint64
	dropped   atomic.Uint64
}

func (b *bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends are non-blocking, so holding the read lock is cheap and keeps
	// unsubscribe from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		if !l.wants(e.Type) {
			continue
		}
		select {
		case l.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *bus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	l := &listener{ch: make(chan Event, buffer), prefixes: prefixes}

	b.mu.Lock()
	b.next++
	id := b.next
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return l.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			close(l.ch)
			b.mu.Unlock()
		})
	}
}

func (b *bus) Dropped() uint64 { return b.dropped.Load() }
