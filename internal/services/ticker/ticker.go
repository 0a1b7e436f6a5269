// Package ticker drives the periodic idle check of every game.
package ticker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "spookbot/pkg/logx"
)

const (
	DefaultTick      = time.Minute
	maxStartupSpread = 30 * time.Second
	tickTimeout      = 30 * time.Second
)

// Target is woken on every tick.
type Target interface {
	ID() string
	OnTick(ctx context.Context) error
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseTick accepts a Go duration ("1m") or a cron expression
// ("*/2 * * * *", "@hourly"). Empty means DefaultTick.
func ParseTick(raw string) (cron.Schedule, time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return cron.Every(DefaultTick), DefaultTick, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < time.Second {
			return nil, 0, fmt.Errorf("tick %q: interval must be at least 1s", raw)
		}
		return cron.Every(d), d, nil
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return nil, 0, fmt.Errorf("tick %q: use a duration like '1m' or a cron spec like '*/2 * * * *': %w", raw, err)
	}
	return sched, 0, nil
}

type Service struct {
	log logx.Logger

	mu      sync.Mutex
	ctx     context.Context
	c       *cron.Cron
	entries map[string]cron.EntryID
	ticks   map[string]string
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		c:       cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		entries: map[string]cron.EntryID{},
		ticks:   map[string]string{},
	}
}

// Start runs the cron loop until ctx is canceled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx = ctx
	s.c.Start()
	s.log.Info("ticker started", logx.Int("targets", len(s.entries)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	started := s.ctx != nil
	s.ctx = nil
	s.mu.Unlock()
	if !started {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("ticker stop timed out", logx.Err(ctx.Err()))
	}
}

// Set schedules t, replacing any schedule it had. An unchanged tick keeps
// the existing entry.
func (s *Service) Set(t Target, tick string) error {
	sched, every, err := ParseTick(tick)
	if err != nil {
		return err
	}
	id := t.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[id]; ok {
		if s.ticks[id] == tick {
			return nil
		}
		s.c.Remove(old)
	}
	var jitter time.Duration
	if every > 0 {
		sched, jitter = spreadFirstRun(every, time.Now(), id)
	}
	s.entries[id] = s.c.Schedule(sched, cron.FuncJob(s.job(t)))
	s.ticks[id] = tick
	s.log.Debug("tick scheduled", logx.Game(id), logx.String("tick", tick), logx.Duration("spread", jitter))
	return nil
}

func (s *Service) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		s.c.Remove(e)
		delete(s.entries, id)
		delete(s.ticks, id)
	}
}

// Targets lists the scheduled game ids.
func (s *Service) Targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}

func (s *Service) job(t Target) func() {
	return func() {
		s.mu.Lock()
		parent := s.ctx
		s.mu.Unlock()
		if parent == nil {
			parent = context.Background()
		}
		if parent.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(parent, tickTimeout)
		defer cancel()
		if err := t.OnTick(ctx); err != nil {
			s.log.Warn("tick failed", logx.Game(t.ID()), logx.Err(err))
		}
	}
}

// startupSpread wraps a base schedule and overrides the first run time so
// games configured with the same interval do not fire together.
type startupSpread struct {
	base  cron.Schedule
	first time.Time
}

func (s *startupSpread) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq uint64

func spreadFirstRun(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spreadMax := min(every, maxStartupSpread)
	if spreadMax <= 0 {
		return base, 0
	}
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	jitter := time.Duration(rng.Int63n(int64(spreadMax)))
	return &startupSpread{base: base, first: now.Add(jitter)}, jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
