package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spookbot/internal/storage"
	kit "spookbot/internal/transport"
	"spookbot/internal/transport/memgateway"
)

// queueRunner records tasks instead of starting goroutines so tests decide
// when each one runs.
type queueRunner struct {
	mu    sync.Mutex
	tasks []queuedTask
}

type queuedTask struct {
	name string
	fn   func(ctx context.Context)
}

func (q *queueRunner) Go0(name string, fn func(ctx context.Context)) {
	q.mu.Lock()
	q.tasks = append(q.tasks, queuedTask{name: name, fn: fn})
	q.mu.Unlock()
}

func (q *queueRunner) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *queueRunner) Names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.name
	}
	return out
}

// RunNext pops and runs the oldest task, returning its name.
func (q *queueRunner) RunNext(t *testing.T) string {
	t.Helper()
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		t.Fatal("no queued task")
	}
	next := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.mu.Unlock()
	next.fn(context.Background())
	return next.name
}

// manualClock advances by exactly the requested sleep.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 10, 31, 18, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.mu.Unlock()
	return ctx.Err()
}

func (c *manualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// scriptRand replays scripted draws. Exhausted Intn returns 0 and exhausted
// Float64 returns 0.99, which never defers or revokes.
type scriptRand struct {
	mu     sync.Mutex
	ints   []int
	floats []float64
}

func (r *scriptRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	if v >= n {
		v = n - 1
	}
	return v
}

func (r *scriptRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.floats) == 0 {
		return 0.99
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

// failingStore fails every Put once armed.
type failingStore struct {
	storage.Store
	mu    sync.Mutex
	armed bool
}

func (s *failingStore) Arm() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

func (s *failingStore) Put(ctx context.Context, key string, val []byte) error {
	s.mu.Lock()
	armed := s.armed
	s.mu.Unlock()
	if armed {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, key, val)
}

const (
	chatID    = -1001
	logChatID = -1002
)

const admin kit.UserID = 42

type fixture struct {
	game  *Game
	gw    *memgateway.Gateway
	store storage.Store
	run   *queueRunner
	clock *manualClock
	rng   *scriptRand
	ch    kit.ChatTarget
}

func testConfig() Config {
	c := DefaultConfig("halloween")
	c.Season = "2025"
	c.Channel = "neighborhood"
	c.LogChannel = "ops"
	c.Enabled = true
	c.PostDelayMin, c.PostDelayMax = time.Minute, time.Minute
	c.TallyDelayMin, c.TallyDelayMax = 2*time.Minute, 2*time.Minute
	return c
}

func newFixture(t *testing.T, opts ...func(*Config, *Deps)) *fixture {
	t.Helper()
	f := &fixture{
		gw:    memgateway.New(),
		store: storage.NewMemory(),
		run:   &queueRunner{},
		clock: newManualClock(),
		rng:   &scriptRand{},
	}
	f.ch = f.gw.AddChannel("neighborhood", chatID)
	f.gw.AddChannel("ops", logChatID)
	for id, name := range map[kit.UserID]string{
		101: "alice", 102: "bob", 103: "carol", 104: "dave", 105: "erin",
		201: "mallory", 202: "mallory-alt", 203: "mallory-alt2",
	} {
		f.gw.SetMember(id, name)
	}

	cfg := testConfig()
	deps := Deps{
		Gateway: f.gw,
		Store:   f.store,
		Alts:    NewAltRegistry(map[kit.UserID][]kit.UserID{201: {202, 203}}),
		Clock:   f.clock,
		Rand:    f.rng,
		Runner:  f.run,
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	if deps.Store != f.store {
		f.store = deps.Store
	}
	g, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.game = g
	return f
}

// postRound drives EnsureRunning and the post task, returning the round id.
func (f *fixture) postRound(t *testing.T) kit.MessageID {
	t.Helper()
	ctx := context.Background()
	if err := f.game.EnsureRunning(ctx); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}
	if name := f.run.RunNext(t); name != "halloween.post" {
		t.Fatalf("ran %q, want halloween.post", name)
	}
	id, err := f.game.Pointer().Get(ctx)
	if err != nil || id == 0 {
		t.Fatalf("pointer after post = %d, %v", id, err)
	}
	return id
}

func (f *fixture) vote(id kit.MessageID, m kit.Marker, users ...kit.UserID) {
	for _, u := range users {
		f.gw.React(id, m, u)
	}
}

func (f *fixture) score(t *testing.T, u kit.UserID) int64 {
	t.Helper()
	v, err := f.game.Scores().Get(context.Background(), u)
	if err != nil {
		t.Fatalf("score %d: %v", u, err)
	}
	return v
}
