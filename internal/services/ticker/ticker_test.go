package ticker

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	logx "spookbot/pkg/logx"
)

type countTarget struct {
	id    string
	calls atomic.Int32
	err   error
}

func (c *countTarget) ID() string { return c.id }
func (c *countTarget) OnTick(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestParseTick(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 10, 31, 18, 0, 30, 0, time.UTC)
	tests := []struct {
		raw  string
		next time.Time
	}{
		{"", base.Add(time.Minute)},
		{"90s", base.Add(90 * time.Second)},
		{"*/5 * * * *", time.Date(2025, 10, 31, 18, 5, 0, 0, time.UTC)},
		{"@hourly", time.Date(2025, 10, 31, 19, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		sched, _, err := ParseTick(tt.raw)
		if err != nil {
			t.Fatalf("ParseTick(%q): %v", tt.raw, err)
		}
		if got := sched.Next(base); !got.Equal(tt.next) {
			t.Fatalf("ParseTick(%q).Next = %v, want %v", tt.raw, got, tt.next)
		}
	}
	for _, bad := range []string{"soon", "10ms", "* * *"} {
		if _, _, err := ParseTick(bad); err == nil {
			t.Fatalf("ParseTick(%q) accepted", bad)
		}
	}
}

func TestStartupSpreadDelaysOnlyFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 10, 31, 18, 0, 0, 0, time.UTC)
	sched, jitter := spreadFirstRun(time.Minute, now, "halloween")
	if jitter < 0 || jitter >= time.Minute {
		t.Fatalf("jitter = %v", jitter)
	}
	first := sched.Next(now)
	if !first.Equal(now.Add(jitter)) {
		t.Fatalf("first = %v, want %v", first, now.Add(jitter))
	}
	if got := sched.Next(first); !got.Equal(first.Add(time.Minute)) {
		t.Fatalf("second = %v, want %v", got, first.Add(time.Minute))
	}
}

func TestSetReplaceAndRemove(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	a := &countTarget{id: "a"}
	b := &countTarget{id: "b"}
	if err := s.Set(a, "1m"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(b, "*/2 * * * *"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(a, "bogus"); err == nil {
		t.Fatal("bad tick accepted")
	}
	first := s.entries["a"]
	if err := s.Set(a, "1m"); err != nil || s.entries["a"] != first {
		t.Fatalf("unchanged tick replaced the entry: %v", err)
	}
	if err := s.Set(a, "2m"); err != nil || s.entries["a"] == first {
		t.Fatalf("changed tick kept the entry: %v", err)
	}
	s.Remove("b")
	got := s.Targets()
	sort.Strings(got)
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("targets = %v", got)
	}
	if n := len(s.c.Entries()); n != 1 {
		t.Fatalf("cron entries = %d, want 1", n)
	}
}

func TestJobCallsTargetUntilStopped(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	target := &countTarget{id: "a", err: errors.New("gateway down")}
	job := s.job(target)
	job()
	job()
	if n := target.calls.Load(); n != 2 {
		t.Fatalf("calls = %d, want 2", n)
	}
	cancel()
	job()
	if n := target.calls.Load(); n != 2 {
		t.Fatalf("tick ran after cancel: calls = %d", n)
	}
	stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	s.Stop(stopCtx)
}
