package game

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"spookbot/internal/eventbus"
	"spookbot/internal/storage"
	kit "spookbot/internal/transport"
)

func TestPostRoundCommitsPointerAndChoices(t *testing.T) {
	f := newFixture(t)
	id := f.postRound(t)

	sent := f.gw.Sent()
	if len(sent) != 1 || sent[0].Text != "Trick (😈) or Treat (🍬)!" {
		t.Fatalf("sent = %+v, want the prompt only", sent)
	}
	if sent[0].ID != id || sent[0].Chat.ChatID != chatID {
		t.Fatalf("prompt = %+v, want id %d in chat %d", sent[0], id, chatID)
	}
	msg, ok, err := f.gw.FetchMessage(context.Background(), f.ch, id)
	if err != nil || !ok {
		t.Fatalf("FetchMessage: ok=%v err=%v", ok, err)
	}
	for _, m := range []kit.Marker{kit.Unicode("😈"), kit.Unicode("🍬")} {
		rc, ok := msg.Reaction(m)
		if !ok || !rc.Me || rc.Count != 1 {
			t.Fatalf("reaction %s = %+v ok=%v, want own reaction", m, rc, ok)
		}
	}
	if got := f.run.Names(); !reflect.DeepEqual(got, []string{"halloween.tally"}) {
		t.Fatalf("queued = %v, want one tally", got)
	}
	if sleeps := f.clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != time.Minute {
		t.Fatalf("sleeps = %v, want [1m]", sleeps)
	}
}

func TestEnsureRunningTwiceSchedulesOneRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.game.EnsureRunning(ctx); err != nil {
			t.Fatalf("EnsureRunning #%d: %v", i, err)
		}
	}
	if n := f.run.Len(); n != 1 {
		t.Fatalf("queued tasks = %d, want 1", n)
	}
	if !f.game.Awaiting() {
		t.Fatal("awaiting flag not set")
	}
	f.run.RunNext(t)

	if err := f.game.OnExternalMessage(ctx); err != nil {
		t.Fatalf("OnExternalMessage: %v", err)
	}
	if got := f.run.Names(); !reflect.DeepEqual(got, []string{"halloween.tally"}) {
		t.Fatalf("queued = %v, want only the tally", got)
	}
	if n := len(f.gw.Sent()); n != 1 {
		t.Fatalf("sent %d messages, want 1 prompt", n)
	}
}

func TestEnsureRunningRespectsIdleThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.postRound(t)
	f.vote(id, f.game.Config().Treat, 101, 102, 103)
	f.run.RunNext(t) // finalize, schedules the next post

	f.game.SetEnabled(false)
	f.run.RunNext(t) // post skipped while disabled
	f.game.SetEnabled(true)
	if n := len(f.gw.Sent()); n != 3 {
		t.Fatalf("sent %d messages, want prompt, announcement, summary", n)
	}

	if err := f.game.OnTick(ctx); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if n := f.run.Len(); n != 0 {
		t.Fatalf("queued %d tasks within the idle threshold", n)
	}
	f.clock.Advance(16 * time.Minute)
	if err := f.game.OnTick(ctx); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if got := f.run.Names(); !reflect.DeepEqual(got, []string{"halloween.post"}) {
		t.Fatalf("queued = %v, want a post after the idle threshold", got)
	}
}

func TestRestartRecoveryResumesPersistedRound(t *testing.T) {
	store := storage.NewMemory()
	if err := NewPointer(store, "halloween").Set(context.Background(), 555); err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, func(_ *Config, d *Deps) { d.Store = store })

	if err := f.game.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}
	if got := f.run.Names(); !reflect.DeepEqual(got, []string{"halloween.tally"}) {
		t.Fatalf("queued = %v, want exactly one tally", got)
	}
	if n := len(f.gw.Sent()); n != 0 {
		t.Fatalf("sent %d messages before the tally ran", n)
	}

	// Message 555 no longer exists: the round is abandoned and replaced.
	f.run.RunNext(t)
	if sleeps := f.clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != DefaultRecoveryDelay {
		t.Fatalf("sleeps = %v, want recovery delay", sleeps)
	}
	if ptr, _ := f.game.Pointer().Get(context.Background()); ptr != 0 {
		t.Fatalf("pointer = %d, want cleared", ptr)
	}
	if got := f.run.Names(); !reflect.DeepEqual(got, []string{"halloween.post"}) {
		t.Fatalf("queued = %v, want a replacement post", got)
	}
}

func TestInsufficientKeepsPointerAndRetriesSameRound(t *testing.T) {
	f := newFixture(t)
	id := f.postRound(t)
	f.vote(id, f.game.Config().Trick, 101)

	f.run.RunNext(t)
	if ptr, _ := f.game.Pointer().Get(context.Background()); ptr != id {
		t.Fatalf("pointer = %d, want %d", ptr, id)
	}
	if got := f.run.Names(); !reflect.DeepEqual(got, []string{"halloween.tally"}) {
		t.Fatalf("queued = %v, want a retry", got)
	}
	if n := len(f.gw.Sent()); n != 1 {
		t.Fatalf("sent %d messages, want only the prompt", n)
	}

	f.vote(id, f.game.Config().Trick, 102, 103)
	f.run.RunNext(t)
	if ptr, _ := f.game.Pointer().Get(context.Background()); ptr != 0 {
		t.Fatalf("pointer = %d after the retry, want 0", ptr)
	}
	sent := f.gw.Sent()
	if !strings.HasPrefix(sent[1].Text, "The tricksters have won:") {
		t.Fatalf("announce = %q", sent[1].Text)
	}
}

func TestTricksterWinScoresNobodyWithoutTreaters(t *testing.T) {
	f := newFixture(t)
	id := f.postRound(t)
	f.vote(id, f.game.Config().Trick, 101, 102, 103)
	f.rng.ints = []int{12}

	f.run.RunNext(t)

	sent := f.gw.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v, want prompt and announcement only", sent)
	}
	if want := "The tricksters have won: 3 x 😈 vs 0 x 🍬"; sent[1].Text != want {
		t.Fatalf("announce = %q, want %q", sent[1].Text, want)
	}
	all, err := f.game.Scores().All(context.Background())
	if err != nil || len(all) != 0 {
		t.Fatalf("scores = %v err=%v, want untouched", all, err)
	}
	if ptr, _ := f.game.Pointer().Get(context.Background()); ptr != 0 {
		t.Fatalf("pointer = %d, want 0", ptr)
	}
}

func TestTreaterWinAppliesDeltasAndSummary(t *testing.T) {
	f := newFixture(t)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	f.game.bus = bus

	id := f.postRound(t)
	f.vote(id, f.game.Config().Treat, 103, 101, 102)
	f.vote(id, f.game.Config().Trick, 104)
	f.rng.ints = []int{1} // delta 4

	f.run.RunNext(t)

	sent := f.gw.Sent()
	if len(sent) != 3 {
		t.Fatalf("sent = %+v, want prompt, announcement, summary", sent)
	}
	if want := "The treaters get a treat! 1 x 😈 vs 3 x 🍬"; sent[1].Text != want {
		t.Fatalf("announce = %q, want %q", sent[1].Text, want)
	}
	want := "alice : 0+8 => 8 (current)\nbob : 0+8 => 8 (current)\ncarol : 0+8 => 8 (current)"
	if sent[2].Text != want || !sent[2].Opt.Preformatted {
		t.Fatalf("summary = %q (pre=%v), want %q", sent[2].Text, sent[2].Opt.Preformatted, want)
	}
	if got := f.score(t, 104); got != 0 {
		t.Fatalf("trick voter score = %d, want 0", got)
	}
	if got := f.run.Names(); !reflect.DeepEqual(got, []string{"halloween.post"}) {
		t.Fatalf("queued = %v, want the next post", got)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if !reflect.DeepEqual(types, []string{EventPosted, EventFinalized}) {
		t.Fatalf("events = %v", types)
	}
}

func TestTieClearsPointerWithoutScoring(t *testing.T) {
	f := newFixture(t)
	id := f.postRound(t)
	f.vote(id, f.game.Config().Trick, 101, 102)
	f.vote(id, f.game.Config().Treat, 103, 104)

	f.run.RunNext(t)

	sent := f.gw.Sent()
	if len(sent) != 2 || !strings.Contains(sent[1].Text, "Tied voting.") {
		t.Fatalf("sent = %+v, want a tie announcement", sent)
	}
	if !strings.HasSuffix(sent[1].Text, " 2 x 😈 vs 2 x 🍬") {
		t.Fatalf("announce = %q", sent[1].Text)
	}
	if all, _ := f.game.Scores().All(context.Background()); len(all) != 0 {
		t.Fatalf("scores = %v, want untouched", all)
	}
	if ptr, _ := f.game.Pointer().Get(context.Background()); ptr != 0 {
		t.Fatalf("pointer = %d, want 0", ptr)
	}
	if got := f.run.Names(); !reflect.DeepEqual(got, []string{"halloween.post"}) {
		t.Fatalf("queued = %v, want the next post", got)
	}
}

func TestAltWithMajorityTakesStealthNerfSilently(t *testing.T) {
	f := newFixture(t)
	id := f.postRound(t)
	f.vote(id, f.game.Config().Treat, 101, 102, 202)
	f.rng.ints = []int{0} // delta 3

	msg, _, _ := f.gw.FetchMessage(context.Background(), f.ch, id)
	tally, err := f.game.tally.Evaluate(context.Background(), f.ch, msg, false)
	if err != nil || tally.Outcome != Finalize {
		t.Fatalf("Evaluate = %+v, %v", tally, err)
	}
	var stealth []Delta
	for _, d := range tally.Result.Deltas {
		if d.Stealth {
			stealth = append(stealth, d)
		}
	}
	if len(stealth) != 1 || stealth[0].User != 202 || stealth[0].Amount != 0 {
		t.Fatalf("stealth deltas = %+v, want one zero nerf on the alt", stealth)
	}

	f.rng.ints = []int{0}
	f.run.RunNext(t)
	if got := f.score(t, 202); got != 6 {
		t.Fatalf("alt score = %d, want 6 (ordinary delta only)", got)
	}
	for _, s := range f.gw.Sent() {
		if strings.Contains(strings.ToLower(s.Text), "nerf") || strings.Contains(strings.ToLower(s.Text), "stealth") {
			t.Fatalf("outward text mentions the penalty: %q", s.Text)
		}
	}
	want := "alice : 0+6 => 6 (current)\nbob : 0+6 => 6 (current)\nmallory-alt : 0+6 => 6 (current)"
	if got := f.gw.Sent()[2].Text; got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
}

func TestDeferRevokesAltReaction(t *testing.T) {
	for _, tc := range []struct {
		name       string
		floats     []float64
		wantRevoke bool
	}{
		{"defer and revoke", []float64{0.1, 0.1}, true},
		{"defer only", []float64{0.1, 0.9}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			cfg := f.game.Config()
			id := f.postRound(t)
			f.vote(id, cfg.Trick, 101, 102, 103)
			f.vote(id, cfg.Treat, 201, 202)
			f.rng.floats = tc.floats

			f.run.RunNext(t)

			if ptr, _ := f.game.Pointer().Get(ctx); ptr != id {
				t.Fatalf("pointer = %d, want %d", ptr, id)
			}
			if got := f.run.Names(); !reflect.DeepEqual(got, []string{"halloween.tally"}) {
				t.Fatalf("queued = %v, want a retry", got)
			}
			treaters, _ := f.gw.ListReactors(ctx, f.ch, id, cfg.Treat)
			want := []kit.UserID{201, 202}
			if tc.wantRevoke {
				want = []kit.UserID{201}
			}
			if !reflect.DeepEqual(treaters, want) {
				t.Fatalf("treaters = %v, want %v", treaters, want)
			}
		})
	}
}

func TestMissingMessageRepostsWhenRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.postRound(t)
	f.gw.Delete(id)

	f.run.RunNext(t)
	if ptr, _ := f.game.Pointer().Get(ctx); ptr != 0 {
		t.Fatalf("pointer = %d, want cleared", ptr)
	}
	f.run.RunNext(t)
	next, _ := f.game.Pointer().Get(ctx)
	if next == 0 || next == id {
		t.Fatalf("replacement round = %d", next)
	}
}

func TestMissingMessageLeavesPointerWithoutKeepRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.postRound(t)
	f.gw.Delete(id)

	if _, ok := f.game.attemptTally(ctx, 0, id, attempt{inline: true}); ok {
		t.Fatal("attempt on a missing message reported a tally")
	}
	if ptr, _ := f.game.Pointer().Get(ctx); ptr != id {
		t.Fatalf("pointer = %d, want %d left for recovery", ptr, id)
	}
}

func TestStoreFailureKeepsPointerAndReleasesFlag(t *testing.T) {
	fs := &failingStore{Store: storage.NewMemory()}
	f := newFixture(t, func(_ *Config, d *Deps) { d.Store = fs })
	ctx := context.Background()
	id := f.postRound(t)
	f.vote(id, f.game.Config().Treat, 101, 102, 103)

	fs.Arm()
	f.run.RunNext(t)

	fs.mu.Lock()
	fs.armed = false
	fs.mu.Unlock()
	if ptr, _ := f.game.Pointer().Get(ctx); ptr != id {
		t.Fatalf("pointer = %d, want %d after failed apply", ptr, id)
	}
	if f.game.Awaiting() {
		t.Fatal("awaiting flag still held after abort")
	}
	if n := len(f.gw.Sent()); n != 1 {
		t.Fatalf("sent %d messages, want no announcement", n)
	}

	if err := f.game.EnsureRunning(ctx); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}
	f.run.RunNext(t)
	if ptr, _ := f.game.Pointer().Get(ctx); ptr != 0 {
		t.Fatalf("pointer = %d after retry, want 0", ptr)
	}
}

func TestStaleAttemptIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.postRound(t)
	f.vote(id, f.game.Config().Treat, 101, 102, 103)

	if _, ok := f.game.attemptTally(ctx, 0, id, attempt{keepRunning: true}); !ok {
		t.Fatal("first attempt did not tally")
	}
	before := len(f.gw.Sent())
	f.run.RunNext(t) // the originally scheduled tally, now stale
	if got := len(f.gw.Sent()); got != before {
		t.Fatalf("stale attempt sent %d messages", got-before)
	}
}

func TestConcurrentAttemptsFinalizeOnce(t *testing.T) {
	f := newFixture(t)
	id := f.postRound(t)
	f.vote(id, f.game.Config().Treat, 101, 102, 103)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.game.attemptTally(context.Background(), 0, id, attempt{keepRunning: true})
		}()
	}
	wg.Wait()

	announced := 0
	for _, s := range f.gw.Sent() {
		if strings.HasPrefix(s.Text, "The treaters get a treat!") {
			announced++
		}
	}
	if announced != 1 {
		t.Fatalf("round finalized %d times, want 1", announced)
	}
	if got := f.score(t, 101); got < 6 || got > 30 {
		t.Fatalf("score = %d, want one application of 2*[3,15]", got)
	}
}

func TestDisabledGameIgnoresTriggers(t *testing.T) {
	f := newFixture(t, func(c *Config, _ *Deps) { c.Enabled = false })
	for _, trigger := range []func(context.Context) error{f.game.OnExternalMessage, f.game.OnExternalReaction, f.game.OnTick} {
		if err := trigger(context.Background()); err != nil {
			t.Fatalf("trigger: %v", err)
		}
	}
	if n := f.run.Len(); n != 0 {
		t.Fatalf("queued %d tasks on a disabled game", n)
	}
}
