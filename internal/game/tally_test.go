package game

import (
	"context"
	"testing"

	kit "spookbot/internal/transport"
)

func evaluate(t *testing.T, f *fixture, id kit.MessageID, force bool) Tally {
	t.Helper()
	msg, ok, err := f.gw.FetchMessage(context.Background(), f.ch, id)
	if err != nil || !ok {
		t.Fatalf("FetchMessage(%d): ok=%v err=%v", id, ok, err)
	}
	tally, err := f.game.tally.Evaluate(context.Background(), f.ch, msg, force)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return tally
}

func TestTricksterWinDeltaWindow(t *testing.T) {
	for _, tc := range []struct {
		draw      int
		wantDelta int
	}{
		{0, 3},
		{5, 8},
		{12, 15},
	} {
		f := newFixture(t)
		id := f.postRound(t)
		f.vote(id, f.game.Config().Trick, 101, 102, 103)
		f.rng.ints = []int{tc.draw}

		tally := evaluate(t, f, id, false)
		if tally.Outcome != Finalize {
			t.Fatalf("outcome = %s, want finalize", tally.Outcome)
		}
		res := tally.Result
		if res.Delta != tc.wantDelta {
			t.Fatalf("draw %d: delta = %d, want %d", tc.draw, res.Delta, tc.wantDelta)
		}
		if res.Trick != 3 || res.Treat != 0 {
			t.Fatalf("counts = %d/%d, want 3/0 after removing own reactions", res.Trick, res.Treat)
		}
		if len(res.Deltas) != 0 {
			t.Fatalf("deltas = %+v, want none", res.Deltas)
		}
	}
}

func TestTreatersLosePenalty(t *testing.T) {
	f := newFixture(t)
	id := f.postRound(t)
	f.vote(id, f.game.Config().Trick, 101, 102, 103)
	f.vote(id, f.game.Config().Treat, 104)
	f.rng.ints = []int{0}

	res := evaluate(t, f, id, false).Result
	if len(res.Deltas) != 1 || res.Deltas[0].User != 104 || res.Deltas[0].Amount != -9 {
		t.Fatalf("deltas = %+v, want dave -9", res.Deltas)
	}
	if res.Deltas[0].Name != "dave" {
		t.Fatalf("name = %q, want dave", res.Deltas[0].Name)
	}
}

func TestVoterOnBothSidesGetsNetDelta(t *testing.T) {
	f := newFixture(t)
	id := f.postRound(t)
	cfg := f.game.Config()
	f.vote(id, cfg.Treat, 101, 102, 103)
	f.vote(id, cfg.Trick, 103)
	f.rng.ints = []int{0}

	res := evaluate(t, f, id, false).Result
	if res.Voters != 3 {
		t.Fatalf("voters = %d, want 3 distinct", res.Voters)
	}
	for _, d := range res.Deltas {
		if d.User == 103 && d.Amount != 6 {
			t.Fatalf("carol delta = %d, want 6 (trick side scores 0)", d.Amount)
		}
	}
}

func TestQuorumGates(t *testing.T) {
	for _, tc := range []struct {
		name   string
		trick  []kit.UserID
		treat  []kit.UserID
		floats []float64
		want   Outcome
	}{
		{"one voter", []kit.UserID{101}, nil, nil, Insufficient},
		{"two voters", []kit.UserID{101}, []kit.UserID{102}, nil, Insufficient},
		{"three clean", []kit.UserID{101, 102}, []kit.UserID{103}, nil, Finalize},
		// 201 and 202 share a group: 3 raw voters but only 2 clean, so
		// the deferral coin is never drawn.
		{"primary, alt and one clean voter", []kit.UserID{201, 202}, []kit.UserID{101}, []float64{0.1}, Finalize},
		{"alt surplus, coin defers", []kit.UserID{201, 202, 101}, []kit.UserID{102}, []float64{0.2, 0.9}, Defer},
		{"alt surplus, coin passes", []kit.UserID{201, 202, 101}, []kit.UserID{102}, []float64{0.7}, Finalize},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.postRound(t)
			f.vote(id, f.game.Config().Trick, tc.trick...)
			f.vote(id, f.game.Config().Treat, tc.treat...)
			f.rng.floats = tc.floats

			if got := evaluate(t, f, id, false).Outcome; got != tc.want {
				t.Fatalf("outcome = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestForceSkipsQuorum(t *testing.T) {
	f := newFixture(t)
	id := f.postRound(t)
	f.vote(id, f.game.Config().Trick, 101)

	tally := evaluate(t, f, id, true)
	if tally.Outcome != Finalize {
		t.Fatalf("outcome = %s, want finalize", tally.Outcome)
	}
	if want := "The tricksters have won: 1 x 😈 vs 0 x 🍬"; tally.Result.Text != want {
		t.Fatalf("text = %q, want %q", tally.Result.Text, want)
	}
}

func TestAllAltVotersUseSmallDelta(t *testing.T) {
	f := newFixture(t)
	id := f.postRound(t)
	f.vote(id, f.game.Config().Treat, 202, 203)
	f.rng.ints = []int{2}

	res := evaluate(t, f, id, true).Result
	if res.Delta != 3 {
		t.Fatalf("delta = %d, want 3 from the [1,3] window", res.Delta)
	}
	for _, d := range res.Deltas {
		if d.Stealth {
			t.Fatalf("stealth nerf applied when every voter is an alt: %+v", d)
		}
	}
}

func TestStealthNerfFactor(t *testing.T) {
	for _, tc := range []struct {
		altTrick, altTreat, nTrick, nTreat int
		want                               int64
	}{
		{0, 1, 0, 3, 1},
		{1, 0, 3, 1, 1},
		{1, 0, 0, 3, 2},
		{0, 1, 3, 0, 2},
		{1, 1, 2, 2, 1},
		{2, 0, 1, 1, 2},
	} {
		if got := stealthNerf(tc.altTrick, tc.altTreat, tc.nTrick, tc.nTreat); got != tc.want {
			t.Fatalf("stealthNerf(%d,%d,%d,%d) = %d, want %d", tc.altTrick, tc.altTreat, tc.nTrick, tc.nTreat, got, tc.want)
		}
	}
}

func TestForeignReactionsAreCleared(t *testing.T) {
	for _, fail := range []bool{false, true} {
		f := newFixture(t)
		id := f.postRound(t)
		f.vote(id, f.game.Config().Treat, 101, 102, 103)
		ghost := kit.Unicode("👻")
		f.vote(id, ghost, 105)
		f.gw.FailRemove = fail

		if got := evaluate(t, f, id, false).Outcome; got != Finalize {
			t.Fatalf("fail=%v: outcome = %s, want finalize despite cleanup", fail, got)
		}
		msg, _, _ := f.gw.FetchMessage(context.Background(), f.ch, id)
		_, present := msg.Reaction(ghost)
		if present == !fail {
			t.Fatalf("fail=%v: foreign reaction present = %v", fail, present)
		}
	}
}

func TestResultApplyOrdersStealthFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := &Result{Deltas: []Delta{
		{User: 101, Name: "zed", Amount: 4},
		{User: 202, Amount: -5, Stealth: true},
		{User: 102, Name: "amy", Amount: 0},
		{User: 202, Name: "mallory-alt", Amount: 4},
	}}
	lines, err := res.Apply(ctx, f.game.Scores())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := []string{"zed : 0+4 => 4 (current)", "mallory-alt : -5+4 => -1 (current)"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
