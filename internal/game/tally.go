package game

import (
	"context"
	"fmt"
	"sort"

	kit "spookbot/internal/transport"
	logx "spookbot/pkg/logx"
)

type Outcome int

const (
	Insufficient Outcome = iota
	Defer
	Finalize
)

func (o Outcome) String() string {
	switch o {
	case Insufficient:
		return "insufficient"
	case Defer:
		return "defer"
	case Finalize:
		return "finalize"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

const (
	textTricksters = "The tricksters have won:"
	textTreaters   = "The treaters get a treat!"
	textTied       = "Tied voting."
)

// Delta is one score change produced by a finalized tally.
type Delta struct {
	User   kit.UserID
	Name   string
	Amount int64
	// Stealth deltas are applied but never reported.
	Stealth bool
}

// Result is what a finalized round announces and applies.
type Result struct {
	Text       string
	Trick      int
	Treat      int
	Delta      int
	Voters     int
	Clean      int
	StealthFor int
	Deltas     []Delta
}

// Apply writes the deltas, stealth penalties first, and returns the summary
// lines for the visible ones in display-name order.
func (r *Result) Apply(ctx context.Context, scores *ScoreStore) ([]string, error) {
	var lines []string
	for _, d := range r.Deltas {
		if !d.Stealth || d.Amount == 0 {
			continue
		}
		if _, _, _, err := scores.ApplyDelta(ctx, d.User, d.Amount); err != nil {
			return nil, err
		}
	}
	for _, d := range r.Deltas {
		if d.Stealth || d.Amount == 0 {
			continue
		}
		old, delta, now, err := scores.ApplyDelta(ctx, d.User, d.Amount)
		if err != nil {
			return nil, err
		}
		lines = append(lines, fmt.Sprintf("%s : %d%+d => %d (current)", d.Name, old, delta, now))
	}
	return lines, nil
}

// Tally is the classification of one attempt.
type Tally struct {
	Outcome Outcome
	Result  *Result
	// Revoked is the alt whose reactions were pulled on a Defer (0 if none).
	Revoked kit.UserID
}

// TallyEngine classifies the votes on a round message.
type TallyEngine struct {
	cfg  Config
	gw   kit.Gateway
	alts *AltRegistry
	rng  Rand
	log  logx.Logger
}

func NewTallyEngine(cfg Config, gw kit.Gateway, alts *AltRegistry, rng Rand, log logx.Logger) *TallyEngine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TallyEngine{cfg: cfg, gw: gw, alts: alts, rng: rng, log: log}
}

// Evaluate reads the reaction state of msg. With force set the quorum and
// deferral gates are skipped and the round always finalizes.
func (e *TallyEngine) Evaluate(ctx context.Context, ch kit.ChatTarget, msg *kit.Message, force bool) (Tally, error) {
	e.clearForeign(ctx, ch, msg)

	trickers, err := e.gw.ListReactors(ctx, ch, msg.ID, e.cfg.Trick)
	if err != nil {
		return Tally{}, fmt.Errorf("list %s reactors: %w", e.cfg.Trick, err)
	}
	treaters, err := e.gw.ListReactors(ctx, ch, msg.ID, e.cfg.Treat)
	if err != nil {
		return Tally{}, fmt.Errorf("list %s reactors: %w", e.cfg.Treat, err)
	}
	self := e.gw.Self()
	trickers = without(trickers, self)
	treaters = without(treaters, self)

	voters := union(trickers, treaters)
	groups := map[kit.UserID]struct{}{}
	var altVoters []kit.UserID
	for _, v := range voters {
		groups[e.alts.Key(v)] = struct{}{}
		if e.alts.IsAlt(v) {
			altVoters = append(altVoters, v)
		}
	}
	raw, clean := len(voters), len(groups)

	if !force {
		if raw < e.cfg.MinVotes {
			return Tally{Outcome: Insufficient}, nil
		}
		if clean >= e.cfg.MinVotes && raw > clean && e.rng.Float64() < e.cfg.DeferProbability {
			t := Tally{Outcome: Defer}
			if len(altVoters) > 0 && e.rng.Float64() < e.cfg.RevokeProbability {
				t.Revoked = altVoters[e.rng.Intn(len(altVoters))]
				e.revoke(ctx, ch, msg.ID, t.Revoked)
			}
			return t, nil
		}
	}

	nTrick := ownExcluded(msg, e.cfg.Trick)
	nTreat := ownExcluded(msg, e.cfg.Treat)

	var delta int
	if len(altVoters) > 0 && len(altVoters) == raw {
		delta = between(e.rng, 1, 3)
	} else {
		delta = between(e.rng, 3, max(clean, 1)*5)
	}

	var dTrick, dTreat int64
	var text string
	switch {
	case nTrick > nTreat:
		dTrick, dTreat = 0, -3*int64(delta)
		text = textTricksters
	case nTrick < nTreat:
		dTrick, dTreat = 0, 2*int64(delta)
		text = textTreaters
	default:
		text = textTied
	}
	res := &Result{
		Text:   text + fmt.Sprintf(" %d x %s vs %d x %s", nTrick, e.cfg.Trick, nTreat, e.cfg.Treat),
		Trick:  nTrick,
		Treat:  nTreat,
		Delta:  delta,
		Voters: raw,
		Clean:  clean,
	}

	if len(altVoters) > 0 && len(altVoters) < raw {
		nerf := stealthNerf(len(intersect(altVoters, trickers)), len(intersect(altVoters, treaters)), nTrick, nTreat)
		penalty := -abs64(dTrick) * nerf
		res.StealthFor = len(altVoters)
		for _, a := range altVoters {
			e.log.Debug("stealth nerf", logx.User(int64(a)), logx.Int64("delta", penalty), logx.Int64("factor", nerf))
			res.Deltas = append(res.Deltas, Delta{User: a, Amount: penalty, Stealth: true})
		}
	}

	totals := map[kit.UserID]int64{}
	for _, u := range trickers {
		totals[u] += dTrick
	}
	for _, u := range treaters {
		totals[u] += dTreat
	}
	var visible []Delta
	for _, u := range voters {
		if totals[u] == 0 {
			continue
		}
		visible = append(visible, Delta{User: u, Name: e.displayName(ctx, ch, u), Amount: totals[u]})
	}
	sort.SliceStable(visible, func(i, j int) bool { return visible[i].Name < visible[j].Name })
	res.Deltas = append(res.Deltas, visible...)

	return Tally{Outcome: Finalize, Result: res}, nil
}

// clearForeign removes reactions other than the two choices. Best effort.
func (e *TallyEngine) clearForeign(ctx context.Context, ch kit.ChatTarget, msg *kit.Message) {
	for _, r := range msg.Reactions {
		if r.Marker.Equal(e.cfg.Trick) || r.Marker.Equal(e.cfg.Treat) {
			continue
		}
		if err := e.gw.ClearReaction(ctx, ch, msg.ID, r.Marker); err != nil {
			e.log.Warn("clear foreign reaction failed", logx.String("marker", r.Marker.Key()), logx.Err(err))
		}
	}
}

// revoke pulls user's choice reactions. Best effort.
func (e *TallyEngine) revoke(ctx context.Context, ch kit.ChatTarget, id kit.MessageID, user kit.UserID) {
	for _, m := range []kit.Marker{e.cfg.Trick, e.cfg.Treat} {
		if err := e.gw.RemoveReaction(ctx, ch, id, m, user); err != nil {
			e.log.Warn("revoke alt reaction failed", logx.User(int64(user)), logx.String("marker", m.Key()), logx.Err(err))
			continue
		}
		e.log.Debug("revoked alt reaction", logx.User(int64(user)), logx.String("marker", m.Key()))
	}
}

func (e *TallyEngine) displayName(ctx context.Context, ch kit.ChatTarget, u kit.UserID) string {
	return resolveName(ctx, e.gw, ch, u)
}

func resolveName(ctx context.Context, gw kit.Gateway, ch kit.ChatTarget, u kit.UserID) string {
	m, err := gw.ResolveMember(ctx, ch, u)
	if err != nil || m.DisplayName == "" {
		return u.String()
	}
	return m.DisplayName
}

// ownExcluded is the marker's count without the bot's own reaction.
func ownExcluded(msg *kit.Message, m kit.Marker) int {
	rc, ok := msg.Reaction(m)
	if !ok {
		return 0
	}
	n := rc.Count
	if rc.Me {
		n--
	}
	return max(n, 0)
}

func without(ids []kit.UserID, drop kit.UserID) []kit.UserID {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

// union returns the distinct ids of a then b, in first-seen order.
func union(a, b []kit.UserID) []kit.UserID {
	seen := make(map[kit.UserID]struct{}, len(a)+len(b))
	out := make([]kit.UserID, 0, len(a)+len(b))
	for _, list := range [][]kit.UserID{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func intersect(a, b []kit.UserID) []kit.UserID {
	in := make(map[kit.UserID]struct{}, len(b))
	for _, id := range b {
		in[id] = struct{}{}
	}
	var out []kit.UserID
	for _, id := range a {
		if _, ok := in[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// stealthNerf is 1 when the alts leaned the same way as the room and 2 when
// they leaned against it.
func stealthNerf(altTrick, altTreat, nTrick, nTreat int) int64 {
	if sign(altTrick-altTreat) != sign(nTrick-nTreat) {
		return 2
	}
	return 1
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
