package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"spookbot/internal/eventbus"
	"spookbot/internal/storage"
	kit "spookbot/internal/transport"
	logx "spookbot/pkg/logx"
)

// Event types published on the bus.
const (
	EventPosted    = "round.posted"
	EventDeferred  = "round.deferred"
	EventFinalized = "round.finalized"
	EventAbandoned = "round.abandoned"
	EventToggled   = "game.toggled"
)

// RoundEvent is the Data of every round lifecycle event.
type RoundEvent struct {
	Game    string `json:"game"`
	RoundID int64  `json:"round_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Text    string `json:"text,omitempty"`
	Actor   int64  `json:"actor,omitempty"`
	Revoked int64  `json:"revoked,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// Metrics receives round counters. A nil Metrics is allowed.
type Metrics interface {
	RoundPosted(game string)
	TallyOutcome(game, outcome string)
	ScoreDelta(game string, amount int64, stealth bool)
}

type nopMetrics struct{}

func (nopMetrics) RoundPosted(string)             {}
func (nopMetrics) TallyOutcome(string, string)    {}
func (nopMetrics) ScoreDelta(string, int64, bool) {}

// Deps are the collaborators of one game instance.
type Deps struct {
	Gateway kit.Gateway
	Store   storage.Store
	Alts    *AltRegistry
	Clock   Clock
	Rand    Rand
	Runner  Runner
	Bus     eventbus.Bus
	Metrics Metrics
	Log     logx.Logger
}

// attempt describes how a tally attempt was invoked.
type attempt struct {
	// inline attempts run inside an admin command rather than as a
	// scheduled task and do not own the awaiting count.
	inline bool
	// keepRunning schedules follow-up work (retries, the next round).
	keepRunning bool
	// force skips the quorum and deferral gates.
	force bool
}

// Game is one trick-or-treat instance: the round scheduler plus the stores
// and tally engine it drives.
type Game struct {
	cfg     Config
	gw      kit.Gateway
	scores  *ScoreStore
	pointer *Pointer
	tally   *TallyEngine
	clock   Clock
	rng     Rand
	run     Runner
	bus     eventbus.Bus
	metrics Metrics
	log     logx.Logger
	guard   *guard

	mu      sync.Mutex
	enabled bool
	// pending counts scheduled post/tally tasks; nonzero is the awaiting flag.
	pending      int
	lastActivity time.Time
	channel      kit.ChatTarget
}

func New(cfg Config, d Deps) (*Game, error) {
	if d.Gateway == nil {
		return nil, errors.New("game: gateway is required")
	}
	if d.Store == nil {
		return nil, errors.New("game: store is required")
	}
	if d.Runner == nil {
		return nil, errors.New("game: runner is required")
	}
	if d.Clock == nil {
		d.Clock = SystemClock()
	}
	if d.Rand == nil {
		d.Rand = NewRand(0)
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	log := d.Log.With(logx.Game(cfg.ID))
	return &Game{
		cfg:     cfg,
		gw:      d.Gateway,
		scores:  NewScoreStore(d.Store, cfg.ID, cfg.Season, cfg.StartScore),
		pointer: NewPointer(d.Store, cfg.ID),
		tally:   NewTallyEngine(cfg, d.Gateway, d.Alts, d.Rand, log),
		clock:   d.Clock,
		rng:     d.Rand,
		run:     d.Runner,
		bus:     d.Bus,
		metrics: d.Metrics,
		log:     log,
		guard:   newGuard(),
		enabled: cfg.Enabled,
	}, nil
}

func (g *Game) ID() string          { return g.cfg.ID }
func (g *Game) Config() Config      { return g.cfg }
func (g *Game) Scores() *ScoreStore { return g.scores }
func (g *Game) Pointer() *Pointer   { return g.pointer }

func (g *Game) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Awaiting reports whether a post or tally task is scheduled.
func (g *Game) Awaiting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending > 0
}

// SetEnabled toggles the game. Scheduled tasks observe the change when they
// wake.
func (g *Game) SetEnabled(on bool) {
	g.mu.Lock()
	changed := g.enabled != on
	g.enabled = on
	g.mu.Unlock()
	if changed {
		g.log.Info("game toggled", logx.Bool("enabled", on))
		g.publish(EventToggled, RoundEvent{Enabled: &on})
	}
}

// OnExternalMessage is called for every inbound channel message not sent by
// the bot.
func (g *Game) OnExternalMessage(ctx context.Context) error { return g.EnsureRunning(ctx) }

// OnExternalReaction is called for reaction updates.
func (g *Game) OnExternalReaction(ctx context.Context) error { return g.EnsureRunning(ctx) }

// OnTick is the periodic idle check.
func (g *Game) OnTick(ctx context.Context) error { return g.EnsureRunning(ctx) }

// EnsureRunning resumes a persisted round or schedules a new one after the
// idle threshold. Repeated calls while work is scheduled are no-ops.
func (g *Game) EnsureRunning(ctx context.Context) error {
	g.mu.Lock()
	if !g.enabled || g.pending > 0 {
		g.mu.Unlock()
		return nil
	}
	ptr, err := g.pointer.Get(ctx)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	switch {
	case ptr != 0:
		g.spawnLocked("tally", func(ctx context.Context) {
			g.attemptTally(ctx, g.cfg.RecoveryDelay, ptr, attempt{keepRunning: true})
		})
		g.mu.Unlock()
		g.log.Debug("resuming round", logx.Round(int64(ptr)))
	case g.lastActivity.IsZero() || g.clock.Now().Sub(g.lastActivity) > g.cfg.IdleThreshold:
		delay := window(g.rng, g.cfg.PostDelayMin, g.cfg.PostDelayMax)
		g.spawnLocked("post", func(ctx context.Context) {
			g.postRound(ctx, delay)
		})
		g.mu.Unlock()
		g.log.Debug("round post scheduled", logx.Duration("delay", delay))
	default:
		g.mu.Unlock()
	}
	return nil
}

// spawnLocked schedules fn as a counted task. g.mu must be held.
func (g *Game) spawnLocked(name string, fn func(ctx context.Context)) {
	g.pending++
	g.run.Go0(g.cfg.ID+"."+name, func(ctx context.Context) {
		defer func() {
			g.mu.Lock()
			g.pending--
			g.mu.Unlock()
		}()
		fn(ctx)
	})
}

// scheduleTally retries roundID later. Inline callers only schedule when
// nothing else is pending, so a forced retry never duplicates the attempt
// already sleeping on the same round.
func (g *Game) scheduleTally(a attempt, roundID kit.MessageID) {
	if !a.keepRunning || !g.Enabled() {
		return
	}
	delay := window(g.rng, g.cfg.TallyDelayMin, g.cfg.TallyDelayMax)
	g.mu.Lock()
	defer g.mu.Unlock()
	if a.inline && g.pending > 0 {
		return
	}
	g.spawnLocked("tally", func(ctx context.Context) {
		g.attemptTally(ctx, delay, roundID, attempt{keepRunning: true})
	})
}

// schedulePost queues the next round once the active one is gone. Pending
// tallies can only target the round just cleared and abort as stale, so the
// post is queued even when an inline caller finds work pending.
func (g *Game) schedulePost(a attempt) {
	if !a.keepRunning || !g.Enabled() {
		return
	}
	delay := window(g.rng, g.cfg.PostDelayMin, g.cfg.PostDelayMax)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spawnLocked("post", func(ctx context.Context) {
		g.postRound(ctx, delay)
	})
}

// Channel resolves the configured game channel.
func (g *Game) Channel(ctx context.Context) (kit.ChatTarget, error) { return g.resolveChannel(ctx) }

func (g *Game) resolveChannel(ctx context.Context) (kit.ChatTarget, error) {
	g.mu.Lock()
	ch := g.channel
	g.mu.Unlock()
	if !ch.IsZero() {
		return ch, nil
	}
	ch, err := g.gw.FindChannel(ctx, g.cfg.Channel)
	if err != nil {
		return kit.ChatTarget{}, err
	}
	g.mu.Lock()
	g.channel = ch
	g.mu.Unlock()
	return ch, nil
}

// postRound waits delay, then posts the prompt unless a round is already
// active, and schedules the first tally attempt on it.
func (g *Game) postRound(ctx context.Context, delay time.Duration) {
	if err := g.clock.Sleep(ctx, delay); err != nil {
		return
	}
	if err := g.guard.Acquire(ctx); err != nil {
		return
	}
	defer g.guard.Release()

	if !g.Enabled() {
		g.log.Debug("post skipped: game disabled")
		return
	}
	ptr, err := g.pointer.Get(ctx)
	if err != nil {
		g.log.Error("post aborted", logx.Err(err))
		return
	}
	if ptr != 0 {
		g.log.Debug("post skipped: round already active", logx.Round(int64(ptr)))
		return
	}
	ch, err := g.resolveChannel(ctx)
	if err != nil {
		g.log.Warn("post aborted: channel lookup failed", logx.String("channel", g.cfg.Channel), logx.Err(err))
		return
	}
	id, err := g.gw.Send(ctx, ch, g.cfg.Prompt, nil)
	if err != nil {
		g.log.Warn("post aborted: send failed", logx.Err(err))
		return
	}
	if err := g.pointer.Set(ctx, id); err != nil {
		g.log.Error("post aborted", logx.Round(int64(id)), logx.Err(err))
		return
	}
	for _, m := range []kit.Marker{g.cfg.Trick, g.cfg.Treat} {
		if err := g.gw.AddReaction(ctx, ch, id, m); err != nil {
			g.log.Warn("add choice reaction failed", logx.String("marker", m.Key()), logx.Err(err))
		}
	}
	g.metrics.RoundPosted(g.cfg.ID)
	g.publish(EventPosted, RoundEvent{RoundID: int64(id)})
	g.log.Info("round posted", logx.Round(int64(id)))

	g.scheduleTally(attempt{keepRunning: true}, id)
}

// attemptTally waits delay, then tallies roundID if it is still the active
// round. It reports the outcome for inline callers; stale or failed
// attempts report ok=false.
func (g *Game) attemptTally(ctx context.Context, delay time.Duration, roundID kit.MessageID, a attempt) (Tally, bool) {
	if err := g.clock.Sleep(ctx, delay); err != nil {
		return Tally{}, false
	}
	if err := g.guard.Acquire(ctx); err != nil {
		return Tally{}, false
	}
	defer g.guard.Release()

	log := g.log.With(logx.Round(int64(roundID)))
	if !a.force && !g.Enabled() {
		log.Debug("tally skipped: game disabled")
		return Tally{}, false
	}
	ptr, err := g.pointer.Get(ctx)
	if err != nil {
		log.Error("tally aborted", logx.Err(err))
		return Tally{}, false
	}
	if roundID == 0 || ptr != roundID {
		log.Debug("tally skipped: stale round", logx.Int64("active", int64(ptr)))
		return Tally{}, false
	}

	ch, err := g.resolveChannel(ctx)
	if err != nil {
		log.Warn("tally retry: channel lookup failed", logx.Err(err))
		g.scheduleTally(a, roundID)
		return Tally{}, false
	}
	msg, ok, err := g.gw.FetchMessage(ctx, ch, roundID)
	if err != nil {
		log.Warn("tally retry: fetch failed", logx.Err(err))
		g.scheduleTally(a, roundID)
		return Tally{}, false
	}
	if !ok {
		g.publish(EventAbandoned, RoundEvent{RoundID: int64(roundID)})
		if !a.keepRunning || !g.Enabled() {
			log.Info("round message missing; pointer left for recovery")
			return Tally{}, false
		}
		if err := g.pointer.Clear(ctx); err != nil {
			log.Error("abandon aborted", logx.Err(err))
			return Tally{}, false
		}
		log.Info("round message missing; posting replacement")
		g.schedulePost(a)
		return Tally{}, false
	}

	t, err := g.tally.Evaluate(ctx, ch, msg, a.force)
	if err != nil {
		log.Warn("tally retry: evaluate failed", logx.Err(err))
		g.scheduleTally(a, roundID)
		return Tally{}, false
	}
	g.metrics.TallyOutcome(g.cfg.ID, t.Outcome.String())

	if t.Outcome != Finalize {
		log.Debug("tally rescheduled", logx.String("outcome", t.Outcome.String()), logx.Int64("revoked", int64(t.Revoked)))
		g.publish(EventDeferred, RoundEvent{RoundID: int64(roundID), Outcome: t.Outcome.String(), Revoked: int64(t.Revoked)})
		g.scheduleTally(a, roundID)
		return t, true
	}

	lines, err := t.Result.Apply(ctx, g.scores)
	if err != nil {
		log.Error("finalize aborted: score update failed", logx.Err(err))
		return Tally{}, false
	}
	for _, d := range t.Result.Deltas {
		if d.Amount != 0 {
			g.metrics.ScoreDelta(g.cfg.ID, d.Amount, d.Stealth)
		}
	}
	if err := g.pointer.Clear(ctx); err != nil {
		log.Error("finalize: pointer clear failed", logx.Err(err))
		return Tally{}, false
	}
	g.mu.Lock()
	g.lastActivity = g.clock.Now()
	g.mu.Unlock()

	if _, err := g.gw.Send(ctx, ch, t.Result.Text, nil); err != nil {
		log.Warn("announce failed", logx.Err(err))
	}
	if len(lines) > 0 {
		if _, err := g.gw.Send(ctx, ch, strings.Join(lines, "\n"), &kit.SendOptions{Preformatted: true}); err != nil {
			log.Warn("summary send failed", logx.Err(err))
		}
	}
	g.publish(EventFinalized, RoundEvent{RoundID: int64(roundID), Outcome: t.Outcome.String(), Text: t.Result.Text})
	log.Info("round finalized",
		logx.Int("trick", t.Result.Trick),
		logx.Int("treat", t.Result.Treat),
		logx.Int("voters", t.Result.Voters),
		logx.Int("delta", t.Result.Delta),
	)

	g.schedulePost(a)
	return t, true
}

func (g *Game) publish(typ string, ev RoundEvent) {
	if g.bus == nil {
		return
	}
	ev.Game = g.cfg.ID
	g.bus.Publish(eventbus.Event{Type: typ, Time: g.clock.Now(), Data: ev})
}
