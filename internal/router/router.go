// Package router turns gateway updates into game triggers and admin command
// invocations.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"spookbot/internal/game"
	rtsup "spookbot/internal/runtime/supervisor"
	kit "spookbot/internal/transport"
	logx "spookbot/pkg/logx"
)

const defaultCommandTimeout = 30 * time.Second

// Metrics receives router counters. A nil Metrics is allowed.
type Metrics interface {
	CommandHandled(command, result string)
	UpdateReceived(kind string)
}

type nopMetrics struct{}

func (nopMetrics) CommandHandled(string, string) {}
func (nopMetrics) UpdateReceived(string)         {}

// Request is one routed command invocation.
type Request struct {
	Chat    kit.ChatTarget
	Caller  kit.UserID
	Command string
	GameID  string
	Args    []string
	ReqID   string
	Logger  logx.Logger
}

// Router dispatches updates to the configured games.
type Router struct {
	gw      kit.Gateway
	log     logx.Logger
	metrics Metrics
	timeout time.Duration

	// catalog is the command surface shared by every game, by name. It is
	// fixed at construction.
	catalog map[string]game.Command

	mu     sync.RWMutex
	games  []*game.Game
	admins map[kit.UserID]struct{}

	jobs chan func()
}

type Option func(*Router)

func WithLogger(log logx.Logger) Option { return func(r *Router) { r.log = log } }
func WithMetrics(m Metrics) Option      { return func(r *Router) { r.metrics = m } }

// WithCommandTimeout bounds each command invocation (0 keeps the default).
func WithCommandTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func New(gw kit.Gateway, games []*game.Game, admins []int64, opts ...Option) *Router {
	r := &Router{
		gw:      gw,
		metrics: nopMetrics{},
		timeout: defaultCommandTimeout,
		games:   append([]*game.Game(nil), games...),
		catalog: map[string]game.Command{},
		jobs:    make(chan func(), 256),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	if len(games) > 0 {
		for _, c := range games[0].Commands() {
			r.catalog[c.Name] = c
		}
	}
	r.SetAdmins(admins)
	return r
}

// SetAdmins replaces the admin list. Safe to call during hot-reload.
func (r *Router) SetAdmins(ids []int64) {
	set := make(map[kit.UserID]struct{}, len(ids))
	for _, id := range ids {
		set[kit.UserID(id)] = struct{}{}
	}
	r.mu.Lock()
	r.admins = set
	r.mu.Unlock()
}

// IsAdmin implements game.Authorizer.
func (r *Router) IsAdmin(_ context.Context, user kit.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[user]
	return ok
}

func (r *Router) gamesSnapshot() []*game.Game {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*game.Game(nil), r.games...)
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx is done or updates is closed.
// Commands run on a bounded worker pool; game triggers run inline.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "router"))),
		rtsup.WithCancelOnError(false),
	)
	r.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, 200*time.Millisecond, 5*time.Second)
	}

	defer func() {
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

// Route handles one update. Command jobs are queued for the worker pool.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	r.metrics.UpdateReceived(string(up.Kind))
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil || up.Message.FromID == r.gw.Self() {
			return
		}
		if r.routeCommand(ctx, up.Message) {
			return
		}
		r.trigger(ctx, up.Message.Chat, (*game.Game).OnExternalMessage)
	case kit.UpdateReaction:
		if up.Reaction == nil || up.Reaction.UserID == r.gw.Self() {
			return
		}
		r.trigger(ctx, up.Reaction.Chat, (*game.Game).OnExternalReaction)
	}
}

// trigger pokes every game played in chat.
func (r *Router) trigger(ctx context.Context, chat kit.ChatTarget, fn func(*game.Game, context.Context) error) {
	for _, g := range r.gamesSnapshot() {
		ch, err := g.Channel(ctx)
		if err != nil || ch.ChatID != chat.ChatID {
			continue
		}
		if err := fn(g, ctx); err != nil {
			r.log.Warn("game trigger failed", logx.Game(g.ID()), logx.Err(err))
		}
	}
}

func (r *Router) routeCommand(ctx context.Context, msg *kit.InboundMessage) bool {
	parts := tokenizeCommandLine(msg.Text)
	if len(parts) == 0 {
		return false
	}
	name, ok := commandWord(parts[0])
	if !ok {
		return false
	}
	args := parts[1:]

	if name == "help" {
		r.reply(ctx, msg.Chat, []game.Reply{{Text: r.helpText(), Preformatted: true}})
		return true
	}
	c, known := r.catalog[name]
	if !known {
		// Unknown commands are ordinary chat traffic.
		return false
	}

	g, args, problem := r.selectGame(ctx, msg.Chat, args)
	if g == nil {
		r.reply(ctx, msg.Chat, []game.Reply{{Text: problem}})
		return true
	}
	rid := newReqID()
	req := &Request{
		Chat:    msg.Chat,
		Caller:  msg.FromID,
		Command: c.Name,
		GameID:  g.ID(),
		Args:    args,
		ReqID:   rid,
		Logger:  r.log.With(logx.String("rid", rid), logx.String("cmd", c.Name), logx.Game(g.ID())),
	}
	handle := r.commandHandler(g, c.Name)
	final := Chain(handle, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(r.timeout))
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		r.reply(ctx, msg.Chat, []game.Reply{{Text: "Busy, try again."}})
	}
	return true
}

func (r *Router) commandHandler(g *game.Game, name string) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		var cmd game.Command
		for _, c := range g.Commands() {
			if c.Name == name {
				cmd = game.Authorize(r, g, c)
				break
			}
		}
		if cmd.Run == nil {
			return fmt.Errorf("game %s has no command %q", g.ID(), name)
		}
		replies, err := cmd.Run(ctx, game.Request{Chat: req.Chat, Caller: req.Caller, Args: req.Args})
		r.metrics.CommandHandled(name, resultLabel(err))
		if err != nil {
			r.reply(ctx, req.Chat, []game.Reply{{Text: userMessage(err)}})
			if errors.Is(err, game.ErrUnauthorized) || errors.Is(err, game.ErrBadInput) || errors.Is(err, game.ErrWrongChannel) {
				return nil
			}
			return err
		}
		r.reply(ctx, req.Chat, replies)
		return nil
	}
}

// selectGame picks the target game: an explicit game id as first argument,
// then the game played in chat, then the only configured game. On failure
// it returns the text to answer with.
func (r *Router) selectGame(ctx context.Context, chat kit.ChatTarget, args []string) (*game.Game, []string, string) {
	games := r.gamesSnapshot()
	if len(games) == 0 {
		return nil, args, "No game is configured."
	}
	if len(args) > 0 {
		for _, g := range games {
			if g.ID() == args[0] {
				return g, args[1:], ""
			}
		}
	}
	for _, g := range games {
		if ch, err := g.Channel(ctx); err == nil && ch.ChatID == chat.ChatID {
			return g, args, ""
		}
	}
	if len(games) == 1 {
		return games[0], args, ""
	}
	ids := make([]string, len(games))
	for i, g := range games {
		ids[i] = g.ID()
	}
	sort.Strings(ids)
	return nil, args, fmt.Sprintf("Several games are configured; name one first: %s.", strings.Join(ids, ", "))
}

func (r *Router) reply(ctx context.Context, chat kit.ChatTarget, replies []game.Reply) {
	for _, rep := range replies {
		to := rep.To
		if to.IsZero() {
			to = chat
		}
		opt := &kit.SendOptions{Preformatted: rep.Preformatted, DisablePreview: true}
		if _, err := r.gw.Send(ctx, to, rep.Text, opt); err != nil {
			r.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		}
	}
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, game.ErrUnauthorized):
		return "You are not allowed to do that."
	case errors.Is(err, game.ErrBadInput), errors.Is(err, game.ErrWrongChannel):
		return capitalize(err.Error()) + "."
	default:
		return "Command failed."
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, game.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, game.ErrBadInput):
		return "bad_input"
	case errors.Is(err, game.ErrWrongChannel):
		return "wrong_channel"
	default:
		return "error"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
