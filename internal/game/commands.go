package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	kit "spookbot/internal/transport"
	logx "spookbot/pkg/logx"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadInput     = errors.New("bad input")
	ErrWrongChannel = errors.New("command not available in this chat while the game is running")
)

// Authorizer decides who may run administrative commands.
type Authorizer interface {
	IsAdmin(ctx context.Context, user kit.UserID) bool
}

// AdminList authorizes a fixed set of user ids.
type AdminList []kit.UserID

func (a AdminList) IsAdmin(_ context.Context, user kit.UserID) bool {
	for _, id := range a {
		if id == user {
			return true
		}
	}
	return false
}

// Request is one administrative command invocation.
type Request struct {
	Chat   kit.ChatTarget
	Caller kit.UserID
	Args   []string
}

// Reply is the text a command answers with. A zero To answers in the
// invoking chat.
type Reply struct {
	Text         string
	Preformatted bool
	To           kit.ChatTarget
}

// Command is an administrative command exposed to the router.
type Command struct {
	Name        string
	Usage       string
	Description string
	Run         func(ctx context.Context, req Request) ([]Reply, error)
}

// Commands lists the administrative surface of the game.
func (g *Game) Commands() []Command {
	return []Command{
		{Name: "show-score", Usage: "show-score [user]", Description: "show a player's score", Run: g.ShowScore},
		{Name: "print-round-id", Usage: "print-round-id", Description: "print the active round id", Run: g.PrintRoundID},
		{Name: "rankings", Usage: "rankings", Description: "show the season rankings", Run: g.Rankings},
		{Name: "set-score", Usage: "set-score <value> [user]", Description: "overwrite a player's score", Run: g.SetScore},
		{Name: "force-tally", Usage: "force-tally", Description: "tally the active round now", Run: g.ForceTally},
		{Name: "end-game", Usage: "end-game", Description: "finish the active round and stop the game", Run: g.EndGame},
		{Name: "start-game", Usage: "start-game", Description: "resume a stopped game", Run: g.StartGame},
	}
}

// Accepts reports whether a command from chat may run. While the game is
// enabled only the game channel and the log channel qualify.
func (g *Game) Accepts(ctx context.Context, chat kit.ChatTarget) bool {
	if !g.Enabled() {
		return true
	}
	if ch, err := g.resolveChannel(ctx); err == nil && ch.ChatID == chat.ChatID {
		return true
	}
	if g.cfg.LogChannel == "" {
		return false
	}
	logCh, err := g.gw.FindChannel(ctx, g.cfg.LogChannel)
	return err == nil && logCh.ChatID == chat.ChatID
}

// Authorize wraps a command with the admin check and channel scoping.
func Authorize(auth Authorizer, g *Game, c Command) Command {
	run := c.Run
	c.Run = func(ctx context.Context, req Request) ([]Reply, error) {
		if auth == nil || !auth.IsAdmin(ctx, req.Caller) {
			return nil, ErrUnauthorized
		}
		if !g.Accepts(ctx, req.Chat) {
			return nil, ErrWrongChannel
		}
		return run(ctx, req)
	}
	return c
}

// parseUser reads an optional user id argument, defaulting to the caller.
func parseUser(args []string, caller kit.UserID) (kit.UserID, error) {
	if len(args) == 0 {
		return caller, nil
	}
	s := strings.TrimPrefix(strings.TrimSpace(args[0]), "#")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not a user id", ErrBadInput, args[0])
	}
	return kit.UserID(id), nil
}

func (g *Game) ShowScore(ctx context.Context, req Request) ([]Reply, error) {
	user, err := parseUser(req.Args, req.Caller)
	if err != nil {
		return nil, err
	}
	score, err := g.scores.Get(ctx, user)
	if err != nil {
		return nil, err
	}
	name := g.nameIn(ctx, req.Chat, user)
	return []Reply{{Text: fmt.Sprintf("%s has %d points.", name, score)}}, nil
}

func (g *Game) PrintRoundID(ctx context.Context, _ Request) ([]Reply, error) {
	ptr, err := g.pointer.Get(ctx)
	if err != nil {
		return nil, err
	}
	return []Reply{{Text: ptr.String()}}, nil
}

func (g *Game) SetScore(ctx context.Context, req Request) ([]Reply, error) {
	if len(req.Args) == 0 {
		return nil, fmt.Errorf("%w: usage: set-score <value> [user]", ErrBadInput)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(req.Args[0]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrBadInput, req.Args[0])
	}
	user, err := parseUser(req.Args[1:], req.Caller)
	if err != nil {
		return nil, err
	}
	if err := g.scores.Set(ctx, user, v); err != nil {
		return nil, err
	}
	g.log.Info("score overwritten", logx.User(int64(user)), logx.Int64("value", v), logx.Actor(int64(req.Caller)))
	return []Reply{{Text: fmt.Sprintf("Set score of %s to %d.", g.nameIn(ctx, req.Chat, user), v)}}, nil
}

// Rankings lists every stored score of the season, highest first. While the
// game runs the table goes to the game channel.
func (g *Game) Rankings(ctx context.Context, req Request) ([]Reply, error) {
	text, err := g.rankingTable(ctx, req.Chat)
	if err != nil {
		return nil, err
	}
	r := Reply{Text: text, Preformatted: true}
	if g.Enabled() {
		if ch, err := g.resolveChannel(ctx); err == nil {
			r.To = ch
		}
	}
	return []Reply{r}, nil
}

func (g *Game) rankingTable(ctx context.Context, chat kit.ChatTarget) (string, error) {
	all, err := g.scores.All(ctx)
	if err != nil {
		return "", err
	}
	type row struct {
		name  string
		score int64
	}
	rows := make([]row, 0, len(all))
	for id, score := range all {
		rows = append(rows, row{name: g.nameIn(ctx, chat, id), score: score})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].name > rows[j].name
	})
	if len(rows) == 0 {
		return "No scores yet.", nil
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = fmt.Sprintf("%s : %d", r.name, r.score)
	}
	return strings.Join(lines, "\n"), nil
}

// ForceTally runs a tally attempt on the active round immediately.
func (g *Game) ForceTally(ctx context.Context, req Request) ([]Reply, error) {
	ptr, err := g.pointer.Get(ctx)
	if err != nil {
		return nil, err
	}
	if ptr == 0 {
		return []Reply{{Text: "No active round."}}, nil
	}
	g.log.Info("forced tally", logx.Round(int64(ptr)), logx.Actor(int64(req.Caller)))
	t, ok := g.attemptTally(ctx, 0, ptr, attempt{inline: true, keepRunning: true})
	if !ok {
		return []Reply{{Text: fmt.Sprintf("Round %s was not tallied.", ptr)}}, nil
	}
	return []Reply{{Text: fmt.Sprintf("Round %s: %s.", ptr, t.Outcome)}}, nil
}

// EndGame force-finalizes the active round without scheduling another,
// disables the game and shows the rankings.
func (g *Game) EndGame(ctx context.Context, req Request) ([]Reply, error) {
	ptr, err := g.pointer.Get(ctx)
	if err != nil {
		return nil, err
	}
	if ptr != 0 {
		g.attemptTally(ctx, 0, ptr, attempt{inline: true, force: true})
	}
	g.SetEnabled(false)
	g.log.Info("game ended", logx.Actor(int64(req.Caller)))
	text, err := g.rankingTable(ctx, req.Chat)
	if err != nil {
		return nil, err
	}
	return []Reply{
		{Text: fmt.Sprintf("Game %s ended.", g.cfg.ID)},
		{Text: text, Preformatted: true},
	}, nil
}

// StartGame re-enables the game and kicks the scheduler.
func (g *Game) StartGame(ctx context.Context, req Request) ([]Reply, error) {
	if g.Enabled() {
		return []Reply{{Text: fmt.Sprintf("Game %s is already running.", g.cfg.ID)}}, nil
	}
	g.SetEnabled(true)
	g.mu.Lock()
	g.lastActivity = time.Time{}
	g.mu.Unlock()
	g.log.Info("game started", logx.Actor(int64(req.Caller)))
	if err := g.EnsureRunning(ctx); err != nil {
		return nil, err
	}
	return []Reply{{Text: fmt.Sprintf("Game %s started.", g.cfg.ID)}}, nil
}

func (g *Game) nameIn(ctx context.Context, chat kit.ChatTarget, id kit.UserID) string {
	if ch, err := g.resolveChannel(ctx); err == nil {
		chat = ch
	}
	return resolveName(ctx, g.gw, chat, id)
}
