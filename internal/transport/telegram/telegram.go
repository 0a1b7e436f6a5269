// Package telegram is the Telegram Bot API transport.Driver.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "spookbot/internal/runtime/supervisor"
	"spookbot/internal/storage"
	kit "spookbot/internal/transport"
	logx "spookbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// LogChannel receives forwarded log lines (SendLog).
	LogChannel string
	RatePerSec int
	// Store holds the reaction ledger. Nil keeps it in memory.
	Store storage.Store
}

// api is the subset of *tele.Bot the driver calls.
type api interface {
	Raw(method string, payload interface{}) ([]byte, error)
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	ChatByUsername(name string) (*tele.Chat, error)
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
}

type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     api
	self    kit.UserID
	limiter *rate.Limiter
	ledger  *ledger

	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	offset  int64

	droppedUpdates uint64

	mu       sync.Mutex
	channels map[string]kit.ChatTarget
	names    map[kit.UserID]string
}

var _ kit.Driver = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	var self kit.UserID
	if b.Me != nil {
		self = kit.UserID(b.Me.ID)
	}
	return newAdapter(cfg, b, self, log), nil
}

func newAdapter(cfg Config, bot api, self kit.UserID, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	a := &Adapter{
		cfg:      cfg,
		log:      log,
		bot:      bot,
		self:     self,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		ledger:   newLedger(cfg.Store),
		channels: map[string]kit.ChatTarget{},
		names:    map[kit.UserID]string{},
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a
}

func (a *Adapter) Self() kit.UserID { return a.self }

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.GoRestart("telegram.poll", a.pollLoop, 500*time.Millisecond, 10*time.Second)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))
	sup.Cancel()

	// getUpdates may still be parked in its long poll.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) pollLoop(ctx context.Context) error {
	a.log.Info("polling started")
	defer a.log.Info("polling stopped")
	for ctx.Err() == nil {
		ups, err := a.getUpdates()
		if err != nil {
			return fmt.Errorf("getUpdates: %w", err)
		}
		for _, u := range ups {
			if u.UpdateID >= a.offset {
				a.offset = u.UpdateID + 1
			}
			a.handle(ctx, u)
		}
	}
	return ctx.Err()
}

func (a *Adapter) getUpdates() ([]wireUpdate, error) {
	payload := map[string]interface{}{
		"offset":          a.offset,
		"timeout":         int(a.cfg.PollTimeout / time.Second),
		"allowed_updates": []string{"message", "message_reaction"},
	}
	var ups []wireUpdate
	if err := a.raw("getUpdates", payload, &ups); err != nil {
		return nil, err
	}
	return ups, nil
}

func (a *Adapter) raw(method string, payload interface{}, result interface{}) error {
	data, err := a.bot.Raw(method, payload)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, result)
}

func (a *Adapter) handle(ctx context.Context, u wireUpdate) {
	switch {
	case u.Message != nil:
		m := u.Message
		if m.Text == "" {
			return
		}
		var from kit.UserID
		var name string
		if m.From != nil {
			from = kit.UserID(m.From.ID)
			name = m.From.displayName()
			a.rememberName(from, name)
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.InboundMessage{
				ID:       kit.MessageID(m.MessageID),
				Chat:     kit.ChatTarget{ChatID: m.Chat.ID, ThreadID: m.ThreadID, Name: m.Chat.Title},
				FromID:   from,
				FromName: name,
				Text:     m.Text,
			},
		})
	case u.MessageReaction != nil:
		r := u.MessageReaction
		if r.User == nil {
			// Anonymous admin reactions carry no user.
			return
		}
		user := kit.UserID(r.User.ID)
		a.rememberName(user, r.User.displayName())
		added, removed := diffMarkers(markersFromWire(r.OldReaction), markersFromWire(r.NewReaction))
		if user != a.self {
			if _, err := a.ledger.update(ctx, r.Chat.ID, kit.MessageID(r.MessageID), false, func(e *ledgerEntry) {
				for _, m := range removed {
					e.removeUser(m, user)
				}
				for _, m := range added {
					e.addUser(m, user)
				}
			}); err != nil {
				a.log.Warn("reaction ledger update failed", logx.Chat(r.Chat.ID), logx.Int64("message", r.MessageID), logx.Err(err))
			}
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateReaction,
			Reaction: &kit.InboundReaction{
				Chat:      kit.ChatTarget{ChatID: r.Chat.ID, Name: r.Chat.Title},
				MessageID: kit.MessageID(r.MessageID),
				UserID:    user,
				Added:     added,
				Removed:   removed,
			},
		})
	}
}

func (a *Adapter) rememberName(id kit.UserID, name string) {
	if id == 0 || name == "" {
		return
	}
	a.mu.Lock()
	a.names[id] = name
	a.mu.Unlock()
}

// FindChannel resolves a numeric chat id or an "@username" reference.
func (a *Adapter) FindChannel(ctx context.Context, ref string) (kit.ChatTarget, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return kit.ChatTarget{}, errors.New("empty channel reference")
	}
	a.mu.Lock()
	ch, ok := a.channels[ref]
	a.mu.Unlock()
	if ok {
		return ch, nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id != 0 {
		ch = kit.ChatTarget{ChatID: id, Name: ref}
	} else {
		if !strings.HasPrefix(ref, "@") {
			return kit.ChatTarget{}, fmt.Errorf("channel %q: want a chat id or @username", ref)
		}
		if err := ctx.Err(); err != nil {
			return kit.ChatTarget{}, err
		}
		c, err := a.bot.ChatByUsername(ref)
		if err != nil {
			return kit.ChatTarget{}, fmt.Errorf("channel %q: %w", ref, err)
		}
		ch = kit.ChatTarget{ChatID: c.ID, Name: ref}
	}
	a.mu.Lock()
	a.channels[ref] = ch
	a.mu.Unlock()
	return ch, nil
}

const telegramTextLimit = 4000

func (a *Adapter) Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageID, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	var parseMode tele.ParseMode
	chunks := splitTelegramText(text, telegramTextLimit)
	if opt.Preformatted {
		parseMode = tele.ModeHTML
		for i, c := range chunks {
			chunks[i] = preformat(c)
		}
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageID
	for _, chunk := range chunks {
		if err := a.limiter.Wait(ctx); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             parseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if first == 0 {
			first = kit.MessageID(msg.ID)
		}
	}
	return first, nil
}

// SendLog forwards a rendered log line to the configured log channel.
func (a *Adapter) SendLog(ctx context.Context, text string) error {
	if a.cfg.LogChannel == "" {
		return nil
	}
	ch, err := a.FindChannel(ctx, a.cfg.LogChannel)
	if err != nil {
		return err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = a.bot.Send(&tele.Chat{ID: ch.ChatID}, preformat(text), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              ch.ThreadID,
	})
	return err
}

func preformat(s string) string {
	return "<pre>" + html.EscapeString(s) + "</pre>"
}

// FetchMessage reports the ledger view of a message the bot reacted to. The
// Bot API cannot read messages back, so existence is probed by re-applying
// the bot's own reaction.
func (a *Adapter) FetchMessage(ctx context.Context, ch kit.ChatTarget, id kit.MessageID) (*kit.Message, bool, error) {
	e, ok, err := a.ledger.get(ctx, ch.ChatID, id)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := a.setReaction(ctx, ch, id, e.mine()); err != nil {
		if isMessageGone(err) {
			a.log.Debug("message gone", logx.Chat(ch.ChatID), logx.Int64("message", int64(id)), logx.Err(err))
			if derr := a.ledger.drop(ctx, ch.ChatID, id); derr != nil {
				a.log.Warn("reaction ledger drop failed", logx.Err(derr))
			}
			return nil, false, nil
		}
		return nil, false, err
	}
	msg := e.message()
	msg.Chat = ch
	return msg, true, nil
}

func (a *Adapter) AddReaction(ctx context.Context, ch kit.ChatTarget, id kit.MessageID, m kit.Marker) error {
	var mine []kit.Marker
	if _, err := a.ledger.update(ctx, ch.ChatID, id, true, func(e *ledgerEntry) {
		// Bots hold at most one reaction per message.
		for _, lm := range e.Markers {
			lm.Mine = false
		}
		e.mark(m).Mine = true
		for _, lm := range e.Markers {
			e.prune(lm)
		}
		mine = e.mine()
	}); err != nil {
		return err
	}
	return a.setReaction(ctx, ch, id, mine)
}

// RemoveReaction drops user's vote from the ledger. Bots cannot retract
// another user's reaction, so the marker stays visible on the message.
func (a *Adapter) RemoveReaction(ctx context.Context, ch kit.ChatTarget, id kit.MessageID, m kit.Marker, user kit.UserID) error {
	if user == a.self {
		return a.ClearReaction(ctx, ch, id, m)
	}
	_, err := a.ledger.update(ctx, ch.ChatID, id, false, func(e *ledgerEntry) { e.removeUser(m, user) })
	if err == nil {
		a.log.Debug("reaction dropped from ledger", logx.User(int64(user)), logx.String("marker", m.Key()))
	}
	return err
}

func (a *Adapter) ClearReaction(ctx context.Context, ch kit.ChatTarget, id kit.MessageID, m kit.Marker) error {
	var mine []kit.Marker
	var wasMine bool
	ok, err := a.ledger.update(ctx, ch.ChatID, id, false, func(e *ledgerEntry) {
		if lm, ok := e.Markers[markerIdent(m)]; ok {
			wasMine = lm.Mine
			delete(e.Markers, lm.Key)
		}
		mine = e.mine()
	})
	if err != nil || !ok || !wasMine {
		return err
	}
	return a.setReaction(ctx, ch, id, mine)
}

func (a *Adapter) ListReactors(ctx context.Context, ch kit.ChatTarget, id kit.MessageID, m kit.Marker) ([]kit.UserID, error) {
	e, ok, err := a.ledger.get(ctx, ch.ChatID, id)
	if err != nil || !ok {
		return nil, err
	}
	return e.users(m), nil
}

func (a *Adapter) setReaction(ctx context.Context, ch kit.ChatTarget, id kit.MessageID, mine []kit.Marker) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	reactions := []wireReactionType{}
	if len(mine) > 0 {
		reactions = append(reactions, markerToWire(mine[0]))
	}
	return a.raw("setMessageReaction", map[string]interface{}{
		"chat_id":    ch.ChatID,
		"message_id": int64(id),
		"reaction":   reactions,
	}, nil)
}

func isMessageGone(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "message to react not found") ||
		strings.Contains(s, "message_id_invalid") ||
		strings.Contains(s, "message not found")
}

func (a *Adapter) ResolveMember(ctx context.Context, ch kit.ChatTarget, user kit.UserID) (kit.Member, error) {
	a.mu.Lock()
	name, ok := a.names[user]
	a.mu.Unlock()
	if ok {
		return kit.Member{ID: user, DisplayName: name}, nil
	}
	if err := ctx.Err(); err != nil {
		return kit.Member{}, err
	}
	cm, err := a.bot.ChatMemberOf(&tele.Chat{ID: ch.ChatID}, &tele.User{ID: int64(user)})
	if err != nil {
		return kit.Member{}, err
	}
	if cm == nil || cm.User == nil {
		return kit.Member{ID: user}, nil
	}
	wu := &wireUser{ID: cm.User.ID, FirstName: cm.User.FirstName, LastName: cm.User.LastName, Username: cm.User.Username}
	name = wu.displayName()
	a.rememberName(user, name)
	return kit.Member{ID: user, DisplayName: name}, nil
}

// splitTelegramText splits long messages into chunks that fit one Telegram
// message, preferring newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
