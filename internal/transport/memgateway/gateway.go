// Package memgateway is an in-process transport.Driver.
//
// It backs the "memory" gateway driver (dry runs without a chat platform) and
// is the fake used by engine tests.
package memgateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	kit "spookbot/internal/transport"
)

const selfID kit.UserID = 1

type message struct {
	msg      kit.Message
	reactors map[string][]kit.UserID // marker key -> users (excluding bot)
	mine     map[string]bool
	markers  map[string]kit.Marker
}

// Sent records one outbound Send call.
type Sent struct {
	ID   kit.MessageID
	Chat kit.ChatTarget
	Text string
	Opt  kit.SendOptions
}

type Gateway struct {
	mu       sync.Mutex
	nextID   kit.MessageID
	channels map[string]kit.ChatTarget
	messages map[kit.MessageID]*message
	members  map[kit.UserID]string
	sent     []Sent

	out chan<- kit.Update

	// FailRemove makes RemoveReaction/ClearReaction fail, for cleanup paths.
	FailRemove bool
}

func New() *Gateway {
	return &Gateway{
		nextID:   1000,
		channels: map[string]kit.ChatTarget{},
		messages: map[kit.MessageID]*message{},
		members:  map[kit.UserID]string{},
	}
}

// AddChannel registers a channel reference.
func (g *Gateway) AddChannel(ref string, chatID int64) kit.ChatTarget {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := kit.ChatTarget{ChatID: chatID, Name: ref}
	g.channels[ref] = ch
	return ch
}

// SetMember sets the display name ResolveMember returns for id.
func (g *Gateway) SetMember(id kit.UserID, name string) {
	g.mu.Lock()
	g.members[id] = name
	g.mu.Unlock()
}

func (g *Gateway) Self() kit.UserID { return selfID }

func (g *Gateway) FindChannel(ctx context.Context, ref string) (kit.ChatTarget, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.channels[ref]; ok {
		return ch, nil
	}
	if id, err := strconv.ParseInt(strings.TrimSpace(ref), 10, 64); err == nil && id != 0 {
		return kit.ChatTarget{ChatID: id, Name: ref}, nil
	}
	return kit.ChatTarget{}, fmt.Errorf("channel %q not found", ref)
}

func (g *Gateway) Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.messages[id] = &message{
		msg:      kit.Message{ID: id, Chat: to, Text: text},
		reactors: map[string][]kit.UserID{},
		mine:     map[string]bool{},
		markers:  map[string]kit.Marker{},
	}
	s := Sent{ID: id, Chat: to, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	g.sent = append(g.sent, s)
	return id, nil
}

func (g *Gateway) FetchMessage(ctx context.Context, ch kit.ChatTarget, id kit.MessageID) (*kit.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.messages[id]
	if !ok {
		return nil, false, nil
	}
	out := m.msg
	keys := make([]string, 0, len(m.markers))
	for k := range m.markers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n := len(m.reactors[k])
		if m.mine[k] {
			n++
		}
		if n == 0 {
			continue
		}
		out.Reactions = append(out.Reactions, kit.ReactionCount{Marker: m.markers[k], Count: n, Me: m.mine[k]})
	}
	return &out, true, nil
}

func (g *Gateway) AddReaction(ctx context.Context, ch kit.ChatTarget, id kit.MessageID, mk kit.Marker) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.messages[id]
	if !ok {
		return errors.New("message not found")
	}
	m.markers[mk.Key()] = mk
	m.mine[mk.Key()] = true
	return nil
}

func (g *Gateway) RemoveReaction(ctx context.Context, ch kit.ChatTarget, id kit.MessageID, mk kit.Marker, user kit.UserID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailRemove {
		return errors.New("remove reaction: forbidden")
	}
	m, ok := g.messages[id]
	if !ok {
		return errors.New("message not found")
	}
	users := m.reactors[mk.Key()]
	for i, u := range users {
		if u == user {
			m.reactors[mk.Key()] = append(users[:i:i], users[i+1:]...)
			break
		}
	}
	return nil
}

func (g *Gateway) ClearReaction(ctx context.Context, ch kit.ChatTarget, id kit.MessageID, mk kit.Marker) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailRemove {
		return errors.New("clear reaction: forbidden")
	}
	m, ok := g.messages[id]
	if !ok {
		return errors.New("message not found")
	}
	delete(m.reactors, mk.Key())
	delete(m.mine, mk.Key())
	delete(m.markers, mk.Key())
	return nil
}

func (g *Gateway) ListReactors(ctx context.Context, ch kit.ChatTarget, id kit.MessageID, mk kit.Marker) ([]kit.UserID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.messages[id]
	if !ok {
		return nil, errors.New("message not found")
	}
	return append([]kit.UserID(nil), m.reactors[mk.Key()]...), nil
}

func (g *Gateway) ResolveMember(ctx context.Context, ch kit.ChatTarget, user kit.UserID) (kit.Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name, ok := g.members[user]
	if !ok {
		return kit.Member{}, fmt.Errorf("member %d not found", user)
	}
	return kit.Member{ID: user, DisplayName: name}, nil
}

func (g *Gateway) Start(ctx context.Context, out chan<- kit.Update) error {
	g.mu.Lock()
	g.out = out
	g.mu.Unlock()
	return nil
}

func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	g.out = nil
	g.mu.Unlock()
	return nil
}

// React records a user reaction and emits a reaction update if started.
func (g *Gateway) React(id kit.MessageID, mk kit.Marker, user kit.UserID) {
	g.mu.Lock()
	m, ok := g.messages[id]
	if ok {
		m.markers[mk.Key()] = mk
		m.reactors[mk.Key()] = append(m.reactors[mk.Key()], user)
	}
	out := g.out
	var chat kit.ChatTarget
	if ok {
		chat = m.msg.Chat
	}
	g.mu.Unlock()
	if ok && out != nil {
		select {
		case out <- kit.Update{Kind: kit.UpdateReaction, Reaction: &kit.InboundReaction{Chat: chat, MessageID: id, UserID: user, Added: []kit.Marker{mk}}}:
		default:
		}
	}
}

// Post emits an inbound text message update.
func (g *Gateway) Post(chat kit.ChatTarget, from kit.UserID, text string) {
	g.mu.Lock()
	out := g.out
	g.nextID++
	id := g.nextID
	g.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.InboundMessage{ID: id, Chat: chat, FromID: from, Text: text}}:
	default:
	}
}

// Delete removes a message as if deleted on the platform.
func (g *Gateway) Delete(id kit.MessageID) {
	g.mu.Lock()
	delete(g.messages, id)
	g.mu.Unlock()
}

// Sent returns a copy of every outbound message.
func (g *Gateway) Sent() []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Sent(nil), g.sent...)
}
