package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"spookbot/internal/storage"
	kit "spookbot/internal/transport"
)

// The Bot API has no way to read a message's reactions back, so the driver
// keeps its own ledger of who reacted with what on every message the bot
// reacted to. Entries are created by AddReaction and live at rxn/<chat>/<message>.
type ledgerEntry struct {
	Chat    int64                  `json:"chat"`
	ID      int64                  `json:"id"`
	Markers map[string]*ledgerMark `json:"markers"`
}

type ledgerMark struct {
	Key   string       `json:"key"`
	Mine  bool         `json:"mine,omitempty"`
	Users []kit.UserID `json:"users,omitempty"`
}

type ledger struct {
	mu    sync.Mutex
	store storage.Store
}

func newLedger(store storage.Store) *ledger {
	if store == nil {
		store = storage.NewMemory()
	}
	return &ledger{store: store}
}

func ledgerKey(chat int64, id kit.MessageID) string {
	return fmt.Sprintf("rxn/%d/%d", chat, id)
}

func (l *ledger) load(ctx context.Context, chat int64, id kit.MessageID) (*ledgerEntry, bool, error) {
	b, ok, err := l.store.Get(ctx, ledgerKey(chat, id))
	if err != nil || !ok {
		return nil, false, err
	}
	var e ledgerEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, false, fmt.Errorf("decode reaction ledger: %w", err)
	}
	if e.Markers == nil {
		e.Markers = map[string]*ledgerMark{}
	}
	return &e, true, nil
}

func (l *ledger) save(ctx context.Context, e *ledgerEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return l.store.Put(ctx, ledgerKey(e.Chat, kit.MessageID(e.ID)), b)
}

// update applies fn to the entry. With create set a missing entry is started;
// otherwise missing entries are left alone and fn is not called.
func (l *ledger) update(ctx context.Context, chat int64, id kit.MessageID, create bool, fn func(e *ledgerEntry)) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok, err := l.load(ctx, chat, id)
	if err != nil {
		return false, err
	}
	if !ok {
		if !create {
			return false, nil
		}
		e = &ledgerEntry{Chat: chat, ID: int64(id), Markers: map[string]*ledgerMark{}}
	}
	fn(e)
	return true, l.save(ctx, e)
}

func (l *ledger) get(ctx context.Context, chat int64, id kit.MessageID) (*ledgerEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx, chat, id)
}

func (l *ledger) drop(ctx context.Context, chat int64, id kit.MessageID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Delete(ctx, ledgerKey(chat, id))
}

// markerIdent keys custom markers by id only; names are not delivered
// with reaction updates.
func markerIdent(m kit.Marker) string {
	if m.IsCustom() {
		return fmt.Sprintf("custom:%d", m.CustomID())
	}
	return m.Symbol()
}

func (e *ledgerEntry) mark(m kit.Marker) *ledgerMark {
	k := markerIdent(m)
	lm, ok := e.Markers[k]
	if !ok {
		lm = &ledgerMark{Key: k}
		e.Markers[k] = lm
	}
	return lm
}

func (e *ledgerEntry) addUser(m kit.Marker, user kit.UserID) {
	lm := e.mark(m)
	for _, u := range lm.Users {
		if u == user {
			return
		}
	}
	lm.Users = append(lm.Users, user)
}

func (e *ledgerEntry) removeUser(m kit.Marker, user kit.UserID) {
	lm, ok := e.Markers[markerIdent(m)]
	if !ok {
		return
	}
	out := lm.Users[:0]
	for _, u := range lm.Users {
		if u != user {
			out = append(out, u)
		}
	}
	lm.Users = out
	e.prune(lm)
}

func (e *ledgerEntry) users(m kit.Marker) []kit.UserID {
	lm, ok := e.Markers[markerIdent(m)]
	if !ok {
		return nil
	}
	return append([]kit.UserID(nil), lm.Users...)
}

func (e *ledgerEntry) prune(lm *ledgerMark) {
	if len(lm.Users) == 0 && !lm.Mine {
		delete(e.Markers, lm.Key)
	}
}

// mine lists the bot's own markers in key order.
func (e *ledgerEntry) mine() []kit.Marker {
	var out []kit.Marker
	for _, k := range e.sortedKeys() {
		if e.Markers[k].Mine {
			out = append(out, kit.ParseMarker(k))
		}
	}
	return out
}

func (e *ledgerEntry) sortedKeys() []string {
	keys := make([]string, 0, len(e.Markers))
	for k := range e.Markers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// message renders the entry as the gateway view. Counts include the bot's
// own reaction when Me is set.
func (e *ledgerEntry) message() *kit.Message {
	msg := &kit.Message{ID: kit.MessageID(e.ID), Chat: kit.ChatTarget{ChatID: e.Chat}}
	for _, k := range e.sortedKeys() {
		lm := e.Markers[k]
		n := len(lm.Users)
		if lm.Mine {
			n++
		}
		msg.Reactions = append(msg.Reactions, kit.ReactionCount{Marker: kit.ParseMarker(k), Count: n, Me: lm.Mine})
	}
	return msg
}
