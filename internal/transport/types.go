// Package transport defines the channel gateway contract the round engine
// talks to, plus the update envelope drivers push into the router.
package transport

import (
	"context"
	"errors"
	"strconv"
)

type (
	UserID    int64
	MessageID int64
)

func (u UserID) String() string    { return strconv.FormatInt(int64(u), 10) }
func (m MessageID) String() string { return strconv.FormatInt(int64(m), 10) }

// ErrUnsupported is returned by drivers for operations the platform lacks.
var ErrUnsupported = errors.New("operation not supported by gateway")

type ChatTarget struct {
	ChatID   int64
	ThreadID int
	Name     string
}

func (c ChatTarget) IsZero() bool { return c.ChatID == 0 }

// Member is a channel-scoped view of a user.
type Member struct {
	ID          UserID
	DisplayName string
}

// ReactionCount is one marker's aggregate on a message.
// Count includes the bot's own reaction when Me is true.
type ReactionCount struct {
	Marker Marker
	Count  int
	Me     bool
}

// Message is the gateway's view of a posted message.
type Message struct {
	ID        MessageID
	Chat      ChatTarget
	Text      string
	Reactions []ReactionCount
}

// Reaction returns the aggregate for m (zero value if absent).
func (m *Message) Reaction(marker Marker) (ReactionCount, bool) {
	if m == nil {
		return ReactionCount{}, false
	}
	for _, r := range m.Reactions {
		if r.Marker.Equal(marker) {
			return r, true
		}
	}
	return ReactionCount{}, false
}

type SendOptions struct {
	// Preformatted renders text as a monospace block.
	Preformatted   bool
	DisablePreview bool
}

// Gateway is the channel collaborator the engine depends on.
//
// FetchMessage reports absence via ok=false; err is reserved for transport
// failures.
type Gateway interface {
	Self() UserID
	FindChannel(ctx context.Context, ref string) (ChatTarget, error)
	Send(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageID, error)
	FetchMessage(ctx context.Context, ch ChatTarget, id MessageID) (msg *Message, ok bool, err error)
	AddReaction(ctx context.Context, ch ChatTarget, id MessageID, m Marker) error
	RemoveReaction(ctx context.Context, ch ChatTarget, id MessageID, m Marker, user UserID) error
	ClearReaction(ctx context.Context, ch ChatTarget, id MessageID, m Marker) error
	// ListReactors excludes the bot's own reaction.
	ListReactors(ctx context.Context, ch ChatTarget, id MessageID, m Marker) ([]UserID, error)
	ResolveMember(ctx context.Context, ch ChatTarget, user UserID) (Member, error)
}

// Driver is a Gateway that also produces inbound updates.
type Driver interface {
	Gateway
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateReaction UpdateKind = "reaction"
)

type Update struct {
	Kind     UpdateKind
	Message  *InboundMessage
	Reaction *InboundReaction
}

type InboundMessage struct {
	ID       MessageID
	Chat     ChatTarget
	FromID   UserID
	FromName string
	Text     string
}

type InboundReaction struct {
	Chat      ChatTarget
	MessageID MessageID
	UserID    UserID
	Added     []Marker
	Removed   []Marker
}
