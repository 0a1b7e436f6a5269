package telegram

import (
	"strconv"
	"strings"

	kit "spookbot/internal/transport"
)

// getUpdates payloads. Decoded locally so message_reaction updates arrive
// with the same fidelity as messages.
type wireUpdate struct {
	UpdateID        int64         `json:"update_id"`
	Message         *wireMessage  `json:"message,omitempty"`
	MessageReaction *wireReaction `json:"message_reaction,omitempty"`
}

type wireMessage struct {
	MessageID int64     `json:"message_id"`
	ThreadID  int       `json:"message_thread_id,omitempty"`
	From      *wireUser `json:"from,omitempty"`
	Chat      wireChat  `json:"chat"`
	Text      string    `json:"text,omitempty"`
}

type wireUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type wireChat struct {
	ID       int64  `json:"id"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

type wireReaction struct {
	Chat        wireChat           `json:"chat"`
	MessageID   int64              `json:"message_id"`
	User        *wireUser          `json:"user,omitempty"`
	OldReaction []wireReactionType `json:"old_reaction"`
	NewReaction []wireReactionType `json:"new_reaction"`
}

type wireReactionType struct {
	Type          string `json:"type"`
	Emoji         string `json:"emoji,omitempty"`
	CustomEmojiID string `json:"custom_emoji_id,omitempty"`
}

func (u *wireUser) displayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.Username != "" {
		name = "@" + u.Username
	}
	return name
}

func markerFromWire(r wireReactionType) (kit.Marker, bool) {
	switch r.Type {
	case "emoji":
		if r.Emoji == "" {
			return kit.Marker{}, false
		}
		return kit.Unicode(r.Emoji), true
	case "custom_emoji":
		id, err := strconv.ParseInt(r.CustomEmojiID, 10, 64)
		if err != nil || id == 0 {
			return kit.Marker{}, false
		}
		return kit.Custom(id, ""), true
	}
	return kit.Marker{}, false
}

func markerToWire(m kit.Marker) wireReactionType {
	if m.IsCustom() {
		return wireReactionType{Type: "custom_emoji", CustomEmojiID: strconv.FormatInt(m.CustomID(), 10)}
	}
	return wireReactionType{Type: "emoji", Emoji: m.Symbol()}
}

func markersFromWire(rs []wireReactionType) []kit.Marker {
	out := make([]kit.Marker, 0, len(rs))
	for _, r := range rs {
		if m, ok := markerFromWire(r); ok {
			out = append(out, m)
		}
	}
	return out
}

// diffMarkers returns the markers in next but not prev, and in prev but not next.
func diffMarkers(prev, next []kit.Marker) (added, removed []kit.Marker) {
	has := func(list []kit.Marker, m kit.Marker) bool {
		for _, x := range list {
			if x.Equal(m) {
				return true
			}
		}
		return false
	}
	for _, m := range next {
		if !has(prev, m) {
			added = append(added, m)
		}
	}
	for _, m := range prev {
		if !has(next, m) {
			removed = append(removed, m)
		}
	}
	return added, removed
}
