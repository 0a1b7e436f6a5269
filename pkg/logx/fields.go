package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field sets one key on a log line. Later fields overwrite earlier ones with
// the same key.
type Field func(e *zerolog.Event)

// Keys shared by every component so lines about one round can be grepped
// together across the gateway, router and engine.
const (
	KeyGame  = "game"
	KeyRound = "round"
	KeyUser  = "user"
	KeyActor = "actor"
	KeyChat  = "chat"
)

func Game(id string) Field { return String(KeyGame, id) }
func Round(id int64) Field { return Int64(KeyRound, id) }
func User(id int64) Field  { return Int64(KeyUser, id) }
func Actor(id int64) Field { return Int64(KeyActor, id) }
func Chat(id int64) Field  { return Int64(KeyChat, id) }

func String(k, v string) Field      { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field     { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err is a no-op for a nil error.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}
