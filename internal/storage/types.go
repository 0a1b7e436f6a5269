package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the engine and drivers.
//
// Individual keys are updated independently; there is no multi-key
// transaction.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Put(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
	// Scan returns every key with the given prefix.
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// AuditEntry records a round lifecycle event or operator action.
type AuditEntry struct {
	EventID  string    `json:"event_id,omitempty"`
	At       time.Time `json:"at"`
	Game     string    `json:"game"`
	Action   string    `json:"action"`
	RoundID  int64     `json:"round_id,omitempty"`
	ActorID  int64     `json:"actor_id,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}
