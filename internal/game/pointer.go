package game

import (
	"context"
	"fmt"

	"spookbot/internal/storage"
	kit "spookbot/internal/transport"
)

// Pointer is the durable id of the round message in flight; 0 means no
// active round.
type Pointer struct {
	store storage.Store
	key   string
}

func NewPointer(store storage.Store, gameID string) *Pointer {
	return &Pointer{store: store, key: "tot/" + gameID + "/round"}
}

func (p *Pointer) Get(ctx context.Context) (kit.MessageID, error) {
	v, _, err := storage.GetInt(ctx, p.store, p.key)
	if err != nil {
		return 0, fmt.Errorf("round pointer get: %w", err)
	}
	return kit.MessageID(v), nil
}

func (p *Pointer) Set(ctx context.Context, id kit.MessageID) error {
	if err := storage.PutInt(ctx, p.store, p.key, int64(id)); err != nil {
		return fmt.Errorf("round pointer set: %w", err)
	}
	return nil
}

func (p *Pointer) Clear(ctx context.Context) error { return p.Set(ctx, 0) }
