package game

import (
	"context"
	"fmt"
	"strconv"

	"spookbot/internal/storage"
	kit "spookbot/internal/transport"
)

// ScoreStore is the per-(game, season) score table.
type ScoreStore struct {
	store  storage.Store
	prefix string
	start  int64
}

func NewScoreStore(store storage.Store, gameID, season string, start int64) *ScoreStore {
	return &ScoreStore{
		store:  store,
		prefix: "tot/" + gameID + "/" + season + "/score/",
		start:  start,
	}
}

func (s *ScoreStore) key(id kit.UserID) string { return s.prefix + id.String() }

// Get returns the score, persisting the start score on first read.
func (s *ScoreStore) Get(ctx context.Context, id kit.UserID) (int64, error) {
	v, ok, err := storage.GetInt(ctx, s.store, s.key(id))
	if err != nil {
		return 0, fmt.Errorf("score get %s: %w", id, err)
	}
	if ok {
		return v, nil
	}
	if err := storage.PutInt(ctx, s.store, s.key(id), s.start); err != nil {
		return 0, fmt.Errorf("score init %s: %w", id, err)
	}
	return s.start, nil
}

// ApplyDelta adds d and returns (old, d, new).
func (s *ScoreStore) ApplyDelta(ctx context.Context, id kit.UserID, d int64) (int64, int64, int64, error) {
	old, err := s.Get(ctx, id)
	if err != nil {
		return 0, 0, 0, err
	}
	if err := storage.PutInt(ctx, s.store, s.key(id), old+d); err != nil {
		return 0, 0, 0, fmt.Errorf("score apply %s: %w", id, err)
	}
	return old, d, old + d, nil
}

func (s *ScoreStore) Set(ctx context.Context, id kit.UserID, v int64) error {
	if err := storage.PutInt(ctx, s.store, s.key(id), v); err != nil {
		return fmt.Errorf("score set %s: %w", id, err)
	}
	return nil
}

// All returns every stored score of the season.
func (s *ScoreStore) All(ctx context.Context) (map[kit.UserID]int64, error) {
	raw, err := storage.ScanInts(ctx, s.store, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("score scan: %w", err)
	}
	out := make(map[kit.UserID]int64, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out[kit.UserID(id)] = v
	}
	return out, nil
}
