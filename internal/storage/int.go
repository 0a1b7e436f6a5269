package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// GetInt reads an integer value. Missing keys report ok=false.
func GetInt(ctx context.Context, s Store, key string) (int64, bool, error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("storage: key %q is not an integer: %w", key, err)
	}
	return n, true, nil
}

func PutInt(ctx context.Context, s Store, key string, v int64) error {
	return s.Put(ctx, key, []byte(strconv.FormatInt(v, 10)))
}

// ScanInts returns every integer value under prefix, keyed by the key suffix.
// Non-integer values are skipped.
func ScanInts(ctx context.Context, s Store, prefix string) (map[string]int64, error) {
	raw, err := s.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
		if err != nil {
			continue
		}
		out[strings.TrimPrefix(k, prefix)] = n
	}
	return out, nil
}
