package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseWindow parses a min/max duration pair. Missing bounds take the
// defaults; a single bound collapses the window to that value.
func ParseWindow(path string, w DelayWindow, defMin, defMax time.Duration) (time.Duration, time.Duration, error) {
	lo, err := ParseDurationField(path+".min", w.Min)
	if err != nil {
		return 0, 0, err
	}
	hi, err := ParseDurationField(path+".max", w.Max)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case strings.TrimSpace(w.Min) == "" && strings.TrimSpace(w.Max) == "":
		return defMin, defMax, nil
	case strings.TrimSpace(w.Min) == "":
		lo = hi
	case strings.TrimSpace(w.Max) == "":
		hi = lo
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("%s: max %s is below min %s", path, hi, lo)
	}
	return lo, hi, nil
}
