package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Validate checks structural invariants that decoding cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Gateway.Driver)) {
	case "", "telegram":
		if strings.TrimSpace(cfg.Gateway.Token) == "" {
			return errors.New("gateway.token is required for the telegram driver")
		}
	case "memory":
	default:
		return fmt.Errorf("gateway.driver: unknown driver %q", cfg.Gateway.Driver)
	}
	if _, err := ParseDurationField("gateway.poll_timeout", cfg.Gateway.PollTimeout); err != nil {
		return err
	}

	for _, d := range []struct{ name, raw string }{
		{"diagnostics.read_timeout", cfg.Diagnostics.ReadTimeout},
		{"diagnostics.idle_timeout", cfg.Diagnostics.IdleTimeout},
	} {
		if _, err := ParseDurationField(d.name, d.raw); err != nil {
			return err
		}
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "memory", "mem", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for i, g := range cfg.Games {
		path := fmt.Sprintf("games[%d]", i)
		id := strings.TrimSpace(g.ID)
		if id == "" {
			return fmt.Errorf("%s.id is required", path)
		}
		if strings.ContainsAny(id, "/ ") {
			return fmt.Errorf("%s.id %q must not contain '/' or spaces", path, id)
		}
		if seen[id] {
			return fmt.Errorf("%s.id %q is duplicated", path, id)
		}
		seen[id] = true
		if strings.TrimSpace(g.Channel) == "" {
			return fmt.Errorf("%s.channel is required", path)
		}
		if g.MinVotes < 0 {
			return fmt.Errorf("%s.min_votes must be >= 0", path)
		}
		for _, p := range []struct {
			name string
			v    *float64
		}{{"defer_probability", g.DeferProbability}, {"revoke_probability", g.RevokeProbability}} {
			if p.v != nil && (*p.v < 0 || *p.v > 1) {
				return fmt.Errorf("%s.%s must be within [0,1]", path, p.name)
			}
		}
		for _, d := range []struct{ name, raw string }{
			{"idle_threshold", g.IdleThreshold},
			{"recovery_delay", g.RecoveryDelay},
		} {
			if _, err := ParseDurationField(path+"."+d.name, d.raw); err != nil {
				return err
			}
		}
		if _, _, err := ParseWindow(path+".post_delay", g.PostDelay, 0, 0); err != nil {
			return err
		}
		if _, _, err := ParseWindow(path+".tally_delay", g.TallyDelay, 0, 0); err != nil {
			return err
		}
		for primary := range g.Alts {
			if _, err := strconv.ParseInt(primary, 10, 64); err != nil {
				return fmt.Errorf("%s.alts: primary %q is not a user id", path, primary)
			}
		}
	}
	return nil
}
