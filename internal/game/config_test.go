package game

import (
	"strings"
	"testing"
	"time"

	"spookbot/internal/config"
	kit "spookbot/internal/transport"
)

func TestFromConfigDefaults(t *testing.T) {
	c, alts, err := FromConfig(config.GameConfig{ID: " spooky ", Channel: "@town", Enabled: true}, "-100200")
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if c.ID != "spooky" || c.Channel != "@town" || c.LogChannel != "-100200" || !c.Enabled {
		t.Fatalf("identity fields = %+v", c)
	}
	if c.MinVotes != DefaultMinVotes || c.IdleThreshold != DefaultIdleThreshold || c.RecoveryDelay != DefaultRecoveryDelay {
		t.Fatalf("defaults = %+v", c)
	}
	if c.PostDelayMin != DefaultDelayMin || c.TallyDelayMax != DefaultDelayMax {
		t.Fatalf("windows = %s..%s / %s..%s", c.PostDelayMin, c.PostDelayMax, c.TallyDelayMin, c.TallyDelayMax)
	}
	if c.Prompt != "Trick (😈) or Treat (🍬)!" {
		t.Fatalf("prompt = %q", c.Prompt)
	}
	if c.Season != time.Now().UTC().Format("2006") {
		t.Fatalf("season = %q", c.Season)
	}
	if alts.Len() != 0 {
		t.Fatalf("alts = %d groups", alts.Len())
	}
}

func TestFromConfigOverrides(t *testing.T) {
	deferP, revokeP := 0.0, 1.0
	c, alts, err := FromConfig(config.GameConfig{
		ID:                "g",
		Season:            "s1",
		Channel:           "c",
		MinVotes:          5,
		StartScore:        100,
		IdleThreshold:     "1h",
		PostDelay:         config.DelayWindow{Min: "30s"},
		TallyDelay:        config.DelayWindow{Min: "1m", Max: "2m"},
		DeferProbability:  &deferP,
		RevokeProbability: &revokeP,
		Trick:             "👻",
		Treat:             "custom:77:candy",
		Alts:              map[string][]int64{"10": {11, 12}},
	}, "")
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if c.Season != "s1" || c.MinVotes != 5 || c.StartScore != 100 || c.IdleThreshold != time.Hour {
		t.Fatalf("overrides = %+v", c)
	}
	if c.PostDelayMin != 30*time.Second || c.PostDelayMax != 30*time.Second {
		t.Fatalf("post window = %s..%s", c.PostDelayMin, c.PostDelayMax)
	}
	if c.TallyDelayMin != time.Minute || c.TallyDelayMax != 2*time.Minute {
		t.Fatalf("tally window = %s..%s", c.TallyDelayMin, c.TallyDelayMax)
	}
	if c.DeferProbability != 0 || c.RevokeProbability != 1 {
		t.Fatalf("probabilities = %v/%v", c.DeferProbability, c.RevokeProbability)
	}
	if !c.Treat.Equal(kit.Custom(77, "renamed")) || c.Prompt != "Trick (👻) or Treat (:candy:)!" {
		t.Fatalf("markers = %v/%v prompt %q", c.Trick, c.Treat, c.Prompt)
	}
	if alts.Key(12) != 10 {
		t.Fatalf("alt 12 keyed to %d", alts.Key(12))
	}
}

func TestFromConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		gc   config.GameConfig
		want string
	}{
		{"same markers", config.GameConfig{ID: "g", Trick: "🍬"}, "must differ"},
		{"bad alt primary", config.GameConfig{ID: "g", Alts: map[string][]int64{"bob": {1}}}, "not a user id"},
		{"bad duration", config.GameConfig{ID: "g", IdleThreshold: "soon"}, "idle_threshold"},
		{"inverted window", config.GameConfig{ID: "g", TallyDelay: config.DelayWindow{Min: "5m", Max: "1m"}}, "tally_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := FromConfig(tt.gc, "")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}
