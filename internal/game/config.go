package game

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"spookbot/internal/config"
	kit "spookbot/internal/transport"
)

const (
	DefaultMinVotes          = 3
	DefaultIdleThreshold     = 15 * time.Minute
	DefaultDelayMin          = 5 * time.Minute
	DefaultDelayMax          = 15 * time.Minute
	DefaultRecoveryDelay     = 5 * time.Second
	DefaultDeferProbability  = 0.5
	DefaultRevokeProbability = 1.0 / 3.0
	DefaultTrick             = "😈"
	DefaultTreat             = "🍬"
)

// Config is the resolved, immutable settings of one game instance.
type Config struct {
	ID      string
	Season  string
	Channel string
	// LogChannel also accepts commands while the game is running.
	LogChannel string
	Enabled    bool

	MinVotes      int
	StartScore    int64
	IdleThreshold time.Duration
	PostDelayMin  time.Duration
	PostDelayMax  time.Duration
	TallyDelayMin time.Duration
	TallyDelayMax time.Duration
	RecoveryDelay time.Duration

	DeferProbability  float64
	RevokeProbability float64

	Trick  kit.Marker
	Treat  kit.Marker
	Prompt string
}

// DefaultConfig returns the stock settings for id.
func DefaultConfig(id string) Config {
	c := Config{
		ID:                id,
		Season:            strconv.Itoa(time.Now().UTC().Year()),
		MinVotes:          DefaultMinVotes,
		IdleThreshold:     DefaultIdleThreshold,
		PostDelayMin:      DefaultDelayMin,
		PostDelayMax:      DefaultDelayMax,
		TallyDelayMin:     DefaultDelayMin,
		TallyDelayMax:     DefaultDelayMax,
		RecoveryDelay:     DefaultRecoveryDelay,
		DeferProbability:  DefaultDeferProbability,
		RevokeProbability: DefaultRevokeProbability,
		Trick:             kit.Unicode(DefaultTrick),
		Treat:             kit.Unicode(DefaultTreat),
	}
	c.Prompt = defaultPrompt(c.Trick, c.Treat)
	return c
}

func defaultPrompt(trick, treat kit.Marker) string {
	return fmt.Sprintf("Trick (%s) or Treat (%s)!", trick, treat)
}

// FromConfig resolves a config file entry and its alt table.
func FromConfig(gc config.GameConfig, logChannel string) (Config, *AltRegistry, error) {
	c := DefaultConfig(strings.TrimSpace(gc.ID))
	path := "games." + c.ID
	if s := strings.TrimSpace(gc.Season); s != "" {
		c.Season = s
	}
	c.Channel = strings.TrimSpace(gc.Channel)
	c.LogChannel = strings.TrimSpace(logChannel)
	c.Enabled = gc.Enabled
	if gc.MinVotes > 0 {
		c.MinVotes = gc.MinVotes
	}
	c.StartScore = gc.StartScore

	var err error
	if c.IdleThreshold, err = config.ParseDurationOrDefault(path+".idle_threshold", gc.IdleThreshold, DefaultIdleThreshold); err != nil {
		return Config{}, nil, err
	}
	if c.RecoveryDelay, err = config.ParseDurationOrDefault(path+".recovery_delay", gc.RecoveryDelay, DefaultRecoveryDelay); err != nil {
		return Config{}, nil, err
	}
	if c.PostDelayMin, c.PostDelayMax, err = config.ParseWindow(path+".post_delay", gc.PostDelay, DefaultDelayMin, DefaultDelayMax); err != nil {
		return Config{}, nil, err
	}
	if c.TallyDelayMin, c.TallyDelayMax, err = config.ParseWindow(path+".tally_delay", gc.TallyDelay, DefaultDelayMin, DefaultDelayMax); err != nil {
		return Config{}, nil, err
	}
	if gc.DeferProbability != nil {
		c.DeferProbability = *gc.DeferProbability
	}
	if gc.RevokeProbability != nil {
		c.RevokeProbability = *gc.RevokeProbability
	}
	if s := strings.TrimSpace(gc.Trick); s != "" {
		c.Trick = kit.ParseMarker(s)
	}
	if s := strings.TrimSpace(gc.Treat); s != "" {
		c.Treat = kit.ParseMarker(s)
	}
	if c.Trick.Equal(c.Treat) {
		return Config{}, nil, fmt.Errorf("%s: trick and treat markers must differ", path)
	}
	c.Prompt = strings.TrimSpace(gc.Prompt)
	if c.Prompt == "" {
		c.Prompt = defaultPrompt(c.Trick, c.Treat)
	}

	table := make(map[kit.UserID][]kit.UserID, len(gc.Alts))
	for p, alts := range gc.Alts {
		pid, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return Config{}, nil, fmt.Errorf("%s.alts: primary %q is not a user id", path, p)
		}
		for _, a := range alts {
			table[kit.UserID(pid)] = append(table[kit.UserID(pid)], kit.UserID(a))
		}
	}
	return c, NewAltRegistry(table), nil
}
