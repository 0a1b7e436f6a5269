package config

type Config struct {
	Gateway     GatewayConfig     `json:"gateway"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	// Diagnostics is the optional health/metrics/pprof HTTP listener.
	Diagnostics DiagnosticsConfig `json:"diagnostics,omitempty"`
	Games       []GameConfig      `json:"games"`
}

type GatewayConfig struct {
	// Driver is "telegram" (default) or "memory" for dry runs.
	Driver string `json:"driver,omitempty"`
	Token  string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// LogChannel is a chat reference ("-100123..." or "@name") for log forwarding
	// and admin commands while a game is running.
	LogChannel string `json:"log_channel,omitempty"`
	// RatePerSec caps outbound sends (0 means 20/s).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/spookbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DiagnosticsConfig controls the diagnostics HTTP server (/healthz, /metrics
// and optionally pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Channel LoggingChannel `json:"channel"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChannel struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// GameConfig describes one trick-or-treat game instance.
//
// All durations are Go duration strings. Omitted fields take the engine
// defaults (min_votes 3, idle 15m, delays 5m..15m, defer 0.5, revoke 1/3).
type GameConfig struct {
	ID      string `json:"id"`
	Season  string `json:"season,omitempty"` // default: current UTC year
	Channel string `json:"channel"`
	Enabled bool   `json:"enabled"`

	MinVotes      int         `json:"min_votes,omitempty"`
	StartScore    int64       `json:"start_score,omitempty"`
	IdleThreshold string      `json:"idle_threshold,omitempty"`
	PostDelay     DelayWindow `json:"post_delay,omitempty"`
	TallyDelay    DelayWindow `json:"tally_delay,omitempty"`
	RecoveryDelay string      `json:"recovery_delay,omitempty"`

	DeferProbability  *float64 `json:"defer_probability,omitempty"`
	RevokeProbability *float64 `json:"revoke_probability,omitempty"`

	Trick  string `json:"trick,omitempty"`
	Treat  string `json:"treat,omitempty"`
	Prompt string `json:"prompt,omitempty"`

	// Tick is the idle-check schedule: cron ("*/2 * * * *") or interval ("1m").
	Tick string `json:"tick,omitempty"`
	// Seed fixes the random source (0 means time-seeded).
	Seed int64 `json:"seed,omitempty"`

	// Alts maps a primary user id to its linked accounts.
	Alts map[string][]int64 `json:"alts,omitempty"`
}

type DelayWindow struct {
	Min string `json:"min,omitempty"`
	Max string `json:"max,omitempty"`
}
