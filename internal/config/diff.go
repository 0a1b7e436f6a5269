package config

import (
	"reflect"
	"strings"

	logx "spookbot/pkg/logx"
)

// SummarizeChange lists changed sections with safe log fields (never the
// gateway token) and the ids of games whose settings changed.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 8)

	if strings.TrimSpace(oldCfg.Gateway.PollTimeout) != strings.TrimSpace(newCfg.Gateway.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Gateway.AdminUserIDs, newCfg.Gateway.AdminUserIDs) ||
		strings.TrimSpace(oldCfg.Gateway.LogChannel) != strings.TrimSpace(newCfg.Gateway.LogChannel) {
		changed = append(changed, "gateway")
		attrs = append(attrs,
			logx.Int("gateway.admin_count", len(newCfg.Gateway.AdminUserIDs)),
			logx.Bool("gateway.log_channel_set", strings.TrimSpace(newCfg.Gateway.LogChannel) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.channel_enabled", newCfg.Logging.Channel.Enabled),
		)
	}
	if oldCfg.Diagnostics.Enabled != newCfg.Diagnostics.Enabled ||
		strings.TrimSpace(oldCfg.Diagnostics.Addr) != strings.TrimSpace(newCfg.Diagnostics.Addr) ||
		oldCfg.Diagnostics.Pprof != newCfg.Diagnostics.Pprof ||
		oldCfg.Diagnostics.AllowInsecure != newCfg.Diagnostics.AllowInsecure ||
		oldCfg.Diagnostics.Token != newCfg.Diagnostics.Token ||
		oldCfg.Diagnostics.ReadTimeout != newCfg.Diagnostics.ReadTimeout ||
		oldCfg.Diagnostics.IdleTimeout != newCfg.Diagnostics.IdleTimeout {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", newCfg.Diagnostics.Enabled),
			logx.String("diagnostics.addr", strings.TrimSpace(newCfg.Diagnostics.Addr)),
			logx.Bool("diagnostics.token_set", strings.TrimSpace(newCfg.Diagnostics.Token) != ""),
			logx.Bool("diagnostics.pprof", newCfg.Diagnostics.Pprof),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	oldGames := make(map[string]GameConfig, len(oldCfg.Games))
	for _, g := range oldCfg.Games {
		oldGames[g.ID] = g
	}
	var games []string
	for _, g := range newCfg.Games {
		if og, ok := oldGames[g.ID]; !ok || !reflect.DeepEqual(og, g) {
			games = append(games, g.ID)
		}
	}
	if len(games) > 0 {
		changed = append(changed, "games")
		attrs = append(attrs, logx.Any("games.changed", games))
	}
	return changed, attrs, games
}
