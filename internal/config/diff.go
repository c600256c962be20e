package config

import (
	"reflect"
	"strings"

	logx "chimebot/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{"storage": true, "telegram.token": true, "chime.timezone": true}

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging (never includes the token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		oldCfg.Telegram.CommandsPerMinute != newCfg.Telegram.CommandsPerMinute {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Int("telegram.commands_per_minute", newCfg.CommandsPerMinute()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Chime != newCfg.Chime {
		changed = append(changed, "chime")
		attrs = append(attrs,
			logx.String("chime.audio_dir", newCfg.AudioDir()),
			logx.String("chime.timezone", newCfg.Chime.Timezone),
			logx.String("chime.poll_interval", newCfg.Chime.PollInterval),
		)
		if oldCfg.Chime.Timezone != newCfg.Chime.Timezone {
			changed = append(changed, "chime.timezone")
		}
	}

	if !reflect.DeepEqual(oldCfg.Outputs, newCfg.Outputs) {
		changed = append(changed, "outputs")
		attrs = append(attrs, logx.Int("outputs.count", len(newCfg.Outputs)))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	return changed, attrs
}

// NeedsRestart reports which of the changed sections cannot be applied live.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}
