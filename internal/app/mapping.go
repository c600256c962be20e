package app

import (
	"strings"

	"github.com/spf13/afero"

	"chimebot/internal/chime"
	"chimebot/internal/config"
	"chimebot/internal/output"
	"chimebot/internal/storage"
	logx "chimebot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig reports enabled=false when storage is absent or "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Retention:   retention,
	}, true, nil
}

// mapOutputs always yields a "default" entry so every chat can connect.
func mapOutputs(cfg *config.Config) map[string]output.Spec {
	out := make(map[string]output.Spec, len(cfg.Outputs)+1)
	for k, o := range cfg.Outputs {
		out[k] = output.Spec{Name: o.Name, Command: append([]string(nil), o.Command...)}
	}
	if _, ok := out[output.DefaultKey]; !ok {
		out[output.DefaultKey] = output.Spec{Name: output.DefaultKey}
	}
	return out
}

func newResolver(fs afero.Fs, cfg *config.Config) *chime.Resolver {
	return chime.NewResolver(fs, cfg.AudioDir(), strings.TrimSpace(cfg.Chime.Preamble))
}
