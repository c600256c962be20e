package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Validate checks everything that would otherwise fail later at runtime.
// It is the default validator for Watch.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", EnvToken))
	}
	if _, err := cfg.PollTimeout(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Telegram.CommandsPerMinute < 0 {
		errs = append(errs, errors.New("telegram.commands_per_minute must be >= 0"))
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, fmt.Errorf("chime.timezone: %w", err))
	}
	if _, err := cfg.PollInterval(); err != nil {
		errs = append(errs, err)
	}
	if strings.ContainsAny(cfg.Chime.Preamble, `/\`) {
		errs = append(errs, errors.New("chime.preamble must be a file name inside chime.audio_dir"))
	}
	for k, o := range cfg.Outputs {
		if !isOutputKey(k) {
			errs = append(errs, fmt.Errorf("outputs.%s: key must be a chat id or \"default\"", k))
		}
		if len(o.Command) > 0 && strings.TrimSpace(o.Command[0]) == "" {
			errs = append(errs, fmt.Errorf("outputs.%s.command: empty program", k))
		}
	}
	if s := cfg.Storage; s != nil {
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("storage.retention", s.Retention); err != nil {
			errs = append(errs, err)
		}
		d := strings.ToLower(strings.TrimSpace(s.Driver))
		if d != "" && d != "none" && strings.TrimSpace(s.Path) == "" {
			errs = append(errs, errors.New("storage.path is required"))
		}
	}
	return errors.Join(errs...)
}
