package app

import (
	"context"
	"strings"

	"chimebot/internal/config"
	logx "chimebot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(last, newCfg)
			last = newCfg
		}
	}
}

// applyConfig pushes the live-reloadable parts of newCfg into the running
// components. Sections that need a restart are only logged.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if changed["telegram"] {
		a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
		a.router.SetRate(newCfg.CommandsPerMinute())
	}
	if changed["chime"] {
		if newCfg.AudioDir() != oldCfg.AudioDir() || newCfg.Chime.Preamble != oldCfg.Chime.Preamble {
			res := newResolver(a.fs, newCfg)
			a.registry.SetResolver(res)
			if !res.RootExists() {
				a.log.Warn("audio directory not found", logx.String("dir", res.Root()))
			}
		}
		if d, err := newCfg.PollInterval(); err == nil {
			a.registry.SetPollInterval(d)
		}
	}
	if changed["outputs"] {
		a.outputs.SetOutputs(mapOutputs(newCfg))
		a.log.Info("outputs updated; connected chats keep their player until /stop and /start")
	}
	if restart := config.NeedsRestart(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
