package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"chimebot/internal/chime"
	"chimebot/internal/commands"
	"chimebot/internal/config"
	"chimebot/internal/eventbus"
	"chimebot/internal/output"
	"chimebot/internal/runtime/supervisor"
	"chimebot/internal/storage"
	"chimebot/internal/transport"
	"chimebot/internal/transport/telegram"
	logx "chimebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	fs    afero.Fs

	adapter  transport.Adapter
	router   *commands.Router
	outputs  *output.Manager
	registry *chime.Registry

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	pollTimeout, err := cfg.PollTimeout()
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	router := commands.NewRouter(log.With(logx.String("comp", "commands")), ad)
	router.SetOwners(cfg.Telegram.OwnerUserIDs)
	router.SetRate(cfg.CommandsPerMinute())

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		fs:      afero.NewOsFs(),
		adapter: ad,
		router:  router,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("chime.timezone: %w", err)
	}
	poll, err := cfg.PollInterval()
	if err != nil {
		return err
	}

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.outputs = output.NewManager(runCtx, a.log.With(logx.String("comp", "output")), mapOutputs(cfg))

	chimeLog := a.log.With(logx.String("comp", "chime"))
	resolver := newResolver(a.fs, cfg)
	a.registry = chime.NewRegistry(runCtx, a.outputs, resolver,
		chime.WithLocation(loc),
		chime.WithBus(a.bus),
		chime.WithLogger(chimeLog),
		chime.WithSequencer(chime.NewSequencer(chimeLog, poll)),
	)
	if !resolver.RootExists() {
		a.log.Warn("audio directory not found; chimes will be skipped until it exists", logx.String("dir", resolver.Root()))
	}

	var history commands.History
	if a.store != nil {
		history = a.store
		a.sup.Go0("chime.history", func(c context.Context) {
			recordHistory(c, a.bus, a.store, a.log.With(logx.String("comp", "history")))
		})
	}
	a.router.Register(commands.Builtin(commands.Deps{
		Scheduler: a.registry,
		Outputs:   a.outputs,
		History:   history,
		Notifier:  commands.NotifierFor,
	})...)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if mu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
				a.log.Warn("menu commands update failed", logx.Err(err))
			}
		})
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("audio_dir", resolver.Root()),
		logx.String("timezone", loc.String()),
		logx.Bool("history", a.store != nil),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Tasks first so nothing starts a player while outputs go away.
	a.step(ctx, "chime", 3*time.Second, func(c context.Context) error { return a.registry.Shutdown(c) })
	a.step(ctx, "outputs", 6*time.Second, func(c context.Context) error { return a.outputs.DisconnectAll(c) })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs fn bounded by max (and by ctx). A step that overruns is logged
// and left behind so shutdown keeps going.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Duration("took", took), logx.Err(err))
			return
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", took))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
