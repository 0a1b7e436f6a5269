package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"spookbot/internal/config"
	"spookbot/internal/eventbus"
	"spookbot/internal/game"
	"spookbot/internal/observability"
	"spookbot/internal/observability/diag"
	"spookbot/internal/router"
	rtsup "spookbot/internal/runtime/supervisor"
	"spookbot/internal/services/ticker"
	"spookbot/internal/storage"
	kit "spookbot/internal/transport"
	"spookbot/internal/transport/memgateway"
	"spookbot/internal/transport/telegram"
	logx "spookbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	driver  kit.Driver
	metrics *observability.Metrics
	diag    *diag.Service
	ticker  *ticker.Service

	router *router.Router
	games  []*game.Game

	updates   chan kit.Update
	startedAt time.Time
}

// NewApp loads the config and builds every component that does not need
// the run context.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateGames(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), nil)
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = storage.NewMemory()
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	driver, err := newDriver(cfg, store, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if sink, ok := driver.(logx.ChannelSink); ok {
		logSvc.SetSink(sink)
	}

	bus := eventbus.New()
	metrics := observability.NewMetrics()
	metrics.WatchBus(bus)

	dc, err := mapDiagConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		driver:  driver,
		metrics: metrics,
		ticker:  ticker.New(log.With(logx.String("comp", "ticker"))),
		updates: make(chan kit.Update, 256),
	}
	a.diag = diag.New(dc, metrics.Registry, a.status, log.With(logx.String("comp", "diag")))
	return a, nil
}

func newDriver(cfg *config.Config, store storage.Store, log logx.Logger) (kit.Driver, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Gateway.Driver)) {
	case "memory":
		log.Warn("memory gateway in use; nothing reaches a chat platform")
		return memgateway.New(), nil
	default:
		poll, err := config.ParseDurationOrDefault("gateway.poll_timeout", cfg.Gateway.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{
			Token:       cfg.Gateway.Token,
			PollTimeout: poll,
			LogChannel:  cfg.Gateway.LogChannel,
			RatePerSec:  cfg.Gateway.RatePerSec,
			Store:       store,
		}, log.With(logx.String("comp", "telegram")))
	}
}

// validateGames checks what config.Validate cannot: resolved game settings
// and tick schedules.
func validateGames(cfg *config.Config) error {
	for _, gc := range cfg.Games {
		if _, _, err := game.FromConfig(gc, cfg.Gateway.LogChannel); err != nil {
			return err
		}
		if _, _, err := ticker.ParseTick(gc.Tick); err != nil {
			return fmt.Errorf("games.%s.tick: %w", gc.ID, err)
		}
	}
	return nil
}

// Gateway returns the active driver.
func (a *App) Gateway() kit.Driver { return a.driver }

// Store returns the persistence layer.
func (a *App) Store() storage.Store { return a.store }

// Games returns the configured game instances (nil before Start).
func (a *App) Games() []*game.Game { return a.games }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.metrics.WatchSupervisor(a.sup)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := validateGames(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapDiagConfig(cfg)
		return err
	})

	cfg := a.cfgm.Get()
	if err := a.buildGames(cfg); err != nil {
		return err
	}
	a.router = router.New(a.driver, a.games, cfg.Gateway.AdminUserIDs,
		router.WithLogger(a.log.With(logx.String("comp", "router"))),
		router.WithMetrics(a.metrics),
	)

	if err := a.driver.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.startAudit()

	ticks := make(map[string]string, len(cfg.Games))
	for _, gc := range cfg.Games {
		ticks[strings.TrimSpace(gc.ID)] = gc.Tick
	}
	for _, g := range a.games {
		if err := a.ticker.Set(g, ticks[g.ID()]); err != nil {
			return err
		}
	}
	a.ticker.Start(a.sup.Context())

	// A persisted round resumes right away instead of waiting for a tick.
	for _, g := range a.games {
		a.sup.Go0("startup."+g.ID(), func(c context.Context) {
			if err := g.EnsureRunning(c); err != nil {
				a.log.Warn("startup check failed", logx.Game(g.ID()), logx.Err(err))
			}
		})
	}

	if dc, err := mapDiagConfig(cfg); err == nil {
		a.diag.Reconfigure(a.sup.Context(), dc)
	}

	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("games", len(a.games)), logx.String("self", a.driver.Self().String()))
	return nil
}

func (a *App) buildGames(cfg *config.Config) error {
	a.games = a.games[:0]
	for _, gc := range cfg.Games {
		gcfg, alts, err := game.FromConfig(gc, cfg.Gateway.LogChannel)
		if err != nil {
			return err
		}
		g, err := game.New(gcfg, game.Deps{
			Gateway: a.driver,
			Store:   a.store,
			Alts:    alts,
			Rand:    game.NewRand(gc.Seed),
			Runner:  a.sup,
			Bus:     a.bus,
			Metrics: a.metrics,
			Log:     a.log.With(logx.String("comp", "game")),
		})
		if err != nil {
			return err
		}
		a.games = append(a.games, g)
		a.log.Info("game loaded",
			logx.Game(gcfg.ID),
			logx.String("season", gcfg.Season),
			logx.String("channel", gcfg.Channel),
			logx.Bool("enabled", gcfg.Enabled),
		)
	}
	return nil
}

func (a *App) gameByID(id string) *game.Game {
	for _, g := range a.games {
		if g.ID() == id {
			return g
		}
	}
	return nil
}

// startReload fans config reloads out to the live components. Settings
// baked into a game instance need a restart; its enabled flag and tick do
// not.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, changedGames := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "logging":
			a.logs.Apply(mapLoggingConfig(newCfg))
		case "gateway":
			a.router.SetAdmins(newCfg.Gateway.AdminUserIDs)
			a.logs.Apply(mapLoggingConfig(newCfg))
		case "diagnostics":
			if dc, err := mapDiagConfig(newCfg); err != nil {
				a.log.Warn("invalid diagnostics config; keeping previous", logx.Err(err))
			} else {
				a.diag.Reconfigure(ctx, dc)
			}
		}
	}

	oldGames := make(map[string]config.GameConfig, len(oldCfg.Games))
	for _, gc := range oldCfg.Games {
		oldGames[strings.TrimSpace(gc.ID)] = gc
	}
	for _, gc := range newCfg.Games {
		id := strings.TrimSpace(gc.ID)
		if !containsString(changedGames, gc.ID) {
			continue
		}
		g := a.gameByID(id)
		prev, existed := oldGames[id]
		if g == nil || !existed {
			a.log.Warn("new game in config; restart required to load it", logx.Game(id))
			continue
		}
		if prev.Enabled != gc.Enabled {
			g.SetEnabled(gc.Enabled)
			if gc.Enabled {
				if err := g.EnsureRunning(ctx); err != nil {
					a.log.Warn("game resume failed", logx.Game(id), logx.Err(err))
				}
			}
		}
		if prev.Tick != gc.Tick {
			if err := a.ticker.Set(g, gc.Tick); err != nil {
				a.log.Warn("invalid tick; keeping previous", logx.Game(id), logx.Err(err))
			}
		}
		p, n := prev, gc
		p.Enabled, n.Enabled = false, false
		p.Tick, n.Tick = "", ""
		if !reflect.DeepEqual(p, n) {
			a.log.Warn("game settings changed; restart required for changes to take effect", logx.Game(id))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step bounds a shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("ticker", 2*time.Second, func(c context.Context) error { a.ticker.Stop(c); return nil })
	step("diagnostics", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("gateway", 3*time.Second, func(c context.Context) error { return a.driver.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
