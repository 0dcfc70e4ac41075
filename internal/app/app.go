// Package app is the composition root: it maps the file config onto each
// component, owns the start/stop order and fans out hot reloads.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	telegram "crmbot/internal/adapters/telegram"
	"crmbot/internal/api"
	"crmbot/internal/audience"
	"crmbot/internal/config"
	"crmbot/internal/metrics"
	"crmbot/internal/services/broadcast"
	"crmbot/internal/services/scheduler"
	"crmbot/internal/storage"
	"crmbot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager

	log  logx.Logger
	logs *logx.Service

	store    *storage.Store
	adapter  *telegram.Adapter
	metrics  *metrics.Metrics
	resolver *audience.Resolver
	engine   *broadcast.Service
	sched    *scheduler.Service
	admin    *api.Server

	runMu     sync.Mutex
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	adapter, err := telegram.New(adCfg, store, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	m := metrics.New()
	resolver := audience.New(store, log.With(logx.String("comp", "audience")))
	engine := broadcast.New(mapBroadcastConfig(cfg), adapter, m, log.With(logx.String("comp", "broadcast")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, scheduler.Deps{
		Store:    store,
		Audience: resolver,
		Engine:   engine,
		Adapter:  adapter,
		Metrics:  m,
		Log:      log.With(logx.String("comp", "scheduler")),
	})

	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	admin := api.New(adminCfg, api.Deps{
		Store:      store,
		Dispatcher: sched,
		Metrics:    m,
		Log:        log.With(logx.String("comp", "api")),
	})

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		adapter:  adapter,
		metrics:  m,
		resolver: resolver,
		engine:   engine,
		sched:    sched,
		admin:    admin,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runMu.Unlock()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(runCtx); err != nil {
		return err
	}
	if a.sched.Enabled() {
		if err := a.sched.Start(runCtx); err != nil {
			return err
		}
	}
	if err := a.admin.Start(); err != nil {
		return err
	}

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest snapshot matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
					continue
				default:
				}
				break
			}

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}

			a.applyReload(ctx, newCfg, sections)

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
		case "broadcast":
			a.engine.Apply(mapBroadcastConfig(cfg))
		case "scheduler":
			schedCfg, err := mapSchedulerConfig(cfg)
			if err != nil {
				// The validator should have caught this; keep the previous config.
				a.log.Warn("invalid scheduler config, keeping previous", logx.Err(err))
				continue
			}
			wasEnabled := a.sched.Enabled()
			a.sched.Apply(schedCfg)
			switch {
			case wasEnabled && !schedCfg.Enabled:
				a.log.Info("scheduler disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.sched.Stop(stopCtx)
				cancel()
			case !wasEnabled && schedCfg.Enabled:
				a.log.Info("scheduler enabled via config")
				if err := a.sched.Start(ctx); err != nil {
					a.log.Error("scheduler restart failed", logx.Err(err))
				}
			case wasEnabled:
				// Cadence changes need a restart of the timers.
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.sched.Stop(stopCtx)
				cancel()
				if err := a.sched.Start(ctx); err != nil {
					a.log.Error("scheduler restart failed", logx.Err(err))
				}
			}
		case "telegram", "storage", "admin":
			a.log.Warn("config change requires restart to take effect", logx.String("section", s))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	a.runMu.Unlock()
	if cancel != nil {
		cancel()
	}

	a.sched.Stop(ctx)
	if err := a.admin.Stop(ctx); err != nil {
		a.log.Warn("admin api stop failed", logx.Err(err))
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("telegram stop failed", logx.Err(err))
	}
	a.wg.Wait()

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("app stopped")
	return a.logs.Close()
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		Offline:     cfg.Telegram.Offline,
	}, nil
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{RatePerSec: cfg.Broadcast.RatePerSec}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	fast, err := config.ParseDurationField("scheduler.fast_interval", cfg.Scheduler.FastInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	slow, err := config.ParseDurationField("scheduler.slow_interval", cfg.Scheduler.SlowInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	maxAge, err := config.ParseDurationField("scheduler.max_age", cfg.Scheduler.MaxAge)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		FastInterval: fast,
		SlowInterval: slow,
		MaxAge:       maxAge,
		CancelStale:  cfg.Scheduler.CancelStale,
	}, nil
}

func mapAdminConfig(cfg *config.Config) (api.Config, error) {
	read, err := config.ParseDurationField("admin.read_timeout", cfg.Admin.ReadTimeout)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.ParseDurationField("admin.write_timeout", cfg.Admin.WriteTimeout)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationField("admin.idle_timeout", cfg.Admin.IdleTimeout)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Enabled:      cfg.Admin.Enabled,
		Addr:         cfg.Admin.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

// validateConfig is the hot-reload gate: a snapshot that fails here is
// rejected and the previous config stays committed.
func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path: required")
	}
	if cfg.Broadcast.RatePerSec < 0 {
		return fmt.Errorf("broadcast.rate_per_sec: must be >= 0")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAdminConfig(cfg); err != nil {
		return err
	}
	return nil
}
