// Package app wires schedbot's components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/dispatch"
	"schedbot/internal/eventbus"
	"schedbot/internal/jobs"
	"schedbot/internal/registry"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	"schedbot/internal/transport/telegram"
	"schedbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter *telegram.Adapter
	store   storage.Store
	reg     *registry.Registry
	bus     eventbus.Bus
	ctl     *jobs.Controller

	updates chan transport.Message

	statsMu sync.Mutex
	stats   map[string]uint64

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
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

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log,
		adapter: ad,
		stats:   map[string]uint64{},
	}, nil
}

// Start opens the store, recovers persisted jobs, and begins serving chat
// commands. Recovery must complete before the bot is reachable: after a
// restart the timer registry is empty until then.
func (a *App) Start(ctx context.Context) error {
	if a.started {
		return nil
	}
	cfg := a.cfgm.Get()

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
		URI:         cfg.Storage.URI,
		Database:    cfg.Storage.Database,
		Collection:  cfg.Storage.Collection,
	}, a.logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	a.reg = registry.New(a.logs.Logger().With(logx.String("comp", "registry")))
	a.bus = eventbus.New()
	sender := dispatch.NewSender(a.adapter, cfg.Dispatch.RatePerSec, a.logs.Logger().With(logx.String("comp", "dispatch")))
	a.ctl = jobs.NewController(store, a.reg, sender, a.bus, a.logs.Logger().With(logx.String("comp", "jobs")))

	if _, err := a.ctl.Recover(ctx); err != nil {
		a.reg.Close()
		_ = store.Close()
		return fmt.Errorf("recovery: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.updates = make(chan transport.Message, 256)
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		a.reg.Close()
		_ = store.Close()
		return err
	}

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.commandLoop(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.eventLoop(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.watchConfig(runCtx)
	}()

	a.started = true
	a.log.Info("started", logx.Int("recovered_timers", a.reg.Len()))
	return nil
}

// Controller exposes the scheduling request surface for embedding callers.
func (a *App) Controller() *jobs.Controller { return a.ctl }

func (a *App) Stop(ctx context.Context) error {
	if !a.started {
		return nil
	}
	a.started = false

	err := a.adapter.Stop(ctx)
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	a.reg.Close()
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

// eventLoop folds job lifecycle events into counters for /jobs output.
func (a *App) eventLoop(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			a.statsMu.Lock()
			a.stats[ev.Type]++
			a.statsMu.Unlock()
		}
	}
}

func (a *App) statCounts() map[string]uint64 {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	out := make(map[string]uint64, len(a.stats))
	for k, v := range a.stats {
		out[k] = v
	}
	return out
}

// watchConfig hot-applies reloadable settings (currently the log level).
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	go func() {
		if err := a.cfgm.Watch(ctx, a.log); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
		}
	}
}
