package app

import (
	"context"
	"fmt"
	"strings"

	"papertrader/internal/config"
	"papertrader/internal/engine"
	"papertrader/internal/logger"
	"papertrader/internal/scheduler"
	"papertrader/internal/store"
	"papertrader/internal/trader"
	livehttp "papertrader/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App owns the process lifetime: HTTP server, tick scheduler and config reloads.
type App struct {
	cfg       *config.Config
	cfgPath   string
	store     store.Store
	engine    *engine.Engine
	executor  *trader.Executor
	scheduler *scheduler.TickScheduler
	liveHTTP  *livehttp.Server
	closers   []func() error
	Summary   *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(cfg *config.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, cfgPath)
}

// Run blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		if err := a.startScheduler(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		a.scheduler.Stop()
		return nil
	})

	if strings.TrimSpace(a.cfgPath) != "" {
		group.Go(func() error {
			if err := config.Watch(a.cfgPath, a.reload); err != nil {
				logger.Warnf("config watch disabled: %v", err)
			}
			return nil
		})
	}

	return group.Wait()
}

// startScheduler starts the timer when auto start is on and the persisted
// enable flag allows it.
func (a *App) startScheduler(ctx context.Context) error {
	if !a.cfg.Scheduler.AutoStart {
		logger.Infof("scheduler auto start off, waiting for /api/trader/status or cron")
		return nil
	}
	enabled, err := engine.TraderEnabled(ctx, a.store)
	if err != nil {
		return fmt.Errorf("read trader flag: %w", err)
	}
	if !enabled {
		logger.Infof("trader disabled in settings, scheduler not started")
		return nil
	}
	_, err = a.scheduler.Start(0)
	return err
}

// reload applies a changed config file. Only trading policy and the
// scheduler default interval take effect without a restart.
func (a *App) reload(cfg *config.Config) {
	a.engine.UpdatePolicy(PolicyFromConfig(cfg))
	logger.SetLevel(cfg.App.LogLevel)
	if d, ok := scheduler.ParseIntervalDuration(cfg.Scheduler.Interval); ok {
		a.scheduler.SetDefaultInterval(d)
	}
	logger.Infof("trading policy updated: start=%.2f bust<%.2f target=%.2gx max_age=%s",
		cfg.Trading.StartBalance, cfg.Trading.BustThreshold, cfg.Trading.TargetMultiplier, cfg.Trading.MaxRoundDuration)
}

// Close waits for pending notifications and releases the store handles.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.executor != nil {
		a.executor.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("close: %v", err)
		}
	}
	a.closers = nil
}

// Engine exposes the orchestrator for tools and tests.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}
