package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"papertrader/internal/config"
	"papertrader/internal/engine"
	"papertrader/internal/gateway/notifier"
	"papertrader/internal/gateway/provider"
	"papertrader/internal/learning"
	"papertrader/internal/ledger"
	"papertrader/internal/logger"
	"papertrader/internal/oracle"
	"papertrader/internal/pkg/distlock"
	"papertrader/internal/scheduler"
	"papertrader/internal/store"
	"papertrader/internal/store/gormstore"
	"papertrader/internal/store/ticklog"
	"papertrader/internal/trader"
	livehttp "papertrader/internal/transport/http/live"
)

// AppBuilder assembles the App. Every constructor is a field so tests can
// swap in fakes without touching the network.
type AppBuilder struct {
	cfg     *config.Config
	cfgPath string

	storeFn     func(config.StoreConfig) (store.Store, error)
	journalFn   func(config.StoreConfig) (*ticklog.Store, error)
	marketFn    func(*config.Config) (*MarketStack, error)
	providersFn func(config.AIConfig) []provider.ModelProvider
	notifierFn  func(config.NotifyConfig) notifier.TextNotifier
	lockFn      func(context.Context, config.LockConfig) (*distlock.Locker, error)
	liveHTTPFn  func(livehttp.ServerConfig) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithStore replaces the database with an already opened store.
func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(config.StoreConfig) (store.Store, error) { return st, nil }
	}
}

func WithMarketStack(fn func(*config.Config) (*MarketStack, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.marketFn = fn }
}

func WithProviders(fn func(config.AIConfig) []provider.ModelProvider) AppBuilderOption {
	return func(b *AppBuilder) { b.providersFn = fn }
}

func NewAppBuilder(cfg *config.Config, cfgPath string, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		cfgPath:     cfgPath,
		storeFn:     openStore,
		journalFn:   openJournal,
		marketFn:    buildMarketStack,
		providersFn: provider.BuildProvidersFromConfig,
		notifierFn:  buildNotifier,
		lockFn:      buildLocker,
		liveHTTPFn:  livehttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	closers := []func() error{st.Close}
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}
	logger.Infof("✓ store opened at %s", cfg.Store.Path)

	if err := engine.SeedWatchedCoins(ctx, st, cfg.Trading.WatchedCoins); err != nil {
		return fail(fmt.Errorf("seed watchlist: %w", err))
	}

	journal, err := b.journalFn(cfg.Store)
	if err != nil {
		return fail(fmt.Errorf("open tick journal: %w", err))
	}
	if journal != nil {
		closers = append(closers, journal.Close)
	}

	stack, err := b.marketFn(cfg)
	if err != nil {
		return fail(fmt.Errorf("market stack: %w", err))
	}

	models := b.providersFn(cfg.AI)
	if len(models) == 0 {
		logger.Warnf("no AI model enabled, every tick will fail at the decision step")
	}
	orc := buildOracle(cfg.AI, models)

	locker, err := b.lockFn(ctx, cfg.Lock)
	if err != nil {
		return fail(fmt.Errorf("tick lock: %w", err))
	}
	if locker != nil {
		closers = append(closers, locker.Close)
	}

	policy := PolicyFromConfig(cfg)
	executor := trader.NewExecutor(st, policy.Rules, b.notifierFn(cfg.Notify), cfg.Trading.Currency)
	learner := learning.NewService(orc, learning.Options{
		Currency:       cfg.Trading.Currency,
		Interval:       cfg.Trading.AnalysisInterval,
		LessonAnalyses: cfg.Trading.LessonAnalyses,
	})
	eng := engine.New(engine.Deps{
		Store:     st,
		Market:    stack.Gateway,
		Sentiment: stack.Sentiment,
		Oracle:    orc,
		Learner:   learner,
		Executor:  executor,
		Guard:     engine.NewGuard(locker),
		Journal:   journal,
	}, policy)

	interval := scheduler.MustInterval(cfg.Scheduler.Interval, 5*time.Minute)
	sched := scheduler.NewTickScheduler(ctx, interval, func(ctx context.Context) {
		res := eng.ExecuteTick(ctx)
		for _, a := range res.Actions {
			logger.Debugf("  - %s", a)
		}
	})

	server, err := b.liveHTTPFn(livehttp.ServerConfig{
		Addr:       cfg.App.HTTPAddr,
		Store:      st,
		Engine:     eng,
		Scheduler:  sched,
		Market:     stack.Gateway,
		Journal:    journal,
		CronSecret: cfg.Scheduler.CronSecret,
	})
	if err != nil {
		return fail(fmt.Errorf("live http: %w", err))
	}

	return &App{
		cfg:       cfg,
		cfgPath:   b.cfgPath,
		store:     st,
		engine:    eng,
		executor:  executor,
		scheduler: sched,
		liveHTTP:  server,
		closers:   closers,
		Summary:   buildSummary(cfg, orc.Models(), stack, locker != nil, journal != nil),
	}, nil
}

// PolicyFromConfig maps the trading section onto the engine policy.
func PolicyFromConfig(cfg *config.Config) engine.Policy {
	t := cfg.Trading
	return engine.Policy{
		Currency:         t.Currency,
		StartBalance:     t.StartBalance,
		BustThreshold:    t.BustThreshold,
		TargetMultiplier: t.TargetMultiplier,
		MaxRoundDuration: t.MaxRoundDuration,
		OHLCCoinLimit:    t.OHLCCoinLimit,
		OHLCDays:         t.OHLCDays,
		Rules: ledger.Rules{
			Fee:         t.Fee,
			TaxRate:     t.TaxRate,
			MinTrade:    t.MinTrade,
			DustEpsilon: t.DustEpsilon,
		},
	}
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	return gormstore.NewGormStore(cfg.Path)
}

func openJournal(cfg config.StoreConfig) (*ticklog.Store, error) {
	if strings.TrimSpace(cfg.TickLogPath) == "" {
		return nil, nil
	}
	return ticklog.New(cfg.TickLogPath)
}

func buildOracle(cfg config.AIConfig, models []provider.ModelProvider) *oracle.Oracle {
	return oracle.New(models, oracle.Options{
		MaxTokens:      cfg.MaxTokens,
		Temperature:    cfg.Temperature,
		RateLimitDelay: cfg.RateLimitDelay,
		RateLimitStep:  cfg.RateLimitStep,
	})
}

func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	tg := cfg.Telegram
	if !tg.Enabled || strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		return notifier.Noop{}
	}
	logger.Infof("✓ telegram notifications enabled")
	return notifier.NewTelegram(tg.BotToken, tg.ChatID)
}

// buildLocker returns nil when no Redis address is configured.
func buildLocker(ctx context.Context, cfg config.LockConfig) (*distlock.Locker, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	locker := distlock.NewFromAddr(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Key, cfg.TTL)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := locker.Ping(pingCtx); err != nil {
		_ = locker.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	logger.Infof("✓ distributed tick lock on %s key=%s", cfg.RedisAddr, cfg.Key)
	return locker, nil
}
