// Package app wires the services together and owns their lifecycle.
// Construction order mirrors dependency order: store and metrics first,
// then outbox, content, payment and scheduler, with the Telegram adapter
// attached last so nothing sends before the queue can drain.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"thaibot/internal/bot"
	"thaibot/internal/config"
	"thaibot/internal/content"
	"thaibot/internal/metrics"
	"thaibot/internal/outbox"
	"thaibot/internal/payment"
	"thaibot/internal/scheduler"
	"thaibot/internal/server"
	"thaibot/internal/store"
	"thaibot/internal/transport"
	"thaibot/internal/transport/telegram"
	"thaibot/pkg/logx"
)

const updateChannelSize = 256

type App struct {
	cfg     *config.Config
	manager *config.Manager
	logSvc  *logx.Service
	log     logx.Logger

	store     *store.Store
	metrics   *metrics.Metrics
	outbox    *outbox.Service
	cache     *content.Cache
	verifier  *payment.Verifier
	scheduler *scheduler.Service
	adapter   *telegram.Adapter
	router    *bot.Router
	server    *server.Server

	updates chan transport.Update

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the full service graph from a loaded configuration.
// The config manager is optional; when present its change events are used
// to re-apply logging settings at runtime.
func New(cfg *config.Config, manager *config.Manager, logSvc *logx.Service, log logx.Logger) (*App, error) {
	a := &App{
		cfg:     cfg,
		manager: manager,
		logSvc:  logSvc,
		log:     log,
		updates: make(chan transport.Update, updateChannelSize),
	}

	busy, _ := config.ParseDurationOrDefault("database.busy_timeout", cfg.Database.BusyTimeout, 5*time.Second)
	st, err := store.Open(store.Config{Path: cfg.Database.Path, BusyTimeout: busy}, log.With(logx.String("component", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	a.metrics = metrics.New()

	minInterval, _ := config.ParseDurationOrDefault("outbox.min_interval", cfg.Outbox.MinInterval, time.Second)
	a.outbox = outbox.New(outbox.Config{
		QueueSize:   cfg.Outbox.QueueSize,
		MinInterval: minInterval,
	}, log.With(logx.String("component", "outbox")), a.metrics)

	genTimeout, _ := config.ParseDurationOrDefault("generator.timeout", cfg.Generator.Timeout, 30*time.Second)
	retryBase, _ := config.ParseDurationOrDefault("generator.retry_base", cfg.Generator.RetryBase, time.Second)
	gen := content.NewGenerator(content.GeneratorConfig{
		APIURL:      cfg.Generator.APIURL,
		APIKey:      cfg.Generator.APIKey,
		Model:       cfg.Generator.Model,
		Timeout:     genTimeout,
		MaxAttempts: cfg.Generator.MaxAttempts,
		RetryBase:   retryBase,
	}, log.With(logx.String("component", "generator")))

	resetHour := 8
	if cfg.Lessons.ResetHour != nil {
		resetHour = *cfg.Lessons.ResetHour
	}
	cache, err := content.NewCache(content.CacheConfig{
		Timezone:         cfg.Lessons.Timezone,
		ResetHour:        resetHour,
		HistorySize:      cfg.Generator.HistorySize,
		DuplicateRetries: cfg.Generator.DuplicateRetries,
	}, gen, st, log.With(logx.String("component", "cache")), a.metrics)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("content cache: %w", err)
	}
	a.cache = cache

	ledger := payment.NewTonAPI(payment.TonAPIConfig{
		APIURL: cfg.Payment.APIURL,
		APIKey: cfg.Payment.APIKey,
	})
	checkDelay, _ := config.ParseDurationOrDefault("payment.check_delay", cfg.Payment.CheckDelay, 3*time.Second)
	pendingTTL, _ := config.ParseDurationOrDefault("payment.pending_ttl", cfg.Payment.PendingTTL, time.Hour)
	a.verifier = payment.NewVerifier(payment.Config{
		Address:          cfg.Payment.Address,
		AmountTON:        cfg.Payment.AmountTON,
		SubscriptionDays: cfg.Payment.SubscriptionDays,
		WindowSize:       cfg.Payment.WindowSize,
		CheckAttempts:    cfg.Payment.CheckAttempts,
		CheckDelay:       checkDelay,
		PendingTTL:       pendingTTL,
	}, st, ledger, a.outbox, cache, log.With(logx.String("component", "payment")), a.metrics)

	sched, err := scheduler.New(scheduler.Config{
		Timezone: cfg.Lessons.Timezone,
		CronSpec: cfg.Lessons.DailyCron,
	}, st, cache, a.outbox, log.With(logx.String("component", "scheduler")), a.metrics)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	a.scheduler = sched

	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("component", "telegram")))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = adapter

	a.router = bot.NewRouter(adapter, st, a.verifier, log.With(logx.String("component", "bot")))

	if cfg.Server.Enabled {
		a.server = server.New(server.Config{
			Addr:     cfg.Server.Addr,
			Timezone: cfg.Lessons.Timezone,
		}, a.outbox, a.verifier, log.With(logx.String("component", "server")), a.metrics)
	}

	return a, nil
}

// Start brings the services up. It returns once everything is running;
// the caller blocks on its own signal handling.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.outbox.Start(runCtx)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return fmt.Errorf("start telegram adapter: %w", err)
	}
	a.outbox.Attach(a.adapter)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.router.Run(runCtx, a.updates)
	}()

	if err := a.scheduler.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start scheduler: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.verifier.RunPendingEviction(runCtx)
	}()

	if a.server != nil {
		a.server.Start()
	}

	if a.manager != nil {
		a.manager.OnChange(func(cfg *config.Config) {
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig(cfg.Logging.File),
			})
			a.log.Info("configuration reloaded", logx.String("log_level", cfg.Logging.Level))
		})
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.manager.Watch(runCtx); err != nil {
				a.log.Warn("config watch stopped", logx.Err(err))
			}
		}()
	}

	a.log.Info("application started")
	return nil
}

// Stop shuts the services down in reverse order of Start. New inbound work
// is cut off first, then the queue drains, then storage closes.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("application stopping")

	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			a.log.Warn("http server shutdown", logx.Err(err))
		}
	}
	a.scheduler.Stop(ctx)
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("telegram adapter shutdown", logx.Err(err))
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	a.outbox.Stop(ctx)

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("application stopped")
	return nil
}
