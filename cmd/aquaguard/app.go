package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"aquaguard/internal/alerts"
	"aquaguard/internal/config"
	"aquaguard/internal/dedupe"
	"aquaguard/internal/engine"
	"aquaguard/internal/health"
	"aquaguard/internal/metrics"
	"aquaguard/internal/model"
	"aquaguard/internal/notify"
	"aquaguard/internal/storage"
	"aquaguard/internal/sweep"
)

// app holds every long-lived component, built once and shared by the subcommands.
type app struct {
	cfg        *config.Manager
	logger     *slog.Logger
	store      storage.Store
	redis      *redis.Client
	hub        *notify.Hub
	lastSeen   *metrics.Store
	dispatcher *notify.Dispatcher
	thresholds *engine.ThresholdSource
	lifecycle  *alerts.Lifecycle
	engine     *engine.Engine
	sweeper    *sweep.Sweeper
	health     *health.Service
}

func newApp(ctx context.Context, mgr *config.Manager, logger *slog.Logger) (*app, error) {
	cfg := mgr.Get()
	a := &app{cfg: mgr, logger: logger, lastSeen: metrics.NewStore(0)}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = store
	if err := store.Init(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// without redis, the escalation ledger and notification claims live in the store so
	// one-shot sweeps and parallel servers on the same database share them
	var (
		guard  dedupe.Guard
		shared dedupe.Guard = store
	)
	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		guard = dedupe.NewRedisGuard(a.redis, "aquaguard:guard")
		shared = guard
	}

	router := notify.NewRouter(cfg.Notify.DefaultScheme)
	if cfg.Notify.Email.Enabled {
		router.Register("mailto", notify.NewEmailChannel(cfg.Notify.Email))
	}
	if cfg.Notify.WebSocket.Enabled {
		a.hub = notify.NewHub(cfg.Notify.WebSocket.Buffer, logger)
		router.Register("ws", a.hub)
	}
	if cfg.Notify.Redis.Enabled && a.redis != nil {
		router.Register("redis", notify.NewRedisChannel(a.redis, cfg.Notify.Redis.ChannelPrefix))
	}
	logger.Info("notification channels", "schemes", router.Schemes(), "default", cfg.Notify.DefaultScheme)

	a.dispatcher = notify.NewDispatcher(store, store, router, logger, notify.Options{
		Workers:          cfg.Notify.Workers,
		RecipientTimeout: cfg.Notify.RecipientTimeout,
		Location:         cfg.Location(),
		Claims:           shared,
	})
	a.thresholds = engine.NewThresholdSource(store, func() model.EvaluationConfig {
		return mgr.Get().Evaluation.Document()
	}, cfg.Evaluation.ConfigTTL, logger)
	a.lifecycle = alerts.NewLifecycle(store, logger)
	a.engine = engine.New(cfg, engine.Deps{
		Logger:     logger,
		Readings:   store,
		Devices:    store,
		LastSeen:   a.lastSeen,
		Thresholds: a.thresholds,
		Factory:    alerts.NewFactory(store, store, logger),
		Notifier:   a.dispatcher,
		Redelivery: guard,
	})
	a.sweeper = sweep.New(cfg.Sweep, sweep.Deps{
		Logger:    logger,
		Alerts:    store,
		Devices:   store,
		LastSeen:  a.lastSeen,
		Ledger:    shared,
		Escalator: a.dispatcher,
	})
	a.health = health.NewService(health.NewInfraProvider(cfg.Health, store), store, store, logger)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.hub != nil {
		a.hub.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
