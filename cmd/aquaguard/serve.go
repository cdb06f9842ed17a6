package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"aquaguard/internal/api"
	"aquaguard/internal/config"
	"aquaguard/internal/ingest"
	"aquaguard/internal/model"
)

func serveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run ingestion, evaluation, notification, sweep and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
}

func runServe(parent context.Context, v *viper.Viper) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, logger, err := loadConfig(v)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, mgr, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown", "err", err)
		}
	}()

	cfg := mgr.Get()
	readings := make(chan model.Reading, cfg.Ingest.ChannelBuffer)
	a.engine.Start(ctx, readings)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingest.NewREST(mgr, readings, logger).Run(ctx)
	})
	if err := ingest.StartTCPStream(ctx, mgr, readings, logger); err != nil {
		return err
	}
	if cfg.Ingest.Kafka.Enabled {
		consumer := ingest.NewKafkaConsumer(mgr, a.engine, logger)
		g.Go(func() error { return consumer.Run(ctx) })
	} else {
		logger.Info("kafka ingest disabled")
	}

	deps := api.Deps{
		Config:     mgr,
		Store:      a.store,
		Lifecycle:  a.lifecycle,
		Thresholds: a.thresholds,
		Health:     a.health,
		Sweeper:    a.sweeper,
		LastSeen:   a.lastSeen,
		Engine:     a.engine,
		Logger:     logger,
		Version:    version,
	}
	if a.hub != nil {
		deps.WebSocket = a.hub.ServeWS
	}
	g.Go(func() error { return api.New(deps).Run(ctx) })

	if cfg.Sweep.Enabled {
		a.sweeper.Start(ctx, cfg.Sweep.Interval)
	}
	if mgr.Path() != "" {
		go mgr.Watch(3*time.Second, func(next *config.Config) {
			a.engine.UpdateConfig(next)
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		}, ctx.Done())
	}

	logger.Info("aquaguard started", "version", version, "storage", cfg.Storage.Driver)
	err = g.Wait()
	logger.Info("aquaguard stopped")
	return err
}
