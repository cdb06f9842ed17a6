package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aquaguard/internal/storage"
)

func sweepCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the stale-alert sweep once and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), v, func(ctx context.Context, a *app) error {
				res, err := a.sweeper.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func healthCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Compute the system health score once and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), v, func(ctx context.Context, a *app) error {
				res, err := a.health.Compute(ctx)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func initDBCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the storage schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			store, err := storage.NewStore(cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Init(contextOrBackground(cmd.Context())); err != nil {
				return fmt.Errorf("init storage: %w", err)
			}
			logger.Info("schema ready", "driver", cfg.Storage.Driver)
			return nil
		},
	}
}

func withApp(ctx context.Context, v *viper.Viper, fn func(context.Context, *app) error) error {
	ctx = contextOrBackground(ctx)
	mgr, logger, err := loadConfig(v)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, mgr, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
