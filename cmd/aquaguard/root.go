package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aquaguard/internal/config"
	"aquaguard/internal/logging"
)

func newSettings() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("AQUAGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCmd() *cobra.Command {
	v := newSettings()
	cmd := &cobra.Command{
		Use:          "aquaguard",
		Short:        "Water-quality alerting and notification routing",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if path := v.GetString("env-file"); path != "" {
				_ = godotenv.Load(path) // ignore missing file
			}
			return nil
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringP("config", "c", "", "config file (yaml or json); built-in defaults when empty")
	fs.StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	fs.String("env-file", ".env", "dotenv file loaded before reading the environment")
	_ = v.BindPFlags(fs)

	cmd.AddCommand(serveCmd(v))
	cmd.AddCommand(sweepCmd(v))
	cmd.AddCommand(healthCmd(v))
	cmd.AddCommand(initDBCmd(v))
	return cmd
}

// loadConfig resolves the config file and layers flag and environment overrides on top.
func loadConfig(v *viper.Viper) (*config.Manager, *slog.Logger, error) {
	var mgr *config.Manager
	if path := v.GetString("config"); path != "" {
		m, err := config.NewManager(config.ResolvePath(path))
		if err != nil {
			return nil, nil, fmt.Errorf("load config %s: %w", path, err)
		}
		mgr = m
	} else {
		mgr = config.NewStaticManager(config.DefaultConfig())
	}
	mgr.SetOverrides(func(cfg *config.Config) { applyOverrides(cfg, v) })

	cfg := mgr.Get()
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	return mgr, logger, nil
}

func applyOverrides(cfg *config.Config, v *viper.Viper) {
	set := func(key string, dst *string) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			*dst = s
		}
	}
	set("log-level", &cfg.LogLevel)
	set("log.format", &cfg.LogFormat)
	set("timezone", &cfg.Timezone)
	set("storage.driver", &cfg.Storage.Driver)
	set("storage.dsn", &cfg.Storage.DSN)
	set("redis.addr", &cfg.Redis.Addr)
	set("redis.password", &cfg.Redis.Password)
	set("notify.email.host", &cfg.Notify.Email.Host)
	set("notify.email.username", &cfg.Notify.Email.Username)
	set("notify.email.password", &cfg.Notify.Email.Password)
	set("notify.email.from", &cfg.Notify.Email.From)
	set("api.addr", &cfg.API.Addr)
	set("ingest.rest.addr", &cfg.Ingest.REST.Addr)
	if v.IsSet("redis.enabled") {
		cfg.Redis.Enabled = v.GetBool("redis.enabled")
	}
	if brokers := v.GetString("kafka.brokers"); brokers != "" {
		cfg.Ingest.Kafka.Brokers = strings.Split(brokers, ",")
	}
}
