package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"aquaguard/internal/model"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "aquaguard.yaml", `
log_level: debug
evaluation:
  thresholds:
    ph:
      warning_min: 6.5
      warning_max: 8.0
      critical_min: 6.0
      critical_max: 8.5
  trend:
    enabled: true
    threshold_percentage: 20
    time_window_minutes: 45
sweep:
  stale_after: 3h
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Sweep.StaleAfter != 3*time.Hour {
		t.Fatalf("unexpected config %+v", cfg)
	}
	doc := cfg.Evaluation.Document()
	if *doc.Thresholds[model.ParameterPH].CriticalMax != 8.5 {
		t.Fatalf("ph override lost: %+v", doc.Thresholds[model.ParameterPH])
	}
	if _, ok := doc.Thresholds[model.ParameterTDS]; !ok {
		t.Fatalf("tds defaults dropped")
	}
	if doc.Trend.ThresholdPercentage != 20 || doc.Trend.TimeWindowMinutes != 45 {
		t.Fatalf("trend override lost: %+v", doc.Trend)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"storage driver": func(c *Config) { c.Storage.Driver = "mongo" },
		"kafka":          func(c *Config) { c.Ingest.Kafka.Enabled = true },
		"notify redis":   func(c *Config) { c.Notify.Redis.Enabled = true },
		"health infra":   func(c *Config) { c.Health.Infra = "guess" },
		"timezone":       func(c *Config) { c.Timezone = "Mars/Olympus" },
		"trend":          func(c *Config) { c.Evaluation.Trend.ThresholdPercentage = 0 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestManagerReloadAppliesOverrides(t *testing.T) {
	path := writeConfig(t, "aquaguard.json", `{"log_level":"info"}`)
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	m.SetOverrides(func(c *Config) { c.Storage.DSN = "file::memory:" })
	if m.Get().Storage.DSN != "file::memory:" {
		t.Fatalf("override not applied")
	}
	if err := os.WriteFile(path, []byte(`{"log_level":"warn"}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Storage.DSN != "file::memory:" {
		t.Fatalf("unexpected reloaded config %+v", cfg)
	}
}
