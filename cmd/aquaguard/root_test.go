package main

import (
	"os"
	"path/filepath"
	"testing"

	"aquaguard/internal/config"
)

func TestEnvironmentOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aquaguard.yaml")
	content := "log_level: info\nstorage:\n  driver: memory\napi:\n  enabled: true\n  addr: \":8081\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AQUAGUARD_CONFIG", path)
	t.Setenv("AQUAGUARD_LOG_LEVEL", "debug")
	t.Setenv("AQUAGUARD_STORAGE_DRIVER", "sqlite")
	t.Setenv("AQUAGUARD_STORAGE_DSN", "file::memory:")
	t.Setenv("AQUAGUARD_API_ADDR", ":9999")

	mgr, logger, err := loadConfig(newSettings())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected logger")
	}
	cfg := mgr.Get()
	if cfg.LogLevel != "debug" || cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "file::memory:" || cfg.API.Addr != ":9999" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	reloaded, err := mgr.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Storage.Driver != "sqlite" || reloaded.LogLevel != "debug" {
		t.Fatalf("overrides lost on reload: %+v", reloaded)
	}
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	mgr, _, err := loadConfig(newSettings())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if mgr.Path() != "" {
		t.Fatalf("expected static manager, got path %q", mgr.Path())
	}
	if mgr.Get().Storage.Driver != config.DefaultConfig().Storage.Driver {
		t.Fatalf("unexpected storage driver %q", mgr.Get().Storage.Driver)
	}
}
