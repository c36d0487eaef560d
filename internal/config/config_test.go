package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Snapshot.Backend != "file" {
		t.Errorf("expected file backend, got %s", cfg.Snapshot.Backend)
	}
	if cfg.Scheduler.SaveStep != 1 {
		t.Errorf("expected save_step 1, got %d", cfg.Scheduler.SaveStep)
	}
	if cfg.Scheduler.PauseIntervalMS != 250 {
		t.Errorf("expected pause interval 250ms, got %d", cfg.Scheduler.PauseIntervalMS)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[scheduler]
save_dir = "runs/out"
save_step = 5

[snapshot]
backend = "sqlite"
dsn = "runs/state.db"
`), 0644)

	cfg := Load(path)
	if cfg.Scheduler.SaveDir != "runs/out" {
		t.Errorf("expected runs/out, got %s", cfg.Scheduler.SaveDir)
	}
	if cfg.Scheduler.SaveStep != 5 {
		t.Errorf("expected save_step 5, got %d", cfg.Scheduler.SaveStep)
	}
	if cfg.Snapshot.Backend != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Snapshot.Backend)
	}
	// Defaults preserved for fields the TOML file didn't touch.
	if cfg.Scheduler.PauseIntervalMS != 250 {
		t.Errorf("default pause interval should be preserved, got %d", cfg.Scheduler.PauseIntervalMS)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CONNECTORAGENTS_SAVE_DIR", "env/out")
	t.Setenv("CONNECTORAGENTS_SNAPSHOT_BACKEND", "postgres")
	t.Setenv("CONNECTORAGENTS_SNAPSHOT_DSN", "postgres://env")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Scheduler.SaveDir != "env/out" {
		t.Errorf("expected env/out, got %s", cfg.Scheduler.SaveDir)
	}
	if cfg.Snapshot.Backend != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Snapshot.Backend)
	}
	if cfg.Snapshot.DSN != "postgres://env" {
		t.Errorf("expected postgres://env, got %s", cfg.Snapshot.DSN)
	}
}

func TestObserverEnabledEnvVar(t *testing.T) {
	t.Setenv("CONNECTORAGENTS_OBSERVER_ENABLED", "1")
	cfg := Load("/nonexistent/path.toml")
	if !cfg.Observer.Enabled {
		t.Error("expected observer enabled via env var")
	}
}
