// Package config loads the runtime configuration for a connectoragents
// Scheduler: defaults, then an optional TOML file, then environment
// variables (env wins), mirroring the teacher's layered Default/Load
// pattern.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config configures one Scheduler run: where it persists snapshots, how
// often, and which SnapshotStore backend to use.
type Config struct {
	Scheduler SchedulerConfig `toml:"scheduler"`
	Snapshot  SnapshotConfig  `toml:"snapshot"`
	Observer  ObserverConfig  `toml:"observer"`
}

type SchedulerConfig struct {
	// SaveDir is the directory periodic snapshots are written under, one
	// subdirectory per round ("<SaveDir>/step_<round>"). Empty disables
	// periodic snapshotting.
	SaveDir string `toml:"save_dir"`
	// SaveStep is how many scheduler rounds elapse between snapshots.
	SaveStep int `toml:"save_step"`
	// ErrorDir is the directory an error snapshot is written to when an
	// agent's Step returns an error. Empty disables error snapshotting.
	ErrorDir string `toml:"error_dir"`
	// PauseIntervalMS is the pause-poll interval in milliseconds. Its
	// default matches the fixed 250 ms Scheduler.StepAll sleeps while the
	// Debugger reports IsPause; StepAll does not read this field.
	PauseIntervalMS int `toml:"pause_interval_ms"`
}

// SnapshotConfig selects and configures the SnapshotStore backend.
type SnapshotConfig struct {
	// Backend is one of "file", "sqlite", "postgres".
	Backend string `toml:"backend"`
	// DSN is the backend-specific connection string: a file path for
	// sqlite, a libpq connection string for postgres, unused for file.
	DSN string `toml:"dsn"`
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{
			SaveStep:        1,
			PauseIntervalMS: 250,
		},
		Snapshot: SnapshotConfig{
			Backend: "file",
		},
		Observer: ObserverConfig{
			ServiceName: "connectoragents",
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). A
// missing or unreadable path is not an error; Load silently falls back to
// defaults (or whatever an earlier layer already set) for that layer.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "connectoragents.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("CONNECTORAGENTS_SAVE_DIR"); v != "" {
		cfg.Scheduler.SaveDir = v
	}
	if v := os.Getenv("CONNECTORAGENTS_ERROR_DIR"); v != "" {
		cfg.Scheduler.ErrorDir = v
	}
	if v := os.Getenv("CONNECTORAGENTS_SNAPSHOT_BACKEND"); v != "" {
		cfg.Snapshot.Backend = v
	}
	if v := os.Getenv("CONNECTORAGENTS_SNAPSHOT_DSN"); v != "" {
		cfg.Snapshot.DSN = v
	}
	if v := os.Getenv("CONNECTORAGENTS_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
