package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultMaxArchiveBytes caps uploaded source packages at 100 MiB.
	DefaultMaxArchiveBytes int64 = 100 << 20

	// DefaultBuildTimeout allows first-time dependency downloads to complete.
	DefaultBuildTimeout = 30 * time.Minute

	defaultSweepInterval   = 500 * time.Millisecond
	defaultMaxEntryAge     = 14 * 24 * time.Hour
	defaultJanitorInterval = time.Hour
)

// applyDefaults fills in zero-valued fields. Called after env overrides so
// explicit settings always win.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = LogLevelInfo
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = LogFormatText
	}

	if cfg.Limits.MaxArchiveBytes == 0 {
		cfg.Limits.MaxArchiveBytes = DefaultMaxArchiveBytes
	}

	if cfg.Cache.Root == "" {
		cfg.Cache.Root = filepath.Join(os.TempDir(), "wasmforge-cache")
	}
	if cfg.Cache.MaxEntryAge == 0 {
		cfg.Cache.MaxEntryAge = defaultMaxEntryAge
	}
	if cfg.Cache.JanitorInterval == 0 {
		cfg.Cache.JanitorInterval = defaultJanitorInterval
	}

	if cfg.Toolchain.Program == "" {
		cfg.Toolchain.Program = "cargo"
	}
	if len(cfg.Toolchain.Args) == 0 {
		cfg.Toolchain.Args = []string{"contract", "build", "--release"}
	}
	if cfg.Toolchain.Channel == "" {
		cfg.Toolchain.Channel = "stable"
	}
	if cfg.Toolchain.BuildTimeout == 0 {
		cfg.Toolchain.BuildTimeout = DefaultBuildTimeout
	}
	if cfg.Toolchain.Home == "" {
		cfg.Toolchain.Home = filepath.Join(cfg.Cache.Root, "toolchain-home")
	}
	if cfg.Toolchain.TargetSubdir == "" {
		cfg.Toolchain.TargetSubdir = "target"
	}
	if cfg.Toolchain.ArtifactSubdir == "" {
		cfg.Toolchain.ArtifactSubdir = filepath.Join("target", "ink")
	}

	if cfg.Registry.Dir == "" {
		cfg.Registry.Dir = filepath.Join(cfg.Cache.Root, "registry")
	}
	if cfg.Registry.SweepInterval == 0 {
		cfg.Registry.SweepInterval = defaultSweepInterval
	}

	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.Cache.Root, "history.db")
	}

	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "wasmforge.builds"
	}
	if cfg.Events.Stream == "" {
		cfg.Events.Stream = "WASMFORGE_BUILDS"
	}

	cfg.Retry.applyDefaults()
}
