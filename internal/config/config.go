// Package config loads and validates wasmforge service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the compile service.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Limits    LimitsConfig    `yaml:"limits"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Cache     CacheConfig     `yaml:"cache"`
	Registry  RegistryConfig  `yaml:"registry"`
	Rules     RulesConfig     `yaml:"rules"`
	Retry     RetryConfig     `yaml:"retry"`
	History   HistoryConfig   `yaml:"history"`
	Events    EventsConfig    `yaml:"events"`
	Node      NodeConfig      `yaml:"node"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// MetricsConfig controls the optional Prometheus scrape endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics when non-empty, e.g. ":9911".
	ListenAddr string `yaml:"listen_addr"`
}

// NodeConfig describes an optional local chain-simulator node supervised
// alongside the watcher, useful for smoke-deploying freshly built artifacts.
type NodeConfig struct {
	Enabled bool     `yaml:"enabled"`
	Program string   `yaml:"program"`
	Args    []string `yaml:"args"`
}

// LimitsConfig bounds accepted input.
type LimitsConfig struct {
	// MaxArchiveBytes is the maximum accepted source archive size.
	MaxArchiveBytes int64 `yaml:"max_archive_bytes"`
}

// ToolchainConfig describes the external build toolchain invocation.
type ToolchainConfig struct {
	// Program is the build tool executable name (resolved against the composed PATH).
	Program string `yaml:"program"`
	// Args are the build subcommand arguments, e.g. ["contract", "build", "--release"].
	Args []string `yaml:"args"`
	// Home is the private toolchain home directory; empty means <cache.root>/toolchain-home.
	Home string `yaml:"home"`
	// StableDir holds the pinned stable toolchain binaries.
	StableDir string `yaml:"stable_dir"`
	// VendorDir holds vendor-supplied toolchain binaries (lowest PATH priority).
	VendorDir string `yaml:"vendor_dir"`
	// WrapperDir holds compiler-cache shim binaries (highest PATH priority).
	WrapperDir string `yaml:"wrapper_dir"`
	// Channel forces toolchain channel selection (e.g. "stable").
	Channel string `yaml:"channel"`
	// BuildTimeout bounds one toolchain invocation; generous to allow cold dependency downloads.
	BuildTimeout time.Duration `yaml:"build_timeout"`
	// TargetSubdir is the build output directory relative to the staging root.
	TargetSubdir string `yaml:"target_subdir"`
	// ArtifactSubdir is where the final wasm + metadata land, relative to the staging root.
	ArtifactSubdir string `yaml:"artifact_subdir"`
}

// CacheConfig describes the persistent artifact cache.
type CacheConfig struct {
	// Root is the persistent cache root; staging directories nest under it.
	Root string `yaml:"root"`
	// MaxEntryAge is the janitor pruning threshold for cached artifact trees.
	MaxEntryAge time.Duration `yaml:"max_entry_age"`
	// JanitorInterval is how often the janitor sweeps; zero disables scheduling.
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// RegistryConfig describes the shared dependency-download cache watched during builds.
type RegistryConfig struct {
	// Dir is the dependency registry cache directory; empty means <cache.root>/registry.
	Dir string `yaml:"dir"`
	// SweepInterval is the polling fallback interval for the manifest watcher.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RulesConfig points at an optional external patch-rule file.
type RulesConfig struct {
	// File overrides the built-in patch rule set when non-empty (YAML).
	File string `yaml:"file"`
}

// HistoryConfig controls the sqlite job ledger.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EventsConfig controls optional NATS lifecycle event publishing.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
	Stream  string `yaml:"stream"`
}

// Load reads configuration from a YAML file, applies env overrides and defaults,
// and validates the result. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants defaults cannot repair.
func (c *Config) Validate() error {
	if c.Limits.MaxArchiveBytes <= 0 {
		return fmt.Errorf("limits.max_archive_bytes must be positive")
	}
	if c.Toolchain.Program == "" {
		return fmt.Errorf("toolchain.program must be set")
	}
	if c.Toolchain.BuildTimeout <= 0 {
		return fmt.Errorf("toolchain.build_timeout must be positive")
	}
	if c.Cache.Root == "" {
		return fmt.Errorf("cache.root must be set")
	}
	if err := c.Retry.policy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url required when events are enabled")
	}
	if c.Node.Enabled && c.Node.Program == "" {
		return fmt.Errorf("node.program required when node supervision is enabled")
	}
	return nil
}
