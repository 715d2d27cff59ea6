package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// loadEnvFiles loads .env/.env.local into the process environment. Existing
// variables are never overwritten; the first file found wins.
func loadEnvFiles() {
	for _, p := range []string{".env", ".env.local"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			return
		}
	}
}

// applyEnvOverrides maps WASMFORGE_* variables onto the config. Env wins over
// file values but both lose to nothing: defaults run afterwards.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WASMFORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = NormalizeLogLevel(v)
	}
	if v := os.Getenv("WASMFORGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = NormalizeLogFormat(v)
	}
	if v := os.Getenv("WASMFORGE_CACHE_ROOT"); v != "" {
		cfg.Cache.Root = v
	}
	if v := os.Getenv("WASMFORGE_TOOLCHAIN_PROGRAM"); v != "" {
		cfg.Toolchain.Program = v
	}
	if v := os.Getenv("WASMFORGE_BUILD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Toolchain.BuildTimeout = d
		}
	}
	if v := os.Getenv("WASMFORGE_MAX_ARCHIVE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Limits.MaxArchiveBytes = n
		}
	}
	if v := os.Getenv("WASMFORGE_NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}
}
