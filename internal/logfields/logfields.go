package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID      = "job_id"
	KeyStage      = "stage"
	KeyCacheKey   = "cache_key"
	KeyProgram    = "program"
	KeyPID        = "pid"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeyTimeout    = "timeout"
	KeyRule       = "rule"
	KeySignature  = "signature"
	KeyDaemonKind = "daemon_kind"
	KeyAttempt    = "attempt"
	KeyPath       = "path"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr     { return slog.String(KeyJobID, id) }
func Stage(name string) slog.Attr   { return slog.String(KeyStage, name) }
func CacheKey(k string) slog.Attr   { return slog.String(KeyCacheKey, k) }
func Program(p string) slog.Attr    { return slog.String(KeyProgram, p) }
func PID(pid int) slog.Attr         { return slog.Int(KeyPID, pid) }
func ExitCode(code int) slog.Attr   { return slog.Int(KeyExitCode, code) }
func Rule(name string) slog.Attr    { return slog.String(KeyRule, name) }
func Signature(s string) slog.Attr  { return slog.String(KeySignature, s) }
func DaemonKind(k string) slog.Attr { return slog.String(KeyDaemonKind, k) }
func Attempt(n int) slog.Attr       { return slog.Int(KeyAttempt, n) }
func Path(p string) slog.Attr       { return slog.String(KeyPath, p) }

func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000.0)
}

func Timeout(d time.Duration) slog.Attr { return slog.String(KeyTimeout, d.String()) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
