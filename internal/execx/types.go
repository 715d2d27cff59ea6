// Package execx supervises external build tooling: bounded one-shot command
// execution with combined timeout/cancellation semantics, and long-running
// auxiliary daemons with line-oriented output streaming.
package execx

import (
	"errors"
	"time"
)

// Sentinel errors distinguishing why an execution was aborted. Callers use
// these to decide retry behavior: a timeout may be retried, an explicit
// caller cancellation must not be.
var (
	ErrTimeout  = errors.New("execx: deadline exceeded")
	ErrCanceled = errors.New("execx: canceled by caller")
)

// ExecutionRequest describes one external program invocation. It is immutable
// once constructed and owned by the caller for the duration of the call.
type ExecutionRequest struct {
	// Program is the executable name or path.
	Program string
	// Args is the argument vector, excluding the program itself.
	Args []string
	// Dir is the working directory; empty means the process default.
	Dir string
	// Env is the complete environment for the child. Nil inherits the parent
	// environment; non-nil replaces it entirely (keys unique).
	Env map[string]string
	// Timeout bounds the invocation; zero means no internal deadline.
	Timeout time.Duration
}

// ExecutionResult is the outcome of one invocation. Value type, returned by
// copy; it holds no shared mutable state.
type ExecutionResult struct {
	// ExitCode is the process exit status; -1 if the process never started or
	// was aborted before exiting on its own.
	ExitCode int
	// Stdout and Stderr hold the fully captured streams. Empty on abort.
	Stdout string
	Stderr string
	// Success is true iff ExitCode == 0.
	Success bool
	// Duration is measured wall-clock time; on timeout it is the configured
	// timeout, on spawn failure it is zero.
	Duration time.Duration
	// PID is the started process identifier, 0 if never started.
	PID int
	// StartedAt is when the process was launched.
	StartedAt time.Time
	// TimedOut is set when the internal deadline fired before exit.
	TimedOut bool
	// Canceled is set when the caller's context fired before exit.
	Canceled bool
	// Err describes why the invocation failed to produce a normal exit:
	// spawn failure, ErrTimeout, or ErrCanceled. Nil whenever the process
	// exited on its own, even with a non-zero code.
	Err error
}

// Combined returns stdout and stderr concatenated for signature matching
// and diagnostics.
func (r ExecutionResult) Combined() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}
