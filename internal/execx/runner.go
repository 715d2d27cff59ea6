package execx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/wasmforge/internal/logfields"
)

// reapGrace bounds how long Run waits for the killed process to be reaped
// before abandoning the wait goroutine.
const reapGrace = 2 * time.Second

// Run executes the request and blocks until the process exits or the
// effective deadline (min of caller context and request timeout) fires.
// All failure modes are reported through the result; Run never panics on
// external-process faults.
func Run(ctx context.Context, req ExecutionRequest) ExecutionResult {
	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.Command(req.Program, req.Args...)
	cmd.Dir = req.Dir
	if req.Env != nil {
		cmd.Env = flattenEnv(req.Env)
	}
	setProcessGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return startFailure(req, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return startFailure(req, err)
	}

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		return startFailure(req, err)
	}
	pid := cmd.Process.Pid

	// Drain both streams concurrently with the exit wait so a full OS pipe
	// buffer can never deadlock the child.
	var stdout, stderr bytes.Buffer
	var readers sync.WaitGroup
	readers.Add(2)
	go drain(&readers, &stdout, stdoutPipe)
	go drain(&readers, &stderr, stderrPipe)

	done := make(chan error, 1)
	go func() {
		readers.Wait()
		done <- cmd.Wait()
	}()

	select {
	case waitErr := <-done:
		duration := time.Since(startedAt)
		code := 0
		if waitErr != nil {
			code = -1
			if ee, ok := waitErr.(*exec.ExitError); ok {
				code = ee.ExitCode()
			}
		}
		return ExecutionResult{
			ExitCode:  code,
			Stdout:    stdout.String(),
			Stderr:    stderr.String(),
			Success:   code == 0,
			Duration:  duration,
			PID:       pid,
			StartedAt: startedAt,
		}

	case <-runCtx.Done():
		killProcessTree(pid, req.Program)
		// Reap the child, but never let a kill-resistant process (or a
		// detached grandchild holding the output pipes) hold Run past its
		// deadline.
		reap := time.NewTimer(reapGrace)
		select {
		case <-done:
			reap.Stop()
		case <-reap.C:
			slog.Warn("process not reaped after kill, abandoning wait",
				logfields.Program(req.Program), slog.Int("pid", pid))
		}

		res := ExecutionResult{
			ExitCode:  -1,
			PID:       pid,
			StartedAt: startedAt,
		}
		if ctx.Err() != nil {
			// The caller's own signal fired, not the internal timer.
			res.Canceled = true
			res.Err = fmt.Errorf("%w: %s", ErrCanceled, req.Program)
			res.Duration = time.Since(startedAt)
		} else {
			res.TimedOut = true
			res.Err = fmt.Errorf("%w: %s after %s", ErrTimeout, req.Program, req.Timeout)
			res.Duration = req.Timeout
		}
		return res
	}
}

// Start launches the request asynchronously and returns a channel that yields
// the single result. Semantics are identical to Run.
func Start(ctx context.Context, req ExecutionRequest) <-chan ExecutionResult {
	out := make(chan ExecutionResult, 1)
	go func() {
		out <- Run(ctx, req)
		close(out)
	}()
	return out
}

// RunCommand is a convenience wrapper for running a named command with
// defaults: inherit environment, given working directory and timeout.
func RunCommand(ctx context.Context, program string, args []string, dir string, timeout time.Duration) ExecutionResult {
	return Run(ctx, ExecutionRequest{Program: program, Args: args, Dir: dir, Timeout: timeout})
}

// Probe reports whether an optional tool is available on PATH, returning its
// resolved location.
func Probe(tool string) (string, bool) {
	path, err := exec.LookPath(tool)
	if err != nil {
		return "", false
	}
	return path, true
}

func startFailure(req ExecutionRequest, err error) ExecutionResult {
	slog.Warn("external program failed to start",
		logfields.Program(req.Program), logfields.Error(err))
	return ExecutionResult{
		ExitCode: -1,
		Err:      fmt.Errorf("start %s: %w", req.Program, err),
	}
}

func drain(wg *sync.WaitGroup, dst *bytes.Buffer, src io.Reader) {
	defer wg.Done()
	_, _ = io.Copy(dst, src)
}

// flattenEnv converts the override map to the KEY=VALUE slice form, sorted
// for deterministic child environments.
func flattenEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
