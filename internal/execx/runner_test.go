//go:build unix

package execx

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuccessCapturesOutput(t *testing.T) {
	res := Run(context.Background(), ExecutionRequest{
		Program: "sh",
		Args:    []string{"-c", "printf ok; printf warn >&2"},
		Timeout: 10 * time.Second,
	})

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "ok", res.Stdout)
	assert.Equal(t, "warn", res.Stderr)
	assert.NotZero(t, res.PID)
	assert.False(t, res.StartedAt.IsZero())
}

func TestRunNonZeroExitIsNotAnEngineError(t *testing.T) {
	res := Run(context.Background(), ExecutionRequest{
		Program: "sh",
		Args:    []string{"-c", "exit 3"},
		Timeout: 10 * time.Second,
	})

	require.NoError(t, res.Err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunTimeoutKillsProcessTree(t *testing.T) {
	start := time.Now()
	res := Run(context.Background(), ExecutionRequest{
		Program: "sh",
		Args:    []string{"-c", "sleep 30 & sleep 30"},
		Timeout: 2 * time.Second,
	})
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Canceled)
	require.ErrorIs(t, res.Err, ErrTimeout)
	assert.Equal(t, 2*time.Second, res.Duration)
	assert.Less(t, elapsed, 10*time.Second)
	assert.Empty(t, res.Stdout)

	// The group leader must be gone after Run returns.
	require.NotZero(t, res.PID)
	err := syscall.Kill(res.PID, 0)
	assert.Error(t, err, "process %d still alive after timeout", res.PID)
}

func TestRunTimeoutBoundedWithDetachedGrandchild(t *testing.T) {
	// setsid moves the grandchild into its own process group, out of reach
	// of the group kill. It inherits the output pipes, so the reap would
	// block until it exits; Run must abandon the wait instead.
	if _, ok := Probe("setsid"); !ok {
		t.Skip("setsid not available")
	}
	start := time.Now()
	res := Run(context.Background(), ExecutionRequest{
		Program: "sh",
		Args:    []string{"-c", "setsid sleep 30 & sleep 30"},
		Timeout: 500 * time.Millisecond,
	})
	elapsed := time.Since(start)

	assert.True(t, res.TimedOut)
	require.ErrorIs(t, res.Err, ErrTimeout)
	assert.Less(t, elapsed, reapGrace+5*time.Second)
}

func TestRunCallerCancellationIsDistinguished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	res := Run(ctx, ExecutionRequest{
		Program: "sleep",
		Args:    []string{"30"},
		Timeout: time.Minute,
	})

	assert.Equal(t, -1, res.ExitCode)
	assert.True(t, res.Canceled)
	assert.False(t, res.TimedOut)
	require.ErrorIs(t, res.Err, ErrCanceled)
}

func TestRunSpawnFailure(t *testing.T) {
	res := Run(context.Background(), ExecutionRequest{
		Program: "definitely-not-a-real-binary-1b2c3",
		Timeout: time.Second,
	})

	assert.Equal(t, -1, res.ExitCode)
	assert.False(t, res.Success)
	assert.Zero(t, res.Duration)
	assert.Zero(t, res.PID)
	require.Error(t, res.Err)
	assert.False(t, errors.Is(res.Err, ErrTimeout))
}

func TestStartMatchesRunSemantics(t *testing.T) {
	ch := Start(context.Background(), ExecutionRequest{
		Program: "sh",
		Args:    []string{"-c", "printf async"},
		Timeout: 10 * time.Second,
	})

	res := <-ch
	assert.True(t, res.Success)
	assert.Equal(t, "async", res.Stdout)

	_, open := <-ch
	assert.False(t, open, "result channel should be closed after the single result")
}

func TestRunHonorsEnvOverrides(t *testing.T) {
	res := Run(context.Background(), ExecutionRequest{
		Program: "sh",
		Args:    []string{"-c", "printf \"$FORGE_MARKER\""},
		Env:     map[string]string{"PATH": "/usr/bin:/bin", "FORGE_MARKER": "isolated"},
		Timeout: 10 * time.Second,
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "isolated", res.Stdout)
}

func TestRunHonorsWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	res := Run(context.Background(), ExecutionRequest{
		Program: "pwd",
		Dir:     dir,
		Timeout: 10 * time.Second,
	})

	require.NoError(t, res.Err)
	assert.Contains(t, res.Stdout, dir)
}

func TestCombinedOutput(t *testing.T) {
	assert.Equal(t, "a\nb", ExecutionResult{Stdout: "a", Stderr: "b"}.Combined())
	assert.Equal(t, "a", ExecutionResult{Stdout: "a"}.Combined())
	assert.Equal(t, "b", ExecutionResult{Stderr: "b"}.Combined())
}

func TestProbe(t *testing.T) {
	path, ok := Probe("sh")
	assert.True(t, ok)
	assert.NotEmpty(t, path)

	_, ok = Probe("definitely-not-a-real-binary-1b2c3")
	assert.False(t, ok)
}
