// Package daemonproc tracks long-running auxiliary processes (for example a
// local chain-simulator node) with enforced single-instance semantics per
// daemon kind and line-oriented output streaming.
package daemonproc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"git.home.luguber.info/inful/wasmforge/internal/logfields"
)

// ErrAlreadyRunning is returned when a daemon of the same kind is tracked.
var ErrAlreadyRunning = errors.New("daemonproc: daemon of this kind already running")

// ErrNotRunning is returned by Stop when no daemon of the kind is tracked.
var ErrNotRunning = errors.New("daemonproc: no daemon of this kind running")

// LineFunc receives one line of daemon output without the trailing newline.
type LineFunc func(line string)

// StartOptions configures a daemon launch.
type StartOptions struct {
	Program string
	Args    []string
	Dir     string
	Env     map[string]string
	// OnStdout and OnStderr are invoked per produced line as it appears.
	// Nil callbacks route lines into the structured log at debug level.
	OnStdout LineFunc
	OnStderr LineFunc
}

type handle struct {
	kind string
	cmd  *exec.Cmd
	pid  int
	wg   sync.WaitGroup
	done chan struct{}
}

// Registry tracks at most one daemon per kind. The zero value is not usable;
// construct with NewRegistry.
type Registry struct {
	mu      sync.Mutex
	daemons map[string]*handle
}

// NewRegistry creates an empty daemon registry.
func NewRegistry() *Registry {
	return &Registry{daemons: make(map[string]*handle)}
}

// Start launches a daemon of the given kind. Starting a second daemon while
// one of the same kind is tracked fails with ErrAlreadyRunning; the previous
// handle must be stopped first.
func (r *Registry) Start(kind string, opts StartOptions) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.daemons[kind]; exists {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyRunning, kind)
	}

	cmd := exec.Command(opts.Program, opts.Args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		env := make([]string, 0, len(opts.Env))
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	setDaemonProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe for %s: %w", kind, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("stderr pipe for %s: %w", kind, err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon %s: %w", kind, err)
	}

	h := &handle{kind: kind, cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}

	onStdout := opts.OnStdout
	if onStdout == nil {
		onStdout = defaultLineLogger(kind, "stdout")
	}
	onStderr := opts.OnStderr
	if onStderr == nil {
		onStderr = defaultLineLogger(kind, "stderr")
	}

	h.wg.Add(2)
	go streamLines(&h.wg, stdout, onStdout)
	go streamLines(&h.wg, stderr, onStderr)

	// Single reaper goroutine owns cmd.Wait so a daemon dying on its own
	// never leaves a zombie, and Stop can synchronize on h.done.
	go func() {
		h.wg.Wait()
		_ = cmd.Wait()
		close(h.done)
		r.mu.Lock()
		if r.daemons[kind] == h {
			delete(r.daemons, kind)
		}
		r.mu.Unlock()
		slog.Info("daemon exited", logfields.DaemonKind(kind), logfields.PID(h.pid))
	}()

	r.daemons[kind] = h
	slog.Info("daemon started",
		logfields.DaemonKind(kind), logfields.Program(opts.Program), logfields.PID(h.pid))
	return h.pid, nil
}

// Stop terminates the tracked daemon of the given kind, killing its process
// tree, and releases the slot.
func (r *Registry) Stop(kind string) error {
	r.mu.Lock()
	h, exists := r.daemons[kind]
	if exists {
		delete(r.daemons, kind)
	}
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotRunning, kind)
	}

	killDaemonTree(h.pid, kind)
	<-h.done
	slog.Info("daemon stopped", logfields.DaemonKind(kind), logfields.PID(h.pid))
	return nil
}

// Running reports whether a daemon of the given kind is tracked.
func (r *Registry) Running(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.daemons[kind]
	return ok
}

// StopAll stops every tracked daemon; used at service shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	kinds := make([]string, 0, len(r.daemons))
	for k := range r.daemons {
		kinds = append(kinds, k)
	}
	r.mu.Unlock()

	for _, k := range kinds {
		if err := r.Stop(k); err != nil && !errors.Is(err, ErrNotRunning) {
			slog.Warn("failed to stop daemon", logfields.DaemonKind(k), logfields.Error(err))
		}
	}
}

func streamLines(wg *sync.WaitGroup, src io.Reader, fn LineFunc) {
	defer wg.Done()
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}

func defaultLineLogger(kind, stream string) LineFunc {
	return func(line string) {
		slog.Debug("daemon output", logfields.DaemonKind(kind), slog.String("stream", stream), slog.String("line", line))
	}
}
