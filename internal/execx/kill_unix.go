//go:build unix

package execx

import (
	"log/slog"
	"os/exec"
	"syscall"

	"git.home.luguber.info/inful/wasmforge/internal/logfields"
)

// setProcessGroup places the child in its own process group so the whole
// descendant tree can be terminated with one signal.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree force-kills the process group rooted at pid. Best-effort:
// failures are logged and swallowed.
func killProcessTree(pid int, program string) {
	if pid <= 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		slog.Warn("failed to kill process group, falling back to single process",
			logfields.Program(program), logfields.PID(pid), logfields.Error(err))
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			slog.Warn("failed to kill process",
				logfields.Program(program), logfields.PID(pid), logfields.Error(err))
		}
	}
}
