//go:build unix

package daemonproc

import (
	"log/slog"
	"os/exec"
	"syscall"

	"git.home.luguber.info/inful/wasmforge/internal/logfields"
)

func setDaemonProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killDaemonTree force-kills the daemon's process group. Best-effort.
func killDaemonTree(pid int, kind string) {
	if pid <= 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		slog.Warn("failed to kill daemon process group",
			logfields.DaemonKind(kind), logfields.PID(pid), logfields.Error(err))
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}
