//go:build !unix

package execx

import (
	"log/slog"
	"os"
	"os/exec"

	"git.home.luguber.info/inful/wasmforge/internal/logfields"
)

func setProcessGroup(cmd *exec.Cmd) {}

// killProcessTree kills only the direct child on platforms without process
// groups; descendants may survive.
func killProcessTree(pid int, program string) {
	if pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Kill(); err != nil {
		slog.Warn("failed to kill process",
			logfields.Program(program), logfields.PID(pid), logfields.Error(err))
	}
}
