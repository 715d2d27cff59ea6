//go:build !unix

package daemonproc

import (
	"os"
	"os/exec"
)

func setDaemonProcessGroup(cmd *exec.Cmd) {}

func killDaemonTree(pid int, kind string) {
	if pid <= 0 {
		return
	}
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Kill()
	}
}
