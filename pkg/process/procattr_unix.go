//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the command in its own process group and
// kills the whole group on cancellation, so tools that fork helpers (git
// remote helpers, npm workers) are stopped with it.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
