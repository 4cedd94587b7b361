//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setSysProcAttrs puts the child in its own process group so signals reach
// the whole tree.
func setSysProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the process group, falling back to the single
// process when group signaling is not permitted.
func terminate(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}
}

func forceKill(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}
