//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

func setSysProcAttrs(cmd *exec.Cmd) {}

// Windows has no process groups in the Unix sense; kill the process directly.
func terminate(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func forceKill(pid int) { terminate(pid) }
