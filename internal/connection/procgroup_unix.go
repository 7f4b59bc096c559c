//go:build !windows

package connection

import (
	"os/exec"
	"syscall"
)

// SetProcessGroup places cmd in its own process group so KillProcessGroup
// can terminate the whole tree it spawns, not just the immediate child —
// the same technique the teacher's runLocalCommandExec (exec.go) uses.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func KillProcessGroup(cmd *exec.Cmd) {
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
