//go:build windows

package connection

import "os/exec"

func SetProcessGroup(cmd *exec.Cmd) {}

func KillProcessGroup(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}
