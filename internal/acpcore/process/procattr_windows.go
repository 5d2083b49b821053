//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"syscall"
)

func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

func killProcessGroup(pid int) error {
	kill := exec.Command("taskkill", "/F", "/T", "/PID", fmt.Sprintf("%d", pid))
	return kill.Run()
}

func terminateProcessGroup(pid int) error {
	kill := exec.Command("taskkill", "/T", "/PID", fmt.Sprintf("%d", pid))
	return kill.Run()
}
