//go:build windows

package runner

import (
	"os"
	"os/exec"
	"strconv"
)

func defaultShell() []string {
	return []string{"cmd.exe", "/C"}
}

func configureProcAttr(cmd *exec.Cmd) {}

// signalProcess cannot deliver an interrupt to an arbitrary console process on
// Windows, so a graceful stop is a no-op there and the second stop kills the tree.
func signalProcess(proc *os.Process, graceful bool) error {
	if graceful {
		return nil
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(proc.Pid))
	if err := kill.Run(); err != nil {
		return proc.Kill()
	}
	return nil
}
