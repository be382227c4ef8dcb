//go:build !windows

package cmdutil

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// SetupCommand places the child in its own process group so the whole group
// can be signalled at once.
func SetupCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}

// KillProcessGroup sends sig to the process group led by cmd.
func KillProcessGroup(cmd *exec.Cmd, sig os.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		s = syscall.SIGKILL
	}
	err := syscall.Kill(-cmd.Process.Pid, s)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Interrupt asks the process group to stop gracefully.
func Interrupt(cmd *exec.Cmd) error {
	return KillProcessGroup(cmd, syscall.SIGTERM)
}
