//go:build windows

package cmdutil

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// SetupCommand starts the child in a new process group without a console
// window of its own.
func SetupCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
		HideWindow:    true,
	}
}

// KillProcessGroup terminates the process and its subprocess tree. Windows has
// no signals, so sig is ignored.
func KillProcessGroup(cmd *exec.Cmd, _ os.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return killProcessTree(uint32(cmd.Process.Pid))
}

// Interrupt has no graceful equivalent for detached console processes and
// terminates the tree.
func Interrupt(cmd *exec.Cmd) error {
	return KillProcessGroup(cmd, os.Kill)
}

func killProcessTree(pid uint32) error {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return fmt.Errorf("CreateToolhelp32Snapshot failed: %w", err)
	}
	defer func() { _ = windows.CloseHandle(snapshot) }()

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return err
	}

	var children []uint32
	for {
		if entry.ParentProcessID == pid {
			children = append(children, entry.ProcessID)
		}
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			break
		}
	}
	for _, child := range children {
		_ = killProcessTree(child)
	}

	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, pid)
	if err != nil {
		return nil
	}
	defer func() { _ = windows.CloseHandle(h) }()
	return windows.TerminateProcess(h, 1)
}
