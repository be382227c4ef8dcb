package cmdutil

import (
	"os"
	"os/exec"
	"runtime"
)

// DefaultShellEnv overrides the detected local shell.
const DefaultShellEnv = "XPIPE_DEFAULT_SHELL"

// DefaultShell returns the shell executable for local sessions. An explicit
// configuration wins, then XPIPE_DEFAULT_SHELL, then the platform default.
func DefaultShell(configured string) string {
	if configured != "" {
		return configured
	}
	if sh := os.Getenv(DefaultShellEnv); sh != "" {
		return sh
	}
	if runtime.GOOS == "windows" {
		return windowsDefaultShell()
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	if sh, err := exec.LookPath("sh"); err == nil {
		return sh
	}
	return "/bin/sh"
}

func windowsDefaultShell() string {
	for _, name := range []string{"pwsh", "powershell", "cmd"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return "cmd.exe"
}
