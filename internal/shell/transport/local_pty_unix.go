//go:build !windows

package transport

import (
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
)

// startPTY runs cmd on a pseudo terminal in raw mode, so the terminal
// neither echoes input nor rewrites line endings.
func startPTY(cmd *exec.Cmd) (*localChannel, error) {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 200})
	if err != nil {
		return nil, errkind.Wrap(errkind.TransportFailure, "start pty", err)
	}
	if _, err := term.MakeRaw(int(ptmx.Fd())); err != nil {
		_ = cmd.Process.Kill()
		_ = ptmx.Close()
		return nil, errkind.Wrap(errkind.TransportFailure, "configure pty", err)
	}
	return newLocalChannel(cmd, ptmx, ptmx, nil), nil
}
