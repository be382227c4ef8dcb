//go:build windows

package transport

import (
	"os/exec"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
)

func startPTY(*exec.Cmd) (*localChannel, error) {
	return nil, errkind.New(errkind.Unsupported, "pty sessions are not available on windows")
}
