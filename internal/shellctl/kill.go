package shellctl

import (
	"context"
	"fmt"
	"strconv"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/cmdutil"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/transport"
)

// killProcess kills a sub-shell's process tree from outside the session.
func (c *Control) killProcess(ctx context.Context) error {
	pid := c.PID()
	if pid <= 0 {
		return errkind.Errorf(errkind.Unsupported, "kill "+c.opts.Name, "process id of %s is unknown", c.dialect.Name())
	}
	if c.transport.IsLocal() {
		return cmdutil.KillTree(ctx, pid)
	}

	argv := []string{"sh", "-c", fmt.Sprintf("pkill -9 -P %d 2>/dev/null; kill -9 %d", pid, pid)}
	if c.OS().IsWindows() {
		argv = []string{"taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)}
	}
	ch, err := c.transport.Open(ctx, transport.Launch{Argv: argv})
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()
	_ = ch.Stdin().Close()
	if !waitExit(ch, c.opts.ExitTimeout) {
		_ = ch.Kill()
		return errkind.Errorf(errkind.Timeout, "kill "+c.opts.Name, "kill did not finish within %s", c.opts.ExitTimeout)
	}
	if code := ch.ExitCode(); code != 0 {
		return errkind.Output("kill "+c.opts.Name, code, "", "")
	}
	return nil
}
