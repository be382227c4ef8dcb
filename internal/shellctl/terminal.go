package shellctl

import (
	"context"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/command"
)

// TerminalInit adjusts the shell opened in a terminal.
type TerminalInit struct {
	// Title is set through the innermost shell's title escape.
	Title string
	// Dir is the directory the shell starts in.
	Dir string
}

// PrepareTerminalOpen returns the local argv that opens this session in a
// terminal: an interactive shell if b is nil, otherwise b running in it.
// Sub-shells are nested through their parents' dialects.
func (c *Control) PrepareTerminalOpen(ctx context.Context, init TerminalInit, b *command.Builder) ([]string, error) {
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}

	cmd := ""
	if b != nil {
		var err error
		if cmd, err = b.Build().Evaluate(ctx, c); err != nil {
			return nil, errkind.Wrap(errkind.InternalError, "prepare terminal", err)
		}
	}
	if cmd == "" && (init.Dir != "" || init.Title != "") {
		cmd = c.dialect.JoinArgv(c.interactiveArgv())
	}
	if init.Dir != "" {
		cmd = c.dialect.And(c.dialect.ChangeDirectory(init.Dir), cmd)
	}
	if init.Title != "" {
		cmd = c.dialect.Sequence(c.dialect.SetTitle(init.Title), cmd)
	}

	cur := c
	for ; cur.parent != nil; cur = cur.parent {
		argv := cur.interactiveArgv()
		if cmd != "" {
			argv = cur.executeArgv(cmd)
		}
		cmd = cur.parent.dialect.JoinArgv(argv)
	}
	return c.transport.TerminalArgv(cur.dialect, cmd), nil
}

func (c *Control) interactiveArgv() []string {
	argv := c.dialect.InteractiveArgv()
	if c.opts.ShellPath != "" {
		argv[0] = c.opts.ShellPath
	}
	return argv
}
