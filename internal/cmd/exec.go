package cmd

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CloudEngineHub/xpipe-sub000/internal/app"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/report"
)

var rawFlag = commandLineFlag{
	name:   "raw",
	usage:  "pass the command to the shell as one unquoted line",
	isBool: true,
}

var execFlags = []commandLineFlag{
	timeoutFlag, dirFlag, elevatedFlag, charsetFlag, stdinFlag, rawFlag, localFlag, hostFlag, portFlag,
}

func Exec() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "exec [flags] <connection> -- <command> [args...]",
			Short: "Run a command on a connection",
			Long: `Run a command in the shell session of a connection and print its output.

Arguments are quoted for the target shell so they arrive verbatim. With --raw
they are joined into a single line that the shell interprets.

The command runs in the daemon when one is reachable, which keeps sessions
open between invocations. Otherwise a session is opened in this process.

Example:
  xpipe exec web -- ls -la /var/log
  xpipe exec --raw local -- 'echo $HOME'
`,
			Args: cobra.MinimumNArgs(2),
		},
		execFlags,
		runExec,
	)
}

func runExec(ctx *Context, args []string) error {
	req := app.ExecRequest{
		Connection: args[0],
		Timeout:    ctx.StringParam("timeout"),
		Dir:        ctx.StringParam("dir"),
		Elevated:   ctx.BoolParam("elevated"),
		Charset:    ctx.StringParam("charset"),
	}
	if ctx.BoolParam("raw") {
		req.Line = strings.Join(args[1:], " ")
	} else {
		req.Args = args[1:]
	}

	var stdin []byte
	if ctx.BoolParam("stdin") {
		var err error
		if stdin, err = io.ReadAll(ctx.Command.InOrStdin()); err != nil {
			return errkind.Wrap(errkind.TransportFailure, "read stdin", err)
		}
	}

	resp, err := execute(ctx, req, stdin)
	if err != nil {
		return err
	}

	if resp.Stdout != "" {
		ctx.Printf("%s\n", resp.Stdout)
	}
	if resp.Stderr != "" {
		_, _ = io.WriteString(ctx.Command.ErrOrStderr(), resp.Stderr+"\n")
	}
	if resp.ExitCode != 0 {
		code := resp.ExitCode
		if code < 1 || code > 255 {
			code = report.ExitFailure
		}
		return &ExitError{Code: code}
	}
	return nil
}

func execute(ctx *Context, req app.ExecRequest, stdin []byte) (app.ExecResponse, error) {
	if !ctx.BoolParam("local") {
		var resp app.ExecResponse
		err := ctx.App.Client().Request(ctx, app.MessageExec, req, stdin, &resp)
		if !daemonUnreachable(err) {
			return resp, err
		}
		logger.Debug(ctx, "Running in process", tag.Error(err))
	}
	return ctx.App.Exec(ctx, req, stdin)
}
