package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CloudEngineHub/xpipe-sub000/internal/app"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
)

var openFlags = []commandLineFlag{
	terminalFlag, titleFlag, colorFlag, dirFlag, clearFlag, localFlag, hostFlag, portFlag,
}

func Open() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "open [flags] [connection] [-- command [args...]]",
			Short: "Open a connection in a terminal",
			Long: `Open an interactive session of a connection in a local terminal emulator.

The terminal runs a small launcher script which asks the daemon for the
session command. Without a running daemon this process serves that request
until the terminal has picked it up.

Example:
  xpipe open web
  xpipe open --terminal kitty --color '#336699' web -- htop
`,
		},
		openFlags,
		runOpen,
	)
}

func runOpen(ctx *Context, args []string) error {
	req := app.OpenRequest{
		Terminal: ctx.StringParam("terminal"),
		Title:    ctx.StringParam("title"),
		Color:    ctx.StringParam("color"),
		Dir:      ctx.StringParam("dir"),
		Clear:    ctx.BoolParam("clear"),
	}
	if len(args) > 0 {
		req.Connection = args[0]
		req.Args = args[1:]
	}

	if !ctx.BoolParam("local") {
		err := ctx.App.Client().Request(ctx, app.MessageOpen, req, nil, nil)
		if !daemonUnreachable(err) {
			return err
		}
		logger.Debug(ctx, "Serving terminal requests in process", tag.Error(err))
	}
	return openInProcess(ctx, req)
}

// openInProcess listens on the app socket only while the terminal is being
// set up.
func openInProcess(ctx *Context, req app.OpenRequest) error {
	serveCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()

	listen := make(chan error, 1)
	done := make(chan error, 1)
	go func() { done <- ctx.App.Serve(serveCtx, listen) }()
	if err := <-listen; err != nil {
		return errkind.Wrap(errkind.TransportFailure, "open", fmt.Errorf("listen on %s: %w", ctx.App.SocketAddress(), err))
	}

	err := ctx.App.Open(ctx, req)
	cancel()
	<-done
	return err
}
