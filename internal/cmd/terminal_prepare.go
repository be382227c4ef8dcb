package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/CloudEngineHub/xpipe-sub000/internal/app"
	"github.com/CloudEngineHub/xpipe-sub000/internal/appsocket"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/backoff"
)

const (
	prepareRetryInterval = 200 * time.Millisecond
	prepareRetries       = 25
	prepareTimeout       = time.Minute
)

// TerminalPrepare is run by launcher scripts inside a new terminal.
func TerminalPrepare() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:    "terminal-prepare [flags] <request-id>",
			Short:  "Resolve the session script of a terminal launch",
			Hidden: true,
			Args:   cobra.ExactArgs(1),
		},
		[]commandLineFlag{hostFlag, portFlag},
		runTerminalPrepare,
	)
}

func runTerminalPrepare(ctx *Context, args []string) error {
	client := ctx.App.Client(
		appsocket.WithRetry(backoff.NewConstantBackoffPolicy(prepareRetryInterval, prepareRetries)),
		appsocket.WithRequestTimeout(prepareTimeout),
	)
	var resp app.TerminalPrepareResponse
	if err := client.Request(ctx, app.MessageTerminalPrepare, app.TerminalPrepareRequest{RequestID: args[0]}, nil, &resp); err != nil {
		return err
	}
	ctx.Printf("%s\n", resp.Target)
	return nil
}
