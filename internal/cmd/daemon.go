package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CloudEngineHub/xpipe-sub000/internal/appsocket"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
)

func Daemon() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "daemon [flags]",
			Short: "Keep sessions open and serve requests on the app socket",
			Long: `Run in the foreground and serve exec, open and terminal requests on the
app socket. Sessions opened for a request stay open for later requests and
are closed when the daemon receives SIGINT or SIGTERM.

Example:
  xpipe daemon --port 21721
`,
			Args: cobra.NoArgs,
		},
		[]commandLineFlag{hostFlag, portFlag},
		runDaemon,
	)
}

func runDaemon(ctx *Context, _ []string) error {
	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listen := make(chan error, 1)
	done := make(chan error, 1)
	go func() { done <- ctx.App.Serve(sigCtx, listen) }()
	if err := <-listen; err != nil {
		return errkind.Wrap(errkind.TransportFailure, "daemon", err)
	}
	logger.Info(ctx, "Daemon started", tag.Addr(ctx.App.SocketAddress()), tag.PID(os.Getpid()))

	err := <-done
	if errors.Is(err, appsocket.ErrServerRequestedShutdown) {
		err = nil
	}
	logger.Info(ctx, "Daemon stopped")
	return err
}
