package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CloudEngineHub/xpipe-sub000/internal/app"
	"github.com/CloudEngineHub/xpipe-sub000/internal/appsocket"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/config"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/stringutil"
	"github.com/CloudEngineHub/xpipe-sub000/internal/report"
)

// Context holds the configuration and application for a command.
type Context struct {
	context.Context

	Command *cobra.Command
	Flags   []commandLineFlag
	Config  *config.Config
	App     *app.App
	Quiet   bool
}

// ExitError carries the process exit code of a failed command. The error
// has already been reported when it is returned.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewContext loads the configuration and builds the application.
func NewContext(cmd *cobra.Command, flags []commandLineFlag) (*Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	v := viper.New()
	if err := bindFlags(v, cmd, flags...); err != nil {
		return nil, err
	}

	var loaderOpts []config.ConfigLoaderOption
	if cfgPath, _ := cmd.Flags().GetString("config"); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}
	if home, _ := cmd.Flags().GetString("home"); home != "" {
		loaderOpts = append(loaderOpts, config.WithAppHomeDir(home))
	}

	cfg, err := config.NewConfigLoader(v, loaderOpts...).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a, err := app.New(cfg, app.Options{Quiet: quiet, Stderr: cmd.ErrOrStderr()})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	ctx = a.Context(ctx)

	for _, w := range cfg.Warnings {
		logger.Warn(ctx, w)
	}

	return &Context{
		Context: ctx,
		Command: cmd,
		Flags:   flags,
		Config:  cfg,
		App:     a,
		Quiet:   quiet,
	}, nil
}

// StringParam returns the value of a string flag with surrounding double
// quotes removed.
func (c *Context) StringParam(name string) string {
	val, _ := c.Command.Flags().GetString(name)
	return stringutil.RemoveQuotes(val)
}

// BoolParam returns the value of a boolean flag.
func (c *Context) BoolParam(name string) bool {
	val, _ := c.Command.Flags().GetBool(name)
	return val
}

// Printf writes to the command's standard output.
func (c *Context) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.Command.OutOrStdout(), format, args...)
}

// NewCommand creates a new command instance with the given cobra command and run function.
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, runFunc func(cmd *Context, args []string) error) *cobra.Command {
	initFlags(cmd, flags...)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, err := NewContext(cmd, flags)
		if err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Initialization error: %v\n", err)
			return &ExitError{Code: report.ExitFailure}
		}

		runErr := runFunc(ctx, args)
		var exitErr *ExitError
		if runErr != nil && !errors.As(runErr, &exitErr) {
			exitErr = &ExitError{Code: ctx.App.Report(ctx, runErr)}
		}
		if err := ctx.App.Close(context.WithoutCancel(ctx.Context)); err != nil {
			logger.Warn(ctx, "Failed to shut down cleanly", tag.Error(err))
		}
		if exitErr != nil {
			return exitErr
		}
		return nil
	}

	return cmd
}

// daemonUnreachable reports whether err means no daemon answered, as
// opposed to a daemon that ran the request and failed.
func daemonUnreachable(err error) bool {
	return errors.Is(err, appsocket.ErrDaemonUnreachable)
}
