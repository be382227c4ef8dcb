// Package app wires the configured components into one explicit
// application context.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/CloudEngineHub/xpipe-sub000/internal/appsocket"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/config"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/report"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/askpass"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shellctl"
	"github.com/CloudEngineHub/xpipe-sub000/internal/store"
	"github.com/CloudEngineHub/xpipe-sub000/internal/terminal"
)

const (
	logFileName  = "xpipe.log"
	logTailLimit = 32 * 1024
)

// App holds everything a command or the daemon needs.
type App struct {
	Config    *config.Config
	Logger    logger.Logger
	Reporter  *report.Reporter
	Stores    *store.Registry
	Requests  *terminal.RequestTable
	Launcher  *terminal.Launcher
	Terminals *terminal.Service
	Socket    *appsocket.Server

	logTail *shellctl.TailWriter
	logFile *os.File
}

// Options tune how the App is built.
type Options struct {
	Quiet bool
	// Stderr receives console logs and error reports. Defaults to os.Stderr.
	Stderr io.Writer
	// Password prompts for secrets. Defaults to the controlling terminal.
	Password askpass.Provider
	// LauncherOptions are passed to the terminal launcher.
	LauncherOptions []terminal.LauncherOption
	// NoLogFile skips the log file below the log directory.
	NoLogFile bool
	// SocketAddress overrides the configured socket host and port.
	SocketAddress string
}

// New builds the application for cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Password == nil {
		opts.Password = askpass.NewTerminal()
	}

	a := &App{
		Config:   cfg,
		Requests: terminal.NewRequestTable(),
		logTail:  shellctl.NewTailWriter(nil, logTailLimit),
	}

	logOpts := []logger.Option{
		logger.WithFormat(cfg.Core.LogFormat),
		logger.WithConsole(opts.Stderr),
		logger.WithWriter(a.logTail),
	}
	if cfg.Core.Debug {
		logOpts = append(logOpts, logger.WithDebug())
	}
	if opts.Quiet {
		logOpts = append(logOpts, logger.WithQuiet())
	}
	if !opts.NoLogFile && cfg.Paths.LogDir != "" {
		f, err := openLogFile(cfg.Paths.LogDir)
		if err != nil {
			return nil, err
		}
		a.logFile = f
		logOpts = append(logOpts, logger.WithWriter(f))
	}
	a.Logger = logger.NewLogger(logOpts...)
	a.Reporter = report.New(opts.Stderr, report.WithLogTail(a.logTail), report.WithColor(isTerminal(opts.Stderr)))

	stores, err := store.NewRegistry(cfg, opts.Password)
	if err != nil {
		a.closeLog()
		return nil, err
	}
	a.Stores = stores

	launcherOpts := []terminal.LauncherOption{terminal.WithKittySocket(cfg.Terminal.KittySocket)}
	a.Launcher = terminal.NewLauncher(append(launcherOpts, opts.LauncherOptions...)...)
	a.Terminals = terminal.NewService(a.Launcher, a.Requests, terminal.ServiceConfig{
		Executable:    cfg.Terminal.Executable,
		ScriptDir:     filepath.Join(cfg.Paths.TempDir, "terminal"),
		Dialect:       a.LocalDialect(),
		LaunchTimeout: cfg.Terminal.LaunchTimeout,
		Preferred:     terminal.Type(cfg.Terminal.Preferred),
	})

	addr := opts.SocketAddress
	if addr == "" {
		addr = appsocket.Address(cfg.Socket.Host, cfg.Socket.Port)
	}
	a.Socket = appsocket.NewServer(addr)
	a.registerHandlers()
	return a, nil
}

// Context returns ctx carrying the application logger.
func (a *App) Context(ctx context.Context) context.Context {
	return logger.WithLogger(ctx, a.Logger)
}

// LocalDialect is the shell local helper scripts are written for.
func (a *App) LocalDialect() dialect.Dialect {
	if id := strings.ToLower(a.Config.Core.DefaultShell); id != "" {
		if d, ok := dialect.Lookup(dialect.ID(id)); ok && d.Family() != dialect.FamilyFish {
			return d
		}
	}
	return dialect.ForOS(ostype.Local())
}

// SocketAddress is where the daemon listens.
func (a *App) SocketAddress() string {
	return a.Socket.Addr()
}

// Client talks to the daemon of this configuration.
func (a *App) Client(opts ...appsocket.ClientOption) *appsocket.Client {
	return appsocket.NewClient(a.SocketAddress(), opts...)
}

// Report prints err and returns the exit code.
func (a *App) Report(ctx context.Context, err error) int {
	return a.Reporter.Report(a.Context(ctx), err)
}

// Close shuts down the socket server and every open session.
func (a *App) Close(ctx context.Context) error {
	ctx = a.Context(ctx)
	err := errors.Join(
		a.Socket.Shutdown(ctx),
		a.Stores.Close(ctx),
	)
	a.closeLog()
	return err
}

func (a *App) closeLog() {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}
