package terminal

import (
	"context"
	"path/filepath"
	"time"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/fileutil"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/command"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shellctl"
)

const defaultLaunchTimeout = 30 * time.Second

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Executable is the xpipe binary the launcher script calls back into.
	Executable string
	// ScriptDir receives launcher and target scripts.
	ScriptDir string
	// Dialect is the local shell the scripts are written for.
	Dialect       dialect.Dialect
	LaunchTimeout time.Duration
	// Preferred is used when an open request names no terminal. Empty
	// means detect.
	Preferred Type
}

// Service opens sessions in terminals through a launch handshake: the
// terminal runs a launcher script that calls `xpipe terminal-prepare <id>`,
// which resolves the request to a target script.
type Service struct {
	launcher *Launcher
	requests *RequestTable
	cfg      ServiceConfig
}

func NewService(l *Launcher, requests *RequestTable, cfg ServiceConfig) *Service {
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = defaultLaunchTimeout
	}
	return &Service{launcher: l, requests: requests, cfg: cfg}
}

// OpenOptions describe one terminal launch.
type OpenOptions struct {
	Terminal Type
	Title    string
	Color    string
	// Dir is the directory the session starts in.
	Dir   string
	Clear bool
	// Command runs in the session; nil opens an interactive shell.
	Command *command.Builder
}

// Open shows c in a terminal and waits until the terminal picked up the
// session.
func (s *Service) Open(ctx context.Context, c *shellctl.Control, opts OpenOptions) error {
	t := opts.Terminal
	if t == "" {
		t = s.cfg.Preferred
	}
	if t == "" {
		var err error
		if t, err = s.launcher.Detect(); err != nil {
			return err
		}
	}

	req := NewRequest(c, shellctl.TerminalInit{Title: opts.Title, Dir: opts.Dir}, opts.Command)
	req.Clear = opts.Clear
	s.requests.Register(req)
	defer s.requests.Remove(req.ID)

	ctx = logger.WithValues(ctx, tag.RequestID(req.ID), tag.Terminal(string(t)))

	content, err := launcherScript(s.cfg.Dialect, s.cfg.Executable, req.ID)
	if err != nil {
		return err
	}
	path := filepath.Join(s.cfg.ScriptDir, "launch-"+req.ID+s.cfg.Dialect.ScriptExtension())
	if err := fileutil.WriteExecutable(path, []byte(content)); err != nil {
		return errkind.Wrap(errkind.InternalError, "write launcher script", err)
	}

	err = s.launcher.Launch(ctx, t, LaunchConfiguration{
		Title:      opts.Title,
		Color:      opts.Color,
		Argv:       runScriptArgv(s.cfg.Dialect, path),
		ScriptPath: path,
	})
	if err != nil {
		return err
	}

	if _, err := req.Wait(ctx, s.cfg.LaunchTimeout); err != nil {
		logger.Warn(ctx, "Terminal launch failed", tag.Error(err))
		return err
	}
	logger.Info(ctx, "Terminal session opened", tag.Connection(c.Name()))
	return nil
}

// Prepare resolves request id: it renders the session's terminal command
// into a target script and returns its path.
func (s *Service) Prepare(ctx context.Context, id string) (string, error) {
	req, ok := s.requests.Get(id)
	if !ok {
		return "", errkind.NotFoundf("terminal prepare", "unknown request %s", id)
	}
	target, err := s.prepare(ctx, req)
	req.complete(target, err)
	return target, err
}

func (s *Service) prepare(ctx context.Context, req *Request) (string, error) {
	argv, err := req.Control.PrepareTerminalOpen(ctx, req.Init, req.Command)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.ScriptDir, "target-"+req.ID+s.cfg.Dialect.ScriptExtension())
	if err := fileutil.WriteExecutable(path, []byte(targetScript(s.cfg.Dialect, argv, req.Clear))); err != nil {
		return "", errkind.Wrap(errkind.InternalError, "write target script", err)
	}
	return path, nil
}

// Requests is the table of pending launches.
func (s *Service) Requests() *RequestTable { return s.requests }

// Launcher is the underlying terminal launcher.
func (s *Service) Launcher() *Launcher { return s.launcher }
