package terminal

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/backoff"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/cmdutil"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/fileutil"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
)

// StartFunc starts argv detached from the caller.
type StartFunc func(ctx context.Context, argv []string, dir string) error

// DialFunc connects to a local socket.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Launcher starts terminal emulators.
type Launcher struct {
	os          ostype.Type
	lookPath    func(string) (string, error)
	exists      func(string) bool
	start       StartFunc
	dial        DialFunc
	kittySocket string
	retry       backoff.RetryPolicy

	kittyMu sync.Mutex
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) LauncherOption {
	return func(l *Launcher) { l.lookPath = fn }
}

// WithExists replaces the check for application bundles.
func WithExists(fn func(string) bool) LauncherOption {
	return func(l *Launcher) { l.exists = fn }
}

// WithStarter replaces how terminal processes are started.
func WithStarter(fn StartFunc) LauncherOption {
	return func(l *Launcher) { l.start = fn }
}

// WithDialer replaces how the kitty socket is dialed.
func WithDialer(fn DialFunc) LauncherOption {
	return func(l *Launcher) { l.dial = fn }
}

// WithKittySocket sets the unix socket kitty listens on.
func WithKittySocket(path string) LauncherOption {
	return func(l *Launcher) {
		if path != "" {
			l.kittySocket = path
		}
	}
}

// WithRetryPolicy sets how long to wait for a freshly started kitty.
func WithRetryPolicy(p backoff.RetryPolicy) LauncherOption {
	return func(l *Launcher) { l.retry = p }
}

// WithOS overrides the platform terminals are chosen for.
func WithOS(os ostype.Type) LauncherOption {
	return func(l *Launcher) { l.os = os }
}

func NewLauncher(opts ...LauncherOption) *Launcher {
	var d net.Dialer
	l := &Launcher{
		os:          ostype.Local(),
		lookPath:    exec.LookPath,
		exists:      fileutil.IsDir,
		start:       startDetached,
		dial:        d.DialContext,
		kittySocket: filepath.Join(os.TempDir(), "xpipe_kitty"),
		retry:       backoff.NewConstantBackoffPolicy(100*time.Millisecond, 50),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch opens cfg in the terminal t.
func (l *Launcher) Launch(ctx context.Context, t Type, cfg LaunchConfiguration) error {
	info, ok := Lookup(t)
	if !ok {
		return errkind.Errorf(errkind.Unsupported, "launch terminal", "unknown terminal %q", t)
	}
	if !info.Supports(l.os) {
		return errkind.Errorf(errkind.Unsupported, "launch terminal", "%s is not available on %s", info.Name, l.os)
	}
	exe, err := l.find(info)
	if err != nil {
		return err
	}
	logger.Info(ctx, "Launching terminal", tag.Terminal(string(t)), tag.File(exe))
	return info.launch(ctx, l, exe, cfg)
}

func (l *Launcher) find(info Info) (string, error) {
	if info.Bundle != "" && !l.exists(info.Bundle) {
		return "", errkind.NotFoundf("launch terminal", "application not found: %s", info.Name)
	}
	for _, name := range info.Executables {
		if path, err := l.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", errkind.NotFoundf("launch terminal", "application not found: %s", info.Name)
}

// Installed reports whether the terminal can be launched here.
func (l *Launcher) Installed(info Info) bool {
	if !info.Supports(l.os) {
		return false
	}
	_, err := l.find(info)
	return err == nil
}

// Detect returns the first installed terminal for the launcher's platform.
func (l *Launcher) Detect() (Type, error) {
	for _, info := range ForOS(l.os) {
		if l.Installed(info) {
			return info.Type, nil
		}
	}
	return "", errkind.NotFoundf("detect terminal", "no supported terminal found on %s", l.os)
}

func (l *Launcher) run(ctx context.Context, argv []string, dir string) error {
	logger.Debug(ctx, "Starting terminal process", tag.Args(argv))
	return l.start(ctx, argv, dir)
}

func startDetached(_ context.Context, argv []string, dir string) error {
	// not bound to a context: the terminal outlives the request
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmdutil.SetupCommand(cmd)
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return errkind.NotFoundf("launch terminal", "application not found: %s", argv[0])
		}
		return errkind.Wrap(errkind.InternalError, "launch terminal", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func errInvalidConfig(format string, args ...any) error {
	return errkind.Errorf(errkind.InternalError, "launch terminal", format, args...)
}
