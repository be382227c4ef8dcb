package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/cmdutil"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
)

var _ Transport = (*Local)(nil)

// Local runs processes on this machine.
type Local struct {
	hostname string
}

// NewLocal creates a local transport.
func NewLocal() *Local {
	host, _ := os.Hostname()
	return &Local{hostname: host}
}

func (l *Local) IsLocal() bool    { return true }
func (l *Local) SystemID() string { return "local:" + l.hostname }
func (l *Local) Close() error     { return nil }

func (l *Local) TerminalArgv(d dialect.Dialect, command string) []string {
	if command == "" {
		return d.InteractiveArgv()
	}
	return d.ExecuteArgv(command)
}

func (l *Local) WriteFile(_ context.Context, path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errkind.Wrap(errkind.TransportFailure, "write file", err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return errkind.Wrap(errkind.TransportFailure, "write file", err)
	}
	return nil
}

func (l *Local) RemoveFile(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errkind.Wrap(errkind.TransportFailure, "remove file", err)
	}
	return nil
}

func (l *Local) Open(ctx context.Context, launch Launch) (Channel, error) {
	if len(launch.Argv) == 0 {
		return nil, errkind.New(errkind.InternalError, "local transport requires a program")
	}
	path, err := exec.LookPath(launch.Argv[0])
	if err != nil {
		return nil, errkind.Wrap(errkind.NotFound, "start "+launch.Argv[0], err)
	}

	cmd := exec.Command(path, launch.Argv[1:]...) //nolint:gosec
	cmd.Dir = launch.Dir
	cmd.Env = append(os.Environ(), launch.Env...)

	if launch.PTY {
		ch, err := startPTY(cmd)
		if err != nil {
			return nil, err
		}
		logger.Debug(ctx, "Started local process with pty", tag.Args(launch.Argv), tag.PID(ch.Pid()))
		return ch, nil
	}

	ch, err := startPipes(cmd)
	if err != nil {
		return nil, err
	}
	logger.Debug(ctx, "Started local process", tag.Args(launch.Argv), tag.PID(ch.Pid()))
	return ch, nil
}

// startPipes wires the child to os.Pipe pairs rather than exec's pipe
// helpers so that Wait never closes a reader the session is still draining.
func startPipes(cmd *exec.Cmd) (*localChannel, error) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, errkind.Wrap(errkind.TransportFailure, "create pipe", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, errkind.Wrap(errkind.TransportFailure, "create pipe", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, errkind.Wrap(errkind.TransportFailure, "create pipe", err)
	}

	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdinR, stdoutW, stderrW
	cmdutil.SetupCommand(cmd)
	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, errkind.Wrap(errkind.TransportFailure, "start process", err)
	}
	closeAll(stdinR, stdoutW, stderrW)

	return newLocalChannel(cmd, stdinW, stdoutR, stderrR), nil
}

type localChannel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

func newLocalChannel(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.ReadCloser) *localChannel {
	return &localChannel{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
	}
}

func (c *localChannel) Stdin() io.WriteCloser { return c.stdin }
func (c *localChannel) Stdout() io.Reader     { return c.stdout }

func (c *localChannel) Stderr() io.Reader {
	if c.stderr == nil {
		return nil
	}
	return c.stderr
}

func (c *localChannel) Pid() int { return c.cmd.Process.Pid }

func (c *localChannel) Wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
		close(c.exited)
	})
	return c.waitErr
}

func (c *localChannel) ExitCode() int {
	select {
	case <-c.exited:
		return c.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

// Kill terminates the process group and then any descendant that moved to a
// group of its own.
func (c *localChannel) Kill() error {
	ctx := context.Background()
	pid := c.Pid()
	descendants := cmdutil.Descendants(ctx, pid)

	err := cmdutil.KillProcessGroup(c.cmd, os.Kill)
	for _, d := range descendants {
		if cmdutil.Alive(ctx, d) {
			_ = cmdutil.KillTree(ctx, d)
		}
	}
	if err != nil {
		_ = c.cmd.Process.Kill()
	}
	return nil
}

func (c *localChannel) Close() error {
	var errs []error
	if err := c.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, err)
	}
	if err := c.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, err)
	}
	if c.stderr != nil {
		if err := c.stderr.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
