package shellctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/stringutil"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/command"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/transport"
)

const maxLoggedCommand = 500

// CommandOption configures a CommandControl.
type CommandOption func(*CommandControl)

// WithTimeout kills the command once d elapsed.
func WithTimeout(d time.Duration) CommandOption {
	return func(cc *CommandControl) { cc.timeout = d }
}

// WithExitTimeout bounds how long a killed passthrough process may take to
// exit.
func WithExitTimeout(d time.Duration) CommandOption {
	return func(cc *CommandControl) { cc.exitTimeout = d }
}

// WithCharset decodes the command's output from the named IANA charset.
func WithCharset(name string) CommandOption {
	return func(cc *CommandControl) { cc.charset = name }
}

// Elevated runs the command with administrative privileges.
func Elevated() CommandOption {
	return func(cc *CommandControl) { cc.elevated = true }
}

// Passthrough runs the command as its own process on the session's system
// instead of inside the session.
func Passthrough() CommandOption {
	return func(cc *CommandControl) { cc.passthrough = true }
}

// DoesNotObeyReturnValueConvention stops nonzero exit codes from being
// reported as errors.
func DoesNotObeyReturnValueConvention() CommandOption {
	return func(cc *CommandControl) { cc.ignoreExit = true }
}

// WithWorkingDirectory runs the command in dir.
func WithWorkingDirectory(dir string) CommandOption {
	return func(cc *CommandControl) { cc.workDir = dir }
}

// CommandControl is the lifecycle of one command in a Control.
type CommandControl struct {
	shell   *Control
	command *command.Command

	timeout     time.Duration
	exitTimeout time.Duration
	charset     string
	elevated    bool
	passthrough bool
	ignoreExit  bool
	workDir     string

	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	tail   *TailWriter

	mu       sync.Mutex
	started  bool
	killed   bool
	done     chan struct{}
	exitCode int
	err      error
	cancel   context.CancelFunc
	stdinW   io.WriteCloser
	line     string
	// scripts created by the command's setups, removed once it finished
	scripts []string
}

// Command prepares b to run in c.
func (c *Control) Command(b *command.Builder, opts ...CommandOption) *CommandControl {
	cc := &CommandControl{
		shell:       c,
		command:     b.Build(),
		exitTimeout: c.opts.ExitTimeout,
		charset:     c.opts.Charset,
		exitCode:    UnassignedExitCode,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

// RawCommand prepares a literal command line.
func (c *Control) RawCommand(line string, opts ...CommandOption) *CommandControl {
	return c.Command(command.Of(line), opts...)
}

// SetStdout directs the command's stdout to w.
func (cc *CommandControl) SetStdout(w io.Writer) *CommandControl {
	cc.stdout = w
	return cc
}

// SetStderr directs the command's stderr to w.
func (cc *CommandControl) SetStderr(w io.Writer) *CommandControl {
	cc.stderr = w
	return cc
}

// SetStdin feeds r to the command. Tracked commands read from the null
// device, so this switches the command to passthrough.
func (cc *CommandControl) SetStdin(r io.Reader) *CommandControl {
	cc.stdin = r
	cc.passthrough = true
	return cc
}

// ExitCode is the command's exit code or one of the sentinels.
func (cc *CommandControl) ExitCode() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.exitCode
}

// Start launches the command. Output is streamed to the configured writers
// while the command runs.
func (cc *CommandControl) Start(ctx context.Context) error {
	cc.mu.Lock()
	if cc.started {
		cc.mu.Unlock()
		return errkind.Errorf(errkind.InternalError, "start command", "command already started")
	}
	cc.started = true
	cc.mu.Unlock()

	s := cc.shell
	if err := s.ensureStarted(ctx); err != nil {
		cc.finish(StartFailedExitCode, err)
		return err
	}
	if err := s.lock.Acquire(ctx, 1); err != nil {
		err = errkind.FromContext("start command", err)
		cc.finish(StartFailedExitCode, err)
		return err
	}
	if st := s.State(); st != StateStarted {
		s.lock.Release(1)
		err := errkind.Errorf(errkind.InternalError, "start command", "shell %s is %s", s.opts.Name, st)
		cc.finish(StartFailedExitCode, err)
		return err
	}

	ctx = s.logCtx(ctx)
	line, err := cc.render(ctx)
	if err != nil {
		s.lock.Release(1)
		cc.finish(StartFailedExitCode, err)
		return err
	}
	if cc.elevated {
		logger.Debug(ctx, "Starting elevated command")
	} else {
		logger.Debug(ctx, "Starting command", tag.Command(stringutil.Truncate(line, maxLoggedCommand)))
	}

	stdout, flushOut, err := decodeWriter(orDiscard(cc.stdout), cc.charset)
	if err != nil {
		s.lock.Release(1)
		cc.removeScripts(ctx)
		cc.finish(StartFailedExitCode, err)
		return err
	}
	cc.tail = NewTailWriter(orDiscard(cc.stderr), 0)
	stderr, flushErr, err := decodeWriter(cc.tail, cc.charset)
	if err != nil {
		s.lock.Release(1)
		cc.removeScripts(ctx)
		cc.finish(StartFailedExitCode, err)
		return err
	}
	flush := func() {
		_ = flushOut()
		_ = flushErr()
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if cc.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cc.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	cc.mu.Lock()
	cc.cancel = cancel
	cc.line = line
	killed := cc.killed
	cc.mu.Unlock()
	if killed {
		cancel()
	}

	if cc.passthrough {
		return cc.startPassthrough(ctx, runCtx, cancel, line, stdout, stderr, flush)
	}

	go func() {
		defer cancel()
		code, err := s.run(runCtx, line, stdout, stderr)
		flush()
		if err == nil && cc.workDir != "" {
			if cwd := s.WorkingDirectory(); cwd != "" {
				_, _ = s.run(runCtx, s.dialect.ChangeDirectory(cwd), io.Discard, io.Discard)
			}
		}
		s.lock.Release(1)
		cc.complete(ctx, runCtx, code, err)
	}()
	return nil
}

// scriptRecorder is the evaluation target of a command. It remembers the
// scripts the command's setups create.
type scriptRecorder struct {
	*Control
	paths []string
}

func (r *scriptRecorder) CreateScript(ctx context.Context, content string) (string, error) {
	path, err := r.Control.CreateScript(ctx, content)
	if err == nil {
		r.paths = append(r.paths, path)
	}
	return path, err
}

func (cc *CommandControl) render(ctx context.Context) (string, error) {
	line, err := cc.renderLine(ctx)
	if err != nil {
		cc.removeScripts(ctx)
	}
	return line, err
}

func (cc *CommandControl) renderLine(ctx context.Context) (string, error) {
	s := cc.shell
	rec := &scriptRecorder{Control: s}
	line, err := cc.command.Evaluate(ctx, rec)
	cc.mu.Lock()
	cc.scripts = rec.paths
	cc.mu.Unlock()
	if err != nil {
		return "", errkind.Wrap(errkind.InternalError, "render command", err)
	}
	if strings.TrimSpace(line) == "" {
		return "", errkind.Errorf(errkind.InternalError, "render command", "command is empty")
	}
	if cc.workDir != "" {
		line = s.dialect.And(s.dialect.ChangeDirectory(cc.workDir), line)
	}
	if cc.elevated {
		if line, err = s.elevate(ctx, line); err != nil {
			return "", err
		}
	}
	return line, nil
}

func (cc *CommandControl) removeScripts(ctx context.Context) {
	cc.mu.Lock()
	paths := cc.scripts
	cc.scripts = nil
	cc.mu.Unlock()
	for _, path := range paths {
		cc.shell.removeQuietly(ctx, path)
	}
}

func (cc *CommandControl) startPassthrough(ctx, runCtx context.Context, cancel context.CancelFunc, line string, stdout, stderr io.Writer, flush func()) error {
	s := cc.shell
	// the session is only needed for rendering
	s.lock.Release(1)

	ch, err := s.transport.Open(runCtx, transport.Launch{Argv: s.passthroughArgv(line)})
	if err != nil {
		cancel()
		cc.finish(StartFailedExitCode, err)
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(stdout, ch.Stdout())
		return err
	})
	if r := ch.Stderr(); r != nil {
		g.Go(func() error {
			_, err := io.Copy(stderr, r)
			return err
		})
	}
	switch {
	case cc.stdin != nil:
		go func() {
			_, _ = io.Copy(ch.Stdin(), cc.stdin)
			_ = ch.Stdin().Close()
		}()
	case cc.wantsStdinWriter():
		cc.mu.Lock()
		cc.stdinW = ch.Stdin()
		cc.mu.Unlock()
	default:
		_ = ch.Stdin().Close()
	}

	go func() {
		defer cancel()
		exited := make(chan error, 1)
		go func() { exited <- ch.Wait() }()

		var waitErr error
		select {
		case waitErr = <-exited:
		case <-runCtx.Done():
			_ = ch.Kill()
			select {
			case waitErr = <-exited:
			case <-time.After(cc.exitTimeout):
				waitErr = errkind.Errorf(errkind.InternalError, "kill command", "process did not exit within %s", cc.exitTimeout)
			}
		}

		copied := make(chan struct{})
		go func() {
			_ = g.Wait()
			close(copied)
		}()
		select {
		case <-copied:
		case <-time.After(cc.exitTimeout):
			logger.Warn(ctx, "Output of passthrough command still open after exit")
		}
		flush()
		_ = ch.Close()

		code := ch.ExitCode()
		var err error
		if runCtx.Err() != nil {
			err = runCtx.Err()
		} else if code < 0 && waitErr != nil {
			err = errkind.Wrap(errkind.TransportFailure, "wait command", waitErr)
		}
		cc.complete(ctx, runCtx, code, err)
	}()
	return nil
}

// passthroughArgv nests cmd through every sub-shell down to an argv for the
// root transport. cmd runs in the session's working directory.
func (c *Control) passthroughArgv(cmd string) []string {
	if cwd := c.WorkingDirectory(); cwd != "" {
		cmd = c.dialect.And(c.dialect.ChangeDirectory(cwd), cmd)
	}
	cur := c
	for ; cur.parent != nil; cur = cur.parent {
		cmd = cur.parent.dialect.JoinArgv(cur.executeArgv(cmd))
	}
	return cur.executeArgv(cmd)
}

func (c *Control) executeArgv(cmd string) []string {
	argv := c.dialect.ExecuteArgv(cmd)
	if c.opts.ShellPath != "" {
		argv[0] = c.opts.ShellPath
	}
	return argv
}

// complete classifies the outcome of a started command.
func (cc *CommandControl) complete(ctx, runCtx context.Context, code int, err error) {
	cc.removeScripts(ctx)

	cc.mu.Lock()
	killed := cc.killed
	cc.mu.Unlock()

	switch {
	case err == nil && runCtx.Err() == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		code = ExitTimeoutExitCode
		err = errkind.Errorf(errkind.Timeout, "command", "timed out after %s", cc.timeout)
	case killed:
		code = ExitTimeoutExitCode
		err = errkind.Errorf(errkind.Cancelled, "command", "killed")
	case ctx.Err() != nil:
		code = InternalErrorExitCode
		err = errkind.FromContext("command", ctx.Err())
	case err != nil && code != StartFailedExitCode:
		code = InternalErrorExitCode
	}
	if err == nil && cc.elevated && code == uacCancelledExitCode && cc.shell.OS().IsWindows() {
		err = errkind.Errorf(errkind.ElevationCancelled, "command", "elevation request was declined")
	}
	if err != nil {
		logger.Debug(ctx, "Command failed", tag.ExitCode(code), tag.Error(err))
	} else {
		logger.Debug(ctx, "Command finished", tag.ExitCode(code))
	}
	cc.finish(code, err)
}

func (cc *CommandControl) finish(code int, err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	select {
	case <-cc.done:
		return
	default:
	}
	cc.exitCode = code
	cc.err = err
	close(cc.done)
}

// WaitFor blocks until the command finished. It returns an error only if
// the command could not run to completion; the exit code is not checked.
func (cc *CommandControl) WaitFor(ctx context.Context) error {
	select {
	case <-cc.done:
	case <-ctx.Done():
		return errkind.FromContext("wait for command", ctx.Err())
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.err
}

// Kill terminates the command. A tracked command takes its session down
// with it; a passthrough command kills only its own process tree.
func (cc *CommandControl) Kill() error {
	cc.mu.Lock()
	cc.killed = true
	cancel := cc.cancel
	cc.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (cc *CommandControl) run(ctx context.Context) error {
	if err := cc.Start(ctx); err != nil {
		return err
	}
	return cc.WaitFor(ctx)
}

// checkExit converts a nonzero exit code into a ProcessOutput error.
func (cc *CommandControl) checkExit(stdout string) error {
	code := cc.ExitCode()
	if code == 0 || cc.ignoreExit {
		return nil
	}
	stderr := ""
	if cc.tail != nil {
		stderr = cc.tail.Tail()
	}
	return errkind.Output(cc.describe(), code, stdout, stderr)
}

func (cc *CommandControl) describe() string {
	cc.mu.Lock()
	line := cc.line
	cc.mu.Unlock()
	if cc.elevated || line == "" {
		return "command"
	}
	if len(line) > 80 {
		line = line[:77] + "..."
	}
	return fmt.Sprintf("command %q", line)
}

// Execute runs the command to completion and fails on a nonzero exit code.
func (cc *CommandControl) Execute(ctx context.Context) error {
	if err := cc.run(ctx); err != nil {
		return err
	}
	return cc.checkExit("")
}

// DiscardOrThrow runs the command discarding its stdout.
func (cc *CommandControl) DiscardOrThrow(ctx context.Context) error {
	cc.stdout = io.Discard
	return cc.Execute(ctx)
}

// ExecuteAndCheck reports whether the command exited with 0. Only failures
// to run the command are errors.
func (cc *CommandControl) ExecuteAndCheck(ctx context.Context) (bool, error) {
	if cc.stdout == nil {
		cc.stdout = io.Discard
	}
	if err := cc.run(ctx); err != nil {
		return false, err
	}
	return cc.ExitCode() == 0, nil
}

// ReadStdoutOrThrow returns stdout without trailing newlines. A nonzero
// exit code is an error carrying stdout and stderr.
func (cc *CommandControl) ReadStdoutOrThrow(ctx context.Context) (string, error) {
	var out bytes.Buffer
	cc.stdout = &out
	if err := cc.run(ctx); err != nil {
		return "", err
	}
	stdout := trimOutput(out.String())
	if err := cc.checkExit(stdout); err != nil {
		return "", err
	}
	return stdout, nil
}

// ReadStdoutDiscardErr is ReadStdoutOrThrow with stderr dropped.
func (cc *CommandControl) ReadStdoutDiscardErr(ctx context.Context) (string, error) {
	cc.stderr = io.Discard
	stdout, err := cc.ReadStdoutOrThrow(ctx)
	var ke *errkind.Error
	if errors.As(err, &ke) && ke.Kind == errkind.ProcessOutput {
		ke.Stderr = ""
	}
	return stdout, err
}

// ReadStdoutAndStderr returns both streams. Nonzero exit codes are not
// errors; check ExitCode.
func (cc *CommandControl) ReadStdoutAndStderr(ctx context.Context) (string, string, error) {
	var out, errOut bytes.Buffer
	cc.stdout = &out
	cc.stderr = &errOut
	if err := cc.run(ctx); err != nil {
		return "", "", err
	}
	return trimOutput(out.String()), trimOutput(errOut.String()), nil
}

// ReadStdoutIfPossible returns stdout if the command ran and exited with 0.
func (cc *CommandControl) ReadStdoutIfPossible(ctx context.Context) (string, bool) {
	stdout, err := cc.ReadStdoutOrThrow(ctx)
	if err != nil {
		logger.Debug(ctx, "Ignoring command failure", tag.Error(err))
		return "", false
	}
	return stdout, true
}

// StartExternalStdout starts the command and streams its stdout. Closing the
// reader waits for the command; closing it before EOF kills the command.
func (cc *CommandControl) StartExternalStdout(ctx context.Context) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	cc.stdout = pw
	if err := cc.Start(ctx); err != nil {
		_ = pw.CloseWithError(err)
		return nil, err
	}
	go func() {
		<-cc.done
		_ = pw.CloseWithError(cc.resultError())
	}()
	return &externalStdout{cc: cc, r: pr}, nil
}

func (cc *CommandControl) resultError() error {
	cc.mu.Lock()
	err := cc.err
	cc.mu.Unlock()
	if err != nil {
		return err
	}
	return cc.checkExit("")
}

type externalStdout struct {
	cc  *CommandControl
	r   *io.PipeReader
	eof bool
}

func (e *externalStdout) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if errors.Is(err, io.EOF) {
		e.eof = true
	}
	return n, err
}

func (e *externalStdout) Close() error {
	if !e.eof {
		_ = e.cc.Kill()
	}
	_ = e.r.Close()
	<-e.cc.done
	if !e.eof {
		return nil
	}
	return e.cc.resultError()
}

// StartExternalStdin starts the command as a passthrough process and returns
// a writer to its stdin. Closing the writer waits for the command.
func (cc *CommandControl) StartExternalStdin(ctx context.Context) (io.WriteCloser, error) {
	cc.passthrough = true
	cc.mu.Lock()
	cc.stdinW = nopWriteCloser{}
	cc.mu.Unlock()
	if err := cc.Start(ctx); err != nil {
		return nil, err
	}
	cc.mu.Lock()
	w := cc.stdinW
	cc.mu.Unlock()
	return &externalStdin{cc: cc, ctx: ctx, w: w}, nil
}

func (cc *CommandControl) wantsStdinWriter() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.stdinW != nil
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

type externalStdin struct {
	cc  *CommandControl
	ctx context.Context
	w   io.WriteCloser
}

func (e *externalStdin) Write(p []byte) (int, error) {
	return e.w.Write(p)
}

func (e *externalStdin) Close() error {
	if err := e.w.Close(); err != nil {
		return err
	}
	if err := e.cc.WaitFor(e.ctx); err != nil {
		return err
	}
	return e.cc.checkExit("")
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func trimOutput(s string) string {
	return strings.TrimRight(s, "\r\n")
}
