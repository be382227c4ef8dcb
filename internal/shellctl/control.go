// Package shellctl drives long-lived shell sessions.
//
// A Control owns one shell process reached through a transport.Transport.
// Commands are written to the session's stdin and their output is framed
// with per-command marker tokens, so many commands run one after another in
// the same session. A Control may start sub-shells inside itself; a started
// sub-shell holds its parent's command lock until it is closed.
package shellctl

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/askpass"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/transport"
)

const (
	defaultStartTimeout = 30 * time.Second
	defaultExitTimeout  = 5 * time.Second
)

// Options configures a Control.
type Options struct {
	// Name is used in logs and error messages.
	Name string
	// Dialect of the session. Defaults to the local OS shell for local
	// transports and sh otherwise.
	Dialect dialect.Dialect
	// ShellPath overrides the dialect's executable.
	ShellPath string
	// LoginShell starts the transport's login shell instead of launching
	// the dialect executable. Only remote transports support it.
	LoginShell bool
	PTY        bool
	// Env holds extra KEY=VALUE entries for the root process.
	Env []string
	// Dir is the initial working directory of a root session.
	Dir string

	StartTimeout time.Duration
	// ExitTimeout bounds how long a session may take to exit on Close.
	ExitTimeout time.Duration

	Elevation Elevation
	// Charset is the default output charset of commands.
	Charset string
}

// Elevation configures how elevated commands gain privileges.
type Elevation struct {
	// Method is one of auto, sudo, doas, uac or none.
	Method string
	// Password supplies the sudo password when one is required.
	Password askpass.Provider
}

// InitFunc runs once a session started. Returning an error fails the start.
type InitFunc func(ctx context.Context, c *Control) error

// Control is a running shell session.
type Control struct {
	id        string
	opts      Options
	dialect   dialect.Dialect
	transport transport.Transport
	parent    *Control
	root      *Control
	lock      *semaphore.Weighted

	startMu sync.Mutex
	writeMu sync.Mutex

	mu          sync.Mutex
	state       State
	failErr     error
	closing     bool
	channel     transport.Channel
	stdout      *streamBuffer
	stderr      *streamBuffer
	children    []*Control
	osType      ostype.Type
	cwd         string
	tempDir     string
	pid         int
	holdsParent bool
	inflight    context.CancelFunc
	// inflightDone is closed once the command behind inflight returned
	inflightDone chan struct{}
	elev        elevator
	onInit      []InitFunc
	onExit      []func(*Control)
	onFail      []func(*Control, error)
}

// New creates a root Control on t. Nothing runs until Start.
func New(t transport.Transport, opts Options) *Control {
	if opts.Dialect == nil {
		if t.IsLocal() {
			opts.Dialect = dialect.ForOS(ostype.Local())
		} else {
			opts.Dialect = dialect.MustLookup(dialect.Sh)
		}
	}
	c := newControl(opts)
	c.transport = t
	c.root = c
	return c
}

func newControl(opts Options) *Control {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	if opts.ExitTimeout <= 0 {
		opts.ExitTimeout = defaultExitTimeout
	}
	id := uuid.NewString()
	if opts.Name == "" {
		opts.Name = string(opts.Dialect.ID()) + "-" + id[:8]
	}
	return &Control{
		id:      id,
		opts:    opts,
		dialect: opts.Dialect,
		lock:    semaphore.NewWeighted(1),
		state:   StateCreated,
	}
}

// SubShell creates a child session of dialect opts.Dialect that runs
// inside c. Unset timeouts and elevation settings are inherited.
func (c *Control) SubShell(opts Options) *Control {
	if opts.Dialect == nil {
		opts.Dialect = c.dialect
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = c.opts.StartTimeout
	}
	if opts.ExitTimeout <= 0 {
		opts.ExitTimeout = c.opts.ExitTimeout
	}
	if opts.Elevation.Password == nil {
		opts.Elevation.Password = c.opts.Elevation.Password
	}
	if opts.Elevation.Method == "" {
		opts.Elevation.Method = c.opts.Elevation.Method
	}
	if opts.Charset == "" {
		opts.Charset = c.opts.Charset
	}
	child := newControl(opts)
	child.parent = c
	child.root = c.root
	child.transport = c.transport

	c.mu.Lock()
	c.children = append(c.children, child)
	c.mu.Unlock()
	return child
}

func (c *Control) ID() string                     { return c.id }
func (c *Control) Name() string                   { return c.opts.Name }
func (c *Control) Dialect() dialect.Dialect       { return c.dialect }
func (c *Control) Parent() *Control               { return c.parent }
func (c *Control) Transport() transport.Transport { return c.transport }
func (c *Control) IsLocal() bool                  { return c.transport.IsLocal() }
func (c *Control) SystemID() string               { return c.transport.SystemID() }

// CommandLock serialises commands on this session. Sub-shells hold their
// parent's lock while they are alive.
func (c *Control) CommandLock() *semaphore.Weighted { return c.lock }

func (c *Control) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OS is the operating system of the session, known once started.
func (c *Control) OS() ostype.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.osType
}

func (c *Control) WorkingDirectory() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwd
}

func (c *Control) TempDirectory() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempDir
}

// PID is the process id of the shell as seen on its system, or 0 if the
// dialect cannot report it.
func (c *Control) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// OnInit registers fn to run after the session started.
func (c *Control) OnInit(fn InitFunc) {
	c.mu.Lock()
	c.onInit = append(c.onInit, fn)
	c.mu.Unlock()
}

// OnExit registers fn to run after the session closed.
func (c *Control) OnExit(fn func(*Control)) {
	c.mu.Lock()
	c.onExit = append(c.onExit, fn)
	c.mu.Unlock()
}

// OnFail registers fn to run when the session fails.
func (c *Control) OnFail(fn func(*Control, error)) {
	c.mu.Lock()
	c.onFail = append(c.onFail, fn)
	c.mu.Unlock()
}

func (c *Control) logCtx(ctx context.Context) context.Context {
	return logger.WithValues(ctx,
		tag.SessionID(c.id),
		tag.Connection(c.opts.Name),
		tag.Dialect(string(c.dialect.ID())),
	)
}

// Start launches the session. It is idempotent once started; a closed or
// failed Control cannot be started again.
func (c *Control) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	state, failErr := c.state, c.failErr
	c.mu.Unlock()
	switch state {
	case StateStarted:
		return nil
	case StateClosed, StateFailed:
		if failErr != nil {
			return errkind.Wrap(errkind.TransportFailure, "start", failErr)
		}
		return errkind.Errorf(errkind.InternalError, "start", "shell %s is closed", c.opts.Name)
	}

	if c.parent != nil {
		if err := c.parent.Start(ctx); err != nil {
			return err
		}
	}

	ctx = c.logCtx(ctx)
	started := time.Now()
	sctx, cancel := context.WithTimeout(ctx, c.opts.StartTimeout)
	defer cancel()

	var err error
	if c.parent == nil {
		err = c.startRoot(sctx)
	} else {
		err = c.startChild(sctx)
	}
	if err == nil {
		err = c.probe(sctx)
	}
	if err != nil {
		if sctx.Err() != nil && ctx.Err() == nil {
			err = errkind.Wrap(errkind.Timeout, "start "+c.opts.Name, err)
		}
		c.startFailed(ctx, err)
		return err
	}

	c.mu.Lock()
	c.state = StateStarted
	callbacks := slices.Clone(c.onInit)
	c.mu.Unlock()

	logger.Debug(ctx, "Shell started",
		tag.OS(c.OS().String()),
		tag.Dir(c.WorkingDirectory()),
		tag.PID(c.PID()),
		tag.Duration(time.Since(started)),
	)

	for _, fn := range callbacks {
		if err := fn(sctx, c); err != nil {
			logger.Error(ctx, "Shell init hook failed", tag.Error(err))
			if c.parent != nil {
				_ = c.Kill(ctx)
			} else {
				c.fail(ctx, err)
			}
			return err
		}
	}
	return nil
}

func (c *Control) startRoot(ctx context.Context) error {
	argv := c.dialect.LaunchArgv()
	if c.opts.ShellPath != "" {
		argv[0] = c.opts.ShellPath
	}
	if c.opts.LoginShell {
		argv = nil
	}
	ch, err := c.transport.Open(ctx, transport.Launch{
		Argv: argv,
		Env:  c.opts.Env,
		Dir:  c.opts.Dir,
		PTY:  c.opts.PTY,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.channel = ch
	c.stdout = newStreamBuffer()
	if ch.Stderr() != nil {
		c.stderr = newStreamBuffer()
	}
	stdout, stderr := c.stdout, c.stderr
	c.mu.Unlock()

	go drain(ch.Stdout(), stdout)
	if stderr != nil {
		go drain(ch.Stderr(), stderr)
	}
	return c.write(c.dialect.Init() + c.dialect.LineEnding())
}

func (c *Control) startChild(ctx context.Context) error {
	p := c.parent
	if err := p.lock.Acquire(ctx, 1); err != nil {
		return errkind.FromContext("start "+c.opts.Name, err)
	}
	c.mu.Lock()
	c.holdsParent = true
	c.mu.Unlock()

	exe := c.opts.ShellPath
	if exe == "" {
		exe = c.dialect.Executable()
	}
	code, err := p.exec(ctx, p.dialect.Which(exe), io.Discard, io.Discard)
	if err != nil {
		return err
	}
	if code != 0 {
		return errkind.NotFoundf("start "+c.opts.Name, "%s is not available in %s", exe, p.opts.Name)
	}

	argv := c.dialect.LaunchArgv()
	argv[0] = exe
	line := p.dialect.JoinArgv(argv)
	if len(c.opts.Env) > 0 {
		line = p.dialect.InlineEnv(envVars(c.opts.Env), line)
	}
	// The launch line trails a framed command. Once that frame ended the
	// parent has read the whole line, so nothing written afterwards can end
	// up in the parent's input buffer.
	if _, err := p.execThen(ctx, p.dialect.Echo("launch"), line, nil, nil); err != nil {
		return err
	}
	return c.write(c.dialect.Init() + c.dialect.LineEnding())
}

func envVars(env []string) []dialect.EnvVar {
	vars := make([]dialect.EnvVar, 0, len(env))
	for _, kv := range env {
		name, value, _ := strings.Cut(kv, "=")
		vars = append(vars, dialect.EnvVar{Name: name, Value: value})
	}
	return vars
}

// probe waits until the session answers and records its environment.
func (c *Control) probe(ctx context.Context) error {
	if _, err := c.probeText(ctx, c.dialect.Echo("ready")); err != nil {
		return err
	}

	var osType ostype.Type
	switch {
	case c.parent != nil:
		osType = c.parent.OS()
	case c.transport.IsLocal():
		osType = ostype.Local()
	default:
		out, err := c.probeText(ctx, c.dialect.OSProbe())
		if err != nil {
			return err
		}
		osType = ostype.Parse(out)
	}

	tempDir, err := c.probeText(ctx, c.dialect.TempDirectory())
	if err != nil {
		return err
	}
	if len(tempDir) > 1 {
		tempDir = strings.TrimRight(tempDir, `/\`)
	}
	cwd, err := c.probeText(ctx, c.dialect.PrintWorkingDirectory())
	if err != nil {
		return err
	}
	var pid int
	if probe := c.dialect.PIDProbe(); probe != "" {
		out, err := c.probeText(ctx, probe)
		if err != nil {
			return err
		}
		pid, _ = strconv.Atoi(out)
	}

	c.mu.Lock()
	c.osType = osType
	c.tempDir = tempDir
	c.cwd = cwd
	c.pid = pid
	c.mu.Unlock()
	return nil
}

// probeText runs cmd without the command lock and returns its trimmed
// stdout. Only used while the caller owns the session.
func (c *Control) probeText(ctx context.Context, cmd string) (string, error) {
	var stdout, stderr bytes.Buffer
	code, err := c.exec(ctx, cmd, &stdout, &stderr)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", errkind.Output(cmd, code, stdout.String(), stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (c *Control) startFailed(ctx context.Context, err error) {
	logger.Error(ctx, "Shell start failed", tag.Error(err))
	if c.parent == nil {
		c.fail(ctx, err)
		return
	}

	c.mu.Lock()
	holds := c.holdsParent
	c.holdsParent = false
	c.state = StateFailed
	c.failErr = err
	c.mu.Unlock()

	c.parent.detach(c)
	c.notifyFail(err)

	if holds {
		// the child may never have started; a probe in the parent's dialect
		// tells whether the parent is still reading commands
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ExitTimeout)
		if rerr := c.parent.resync(rctx); rerr != nil {
			c.parent.fail(ctx, rerr)
		}
		cancel()
		c.parent.lock.Release(1)
	}
}

// write sends raw input to the root process.
func (c *Control) write(s string) error {
	root := c.root
	root.mu.Lock()
	ch := root.channel
	root.mu.Unlock()
	if ch == nil {
		return errkind.Errorf(errkind.InternalError, "write", "shell %s is not running", root.opts.Name)
	}

	root.writeMu.Lock()
	defer root.writeMu.Unlock()
	if _, err := io.WriteString(ch.Stdin(), s); err != nil {
		return errkind.Wrap(errkind.TransportFailure, "write to "+root.opts.Name, err)
	}
	return nil
}

// exec runs one framed command in the session. The caller must own the
// session, either through the command lock or during Start and Close.
// StartFailedExitCode is returned when nothing was written.
func (c *Control) exec(ctx context.Context, cmd string, stdout, stderr io.Writer) (int, error) {
	return c.execThen(ctx, cmd, "", stdout, stderr)
}

// execThen is exec with then appended to the same input line, after the
// framed command. then runs once the frame was read and is not tracked.
func (c *Control) execThen(ctx context.Context, cmd, then string, stdout, stderr io.Writer) (int, error) {
	if err := c.dialect.Validate(cmd); err != nil {
		return StartFailedExitCode, errkind.Wrap(errkind.Unsupported, "validate command", err)
	}
	if strings.ContainsAny(cmd, "\r\n") && !c.dialect.SupportsInlineMultiline() {
		path, err := c.CreateScript(ctx, cmd)
		if err != nil {
			return StartFailedExitCode, err
		}
		defer c.removeQuietly(ctx, path)
		cmd = c.dialect.RunScript(path)
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.setInflight(cancel, done)
	defer func() {
		c.setInflight(nil, nil)
		cancel()
		close(done)
	}()

	root := c.root
	root.mu.Lock()
	outBuf, errBuf := root.stdout, root.stderr
	root.mu.Unlock()
	if outBuf == nil {
		return StartFailedExitCode, errkind.Errorf(errkind.InternalError, "exec", "shell %s is not running", root.opts.Name)
	}

	m := dialect.NewMarker()
	line := c.dialect.Delimit(cmd, m)
	if then != "" {
		line = c.dialect.Sequence(line, then)
	}
	if err := c.write(line + c.dialect.LineEnding()); err != nil {
		c.fail(ctx, err)
		return StartFailedExitCode, err
	}

	var trailer string
	if errBuf == nil {
		// merged pty output: the stderr start line follows the stdout one
		t, err := readFrame(ctx, outBuf, m.ErrStart(), m.End(), stdout)
		if err == nil {
			err = skipLine(ctx, outBuf, m.ErrEnd())
		}
		if err != nil {
			return InternalErrorExitCode, err
		}
		trailer = t
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			t, err := readFrame(gctx, outBuf, m.Start(), m.End(), stdout)
			trailer = t
			return err
		})
		g.Go(func() error {
			_, err := readFrame(gctx, errBuf, m.ErrStart(), m.ErrEnd(), stderr)
			return err
		})
		if err := g.Wait(); err != nil {
			return InternalErrorExitCode, err
		}
	}
	return parseExitTrailer(trailer), nil
}

func (c *Control) setInflight(cancel context.CancelFunc, done chan struct{}) {
	c.mu.Lock()
	c.inflight = cancel
	c.inflightDone = done
	c.mu.Unlock()
}

// cancelInflight cancels the running command and waits until its reader
// let go of the session output.
func (c *Control) cancelInflight(cancel context.CancelFunc, done <-chan struct{}) bool {
	if cancel == nil {
		return true
	}
	cancel()
	timer := time.NewTimer(c.opts.ExitTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Control) removeQuietly(ctx context.Context, path string) {
	if err := c.transport.RemoveFile(context.WithoutCancel(ctx), path); err != nil {
		logger.Debug(ctx, "Failed to remove script", tag.File(path), tag.Error(err))
	}
}

// run is exec for commands issued under the command lock. A command that
// did not finish leaves the session out of sync, so the session is killed.
func (c *Control) run(ctx context.Context, cmd string, stdout, stderr io.Writer) (int, error) {
	code, err := c.exec(ctx, cmd, stdout, stderr)
	if err != nil && code != StartFailedExitCode {
		c.abort(ctx, err)
	}
	return code, err
}

func (c *Control) abort(ctx context.Context, err error) {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return
	}
	if errkind.Has(err, errkind.TransportFailure) {
		c.fail(ctx, err)
		return
	}
	logger.Warn(ctx, "Killing shell after interrupted command", tag.Error(err))
	_ = c.Kill(context.WithoutCancel(ctx))
}

// resync waits until the session answers a fresh probe, discarding any
// output left by an interrupted command.
func (c *Control) resync(ctx context.Context) error {
	code, err := c.exec(ctx, c.dialect.Echo("sync"), io.Discard, io.Discard)
	if err != nil {
		return err
	}
	if code != 0 {
		return errkind.Output("resync", code, "", "")
	}
	return nil
}

// fail marks the whole session tree as failed, runs the fail callbacks and
// then closes every session of the tree, root process included.
func (c *Control) fail(ctx context.Context, err error) {
	root := c.root
	root.mu.Lock()
	if root.state == StateClosed || root.state == StateFailed || root.closing {
		root.mu.Unlock()
		return
	}
	root.closing = true
	ch := root.channel
	root.mu.Unlock()

	logger.Error(ctx, "Shell failed", tag.Error(err))
	if ch != nil {
		_ = ch.Kill()
	}

	var failed []*Control
	var mark func(n *Control)
	mark = func(n *Control) {
		n.mu.Lock()
		if n.state != StateClosed {
			n.state = StateFailed
			n.failErr = err
			n.closing = true
			failed = append(failed, n)
		}
		if n.inflight != nil {
			n.inflight()
		}
		children := slices.Clone(n.children)
		n.mu.Unlock()
		for _, child := range children {
			mark(child)
		}
	}
	mark(root)
	for _, n := range failed {
		n.notifyFail(err)
	}

	if err := root.shutdownRoot(ctx, false, nil); err != nil {
		logger.Debug(ctx, "Failed to close transport", tag.Error(err))
	}
	for i := len(failed) - 1; i >= 0; i-- {
		failed[i].closeFailed()
	}
}

func (c *Control) closeFailed() {
	c.mu.Lock()
	holds := c.holdsParent
	c.holdsParent = false
	c.state = StateClosed
	c.closing = false
	callbacks := slices.Clone(c.onExit)
	c.mu.Unlock()

	if c.parent != nil {
		if holds {
			c.parent.lock.Release(1)
		}
		c.parent.detach(c)
	}
	for _, fn := range callbacks {
		fn(c)
	}
}

func (c *Control) notifyFail(err error) {
	c.mu.Lock()
	callbacks := slices.Clone(c.onFail)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(c, err)
	}
}

func (c *Control) detach(child *Control) {
	c.mu.Lock()
	c.children = slices.DeleteFunc(c.children, func(n *Control) bool { return n == child })
	c.mu.Unlock()
}

// Close exits the session and its sub-shells, children first. A running
// command is killed. Closing twice is a no-op.
func (c *Control) Close(ctx context.Context) error {
	return c.shutdown(ctx, true)
}

// Kill terminates the session without the exit handshake. Killing a
// sub-shell leaves its parent usable.
func (c *Control) Kill(ctx context.Context) error {
	return c.shutdown(ctx, false)
}

func (c *Control) shutdown(parentCtx context.Context, graceful bool) error {
	ctx := c.logCtx(parentCtx)

	c.mu.Lock()
	if c.closing || c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	started := c.state == StateStarted
	children := slices.Clone(c.children)
	c.mu.Unlock()

	for i := len(children) - 1; i >= 0; i-- {
		if err := children[i].shutdown(parentCtx, graceful); err != nil {
			logger.Warn(ctx, "Failed to close sub-shell", tag.Connection(children[i].opts.Name), tag.Error(err))
		}
	}

	c.mu.Lock()
	cancel, done := c.inflight, c.inflightDone
	c.mu.Unlock()

	idle := c.lock.TryAcquire(1)
	graceful = graceful && idle && started

	var err error
	if c.parent == nil {
		err = c.shutdownRoot(ctx, graceful, cancel)
	} else {
		err = c.shutdownChild(ctx, graceful, cancel, done)
	}
	if idle {
		c.lock.Release(1)
	}

	c.mu.Lock()
	var callbacks []func(*Control)
	// a failure during shutdown already closed the session
	if c.state != StateClosed {
		callbacks = slices.Clone(c.onExit)
	}
	c.state = StateClosed
	c.closing = false
	c.mu.Unlock()

	if c.parent != nil {
		c.parent.detach(c)
	}
	if graceful {
		logger.Debug(ctx, "Shell exited")
	} else {
		logger.Debug(ctx, "Shell killed")
	}
	for _, fn := range callbacks {
		fn(c)
	}
	return err
}

func (c *Control) shutdownRoot(ctx context.Context, graceful bool, cancel context.CancelFunc) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch != nil {
		if graceful {
			_ = c.write(c.dialect.Exit() + c.dialect.LineEnding())
			_ = ch.Stdin().Close()
			if !waitExit(ch, c.opts.ExitTimeout) {
				logger.Warn(ctx, "Shell did not exit in time", tag.Timeout(c.opts.ExitTimeout))
				_ = ch.Kill()
			}
		} else {
			_ = ch.Kill()
		}
		if cancel != nil {
			cancel()
		}
		waitExit(ch, c.opts.ExitTimeout)
		_ = ch.Close()
	}
	return c.transport.Close()
}

func (c *Control) shutdownChild(ctx context.Context, graceful bool, cancel context.CancelFunc, done <-chan struct{}) error {
	c.mu.Lock()
	holds := c.holdsParent
	c.holdsParent = false
	c.mu.Unlock()
	if !holds {
		return nil
	}
	defer c.parent.lock.Release(1)

	if c.root.State() != StateStarted {
		return nil
	}
	if graceful {
		// the exit line trails a frame, so the child never reads past it
		ectx, ecancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ExitTimeout)
		_, err := c.execThen(ectx, c.dialect.Echo("exit"), c.dialect.Exit(), nil, nil)
		ecancel()
		if err != nil {
			if c.root.State() != StateStarted {
				return err
			}
			logger.Warn(ctx, "Sub-shell did not exit cleanly", tag.Error(err))
			graceful = false
		}
	}
	if !graceful {
		if !c.cancelInflight(cancel, done) {
			err := errkind.Errorf(errkind.Timeout, "close "+c.opts.Name, "running command did not stop within %s", c.opts.ExitTimeout)
			c.fail(ctx, err)
			return err
		}
		if err := c.killProcess(ctx); err != nil {
			logger.Warn(ctx, "Failed to kill sub-shell", tag.Error(err))
			c.fail(ctx, err)
			return err
		}
	}

	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ExitTimeout)
	defer rcancel()
	if err := c.parent.resync(rctx); err != nil {
		c.parent.fail(ctx, err)
		return err
	}
	return nil
}

func waitExit(ch transport.Channel, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		_ = ch.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
