//go:build !windows

package shellctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/cmdutil"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/command"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/transport"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newShell(t *testing.T) *Control {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	c := New(transport.NewLocal(), Options{
		Name:    t.Name(),
		Dialect: dialect.MustLookup(dialect.Sh),
	})
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestControl_Start(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	assert.Equal(t, StateCreated, c.State())
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Start(ctx), "start is idempotent")
	assert.Equal(t, StateStarted, c.State())

	assert.Equal(t, ostype.Local(), c.OS())
	assert.NotEmpty(t, c.WorkingDirectory())
	assert.NotEmpty(t, c.TempDirectory())
	assert.Greater(t, c.PID(), 0)
	assert.True(t, c.IsLocal())

	var inits, exits int
	c.OnExit(func(*Control) { exits++ })
	c.OnInit(func(context.Context, *Control) error { inits++; return nil })
	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx), "close is idempotent")
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, exits)
	assert.Zero(t, inits, "init hooks registered after start do not run")

	err := c.Start(ctx)
	require.Error(t, err)
	assert.False(t, cmdutil.Alive(ctx, c.PID()))
}

func TestCommand_ReadStdout(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	out, err := c.Command(command.Of("echo").AddQuoted("hello world")).ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	out, err = c.RawCommand("printf 'a\\nb\\n'").ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", out)

	out, err = c.RawCommand("echo first\necho second").ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", out)
}

func TestCommand_ExitCode(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	cc := c.RawCommand("echo out; echo broken >&2; (exit 3)")
	_, err := cc.ReadStdoutOrThrow(ctx)
	require.Error(t, err)
	assert.Equal(t, errkind.ProcessOutput, errkind.Of(err))
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 3, cc.ExitCode())

	ok, err := c.RawCommand("test -d /").ExecuteAndCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.RawCommand("test -f /definitely/missing").ExecuteAndCheck(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	cc = c.RawCommand("(exit 1)", DoesNotObeyReturnValueConvention())
	require.NoError(t, cc.Execute(ctx))
	assert.Equal(t, 1, cc.ExitCode())

	stdout, stderr, err := c.RawCommand("echo o; echo e >&2; (exit 2)").ReadStdoutAndStderr(ctx)
	require.NoError(t, err)
	assert.Equal(t, "o", stdout)
	assert.Equal(t, "e", stderr)

	_, err = c.RawCommand("echo e >&2; (exit 2)").ReadStdoutDiscardErr(ctx)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), ": e")

	_, ok = c.RawCommand("(exit 9)").ReadStdoutIfPossible(ctx)
	assert.False(t, ok)

	// the session survives failing commands
	out, err := c.RawCommand("echo alive").ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alive", out)
}

func TestCommand_InvalidSyntax(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	cc := c.RawCommand(`echo "unterminated`)
	err := cc.Execute(ctx)
	require.Error(t, err)
	assert.Equal(t, errkind.Unsupported, errkind.Of(err))
	assert.Equal(t, StartFailedExitCode, cc.ExitCode())

	out, err := c.RawCommand("echo still-in-sync").ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "still-in-sync", out)
}

func TestCommand_Serialized(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	logFile := filepath.Join(t.TempDir(), "log")
	const n = 8

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := command.Of("echo").AddQuoted(fmt.Sprintf("start %d", i)).Add(">>").AddFile(logFile).
				Add("; sleep 0.05; echo").AddQuoted(fmt.Sprintf("end %d", i)).Add(">>").AddFile(logFile)
			errs <- c.Command(b).Execute(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2*n)
	for i := 0; i < len(lines); i += 2 {
		start, end := lines[i], lines[i+1]
		require.True(t, strings.HasPrefix(start, "start "), start)
		assert.Equal(t, "end "+strings.TrimPrefix(start, "start "), end)
	}
}

func TestCommand_Timeout(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)
	require.NoError(t, c.Start(ctx))
	pid := c.PID()

	started := time.Now()
	cc := c.RawCommand("sleep 30", WithTimeout(200*time.Millisecond))
	err := cc.Execute(ctx)
	require.Error(t, err)
	assert.Equal(t, errkind.Timeout, errkind.Of(err))
	assert.Equal(t, ExitTimeoutExitCode, cc.ExitCode())
	assert.Less(t, time.Since(started), 10*time.Second)

	assert.Eventually(t, func() bool { return c.State() == StateClosed }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !cmdutil.Alive(ctx, pid) }, 5*time.Second, 10*time.Millisecond)
}

func TestCommand_Passthrough(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	out, err := c.RawCommand("echo $((1 + 2))", Passthrough()).ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3", out)

	cc := c.RawCommand("sleep 30", Passthrough(), WithTimeout(200*time.Millisecond))
	err = cc.Execute(ctx)
	assert.Equal(t, errkind.Timeout, errkind.Of(err))
	assert.Equal(t, ExitTimeoutExitCode, cc.ExitCode())
	assert.Equal(t, StateStarted, c.State(), "passthrough timeouts leave the session alone")
}

func TestCommand_ExternalStreams(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	r, err := c.RawCommand("printf 'line1\\nline2\\n'").StartExternalStdout(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "line1\nline2\n", string(data))

	target := filepath.Join(t.TempDir(), "stdin.txt")
	w, err := c.Command(command.Of("cat >").AddFile(target)).StartExternalStdin(ctx)
	require.NoError(t, err)
	_, err = io.WriteString(w, "streamed input")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "streamed input", string(got))
}

func TestCommand_Kill(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	cc := c.RawCommand("sleep 30", Passthrough())
	require.NoError(t, cc.Start(ctx))
	require.NoError(t, cc.Kill())
	err := cc.WaitFor(ctx)
	assert.Equal(t, errkind.Cancelled, errkind.Of(err))
	assert.Equal(t, ExitTimeoutExitCode, cc.ExitCode())
}

func TestControl_SessionState(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, c.ChangeDirectory(ctx, dir))
	assert.Equal(t, dir, c.WorkingDirectory())

	err = c.ChangeDirectory(ctx, filepath.Join(dir, "missing"))
	assert.Equal(t, errkind.NotFound, errkind.Of(err))

	require.NoError(t, c.Export(ctx, "XPIPE_TEST_VAR", "a b $c"))
	out, err := c.RawCommand(`printf '%s' "$XPIPE_TEST_VAR"`).ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a b $c", out)

	out, err = c.RawCommand("pwd", WithWorkingDirectory("/")).ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/", out)
	out, err = c.RawCommand("pwd").ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, dir, out, "working directory option does not leak into the session")

	// passthrough processes start in the session's directory
	out, err = c.RawCommand("pwd", Passthrough()).ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, dir, out)
}

func TestControl_CreateScript(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	out, err := c.Command(command.Of().AddScript("echo from-script\necho $#")).ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-script\n0", out)

	path, err := c.CreateScript(ctx, "exit 0")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, c.ScriptDirectory()))
	assert.True(t, strings.HasSuffix(path, ".sh"))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "#!/bin/sh\n"))
	require.NoError(t, c.RemoveFile(ctx, path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestControl_ScriptsRemoved(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	tmp := t.TempDir()
	c := New(transport.NewLocal(), Options{
		Name:    t.Name(),
		Dialect: dialect.MustLookup(dialect.Sh),
		Env:     []string{"TMPDIR=" + tmp},
	})
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	tests := []struct {
		name   string
		script string
		code   int
	}{
		{name: "Success", script: "echo ok", code: 0},
		{name: "Failure", script: "exit 4", code: 4},
	}
	for _, tc := range tests {
		cc := c.Command(command.Of().AddScript(tc.script))
		_, _, err := cc.ReadStdoutAndStderr(ctx)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.code, cc.ExitCode(), tc.name)

		entries, err := os.ReadDir(c.ScriptDirectory())
		require.NoError(t, err, tc.name)
		assert.Empty(t, entries, tc.name)
	}
}

func TestSubShell(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	root := newShell(t)
	require.NoError(t, root.Start(ctx))

	child := root.SubShell(Options{Name: "child", Dialect: dialect.MustLookup(dialect.Sh)})
	require.NoError(t, child.Start(ctx))
	assert.NotEqual(t, root.PID(), child.PID())
	assert.Equal(t, root.OS(), child.OS())

	out, err := child.RawCommand("echo $$").ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(child.PID()), out)

	// the parent is suspended while the child lives
	assert.False(t, root.CommandLock().TryAcquire(1))

	require.NoError(t, child.Close(ctx))
	assert.Equal(t, StateClosed, child.State())
	assert.Eventually(t, func() bool { return !cmdutil.Alive(ctx, child.PID()) }, 5*time.Second, 10*time.Millisecond)

	out, err = root.RawCommand("echo $$").ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(root.PID()), out)
}

func TestSubShell_BlockReadingParent(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("dash"); err != nil {
		t.Skip("dash not available")
	}
	ctx := testContext(t)
	d := dialect.MustLookup(dialect.Dash)
	root := New(transport.NewLocal(), Options{Name: "root", Dialect: d})
	t.Cleanup(func() { _ = root.Close(context.Background()) })

	for i := range 3 {
		child := root.SubShell(Options{Name: fmt.Sprintf("child-%d", i), Env: []string{"GREETING=hello"}})
		require.NoError(t, child.Start(ctx))

		out, err := child.RawCommand(`echo "$GREETING $$"`).ReadStdoutOrThrow(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("hello %d", child.PID()), out)

		require.NoError(t, child.Close(ctx))
		out, err = root.RawCommand("echo $$").ReadStdoutOrThrow(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(root.PID()), out)
	}
}

func TestSubShell_NotFound(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	root := newShell(t)
	require.NoError(t, root.ChangeDirectory(ctx, "/"))

	child := root.SubShell(Options{Dialect: dialect.MustLookup(dialect.Sh), ShellPath: "xpipe-missing-shell"})
	err := child.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.Of(err))
	assert.Equal(t, StateFailed, child.State())

	out, err := root.RawCommand("pwd").ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/", out)
}

func TestSubShell_Kill(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	root := newShell(t)

	child := root.SubShell(Options{Dialect: dialect.MustLookup(dialect.Sh)})
	require.NoError(t, child.Start(ctx))
	pid := child.PID()

	cc := child.RawCommand("sleep 30", WithTimeout(200*time.Millisecond))
	err := cc.Execute(ctx)
	assert.Equal(t, errkind.Timeout, errkind.Of(err))

	assert.Eventually(t, func() bool { return child.State() == StateClosed }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !cmdutil.Alive(ctx, pid) }, 5*time.Second, 10*time.Millisecond)

	// only the child was killed
	out, err := root.RawCommand("echo parent").ReadStdoutOrThrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "parent", out)
}

func TestSubShell_CloseWhileRunning(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	root := newShell(t)

	for i := range 5 {
		child := root.SubShell(Options{Name: fmt.Sprintf("child-%d", i)})
		require.NoError(t, child.Start(ctx))

		cc := child.RawCommand("echo busy; sleep 30")
		require.NoError(t, cc.Start(ctx))
		time.Sleep(50 * time.Millisecond)

		require.NoError(t, child.Close(ctx))
		assert.Error(t, cc.WaitFor(ctx))
		assert.Equal(t, StateClosed, child.State())
		require.Equal(t, StateStarted, root.State())

		out, err := root.RawCommand("echo parent").ReadStdoutOrThrow(ctx)
		require.NoError(t, err)
		assert.Equal(t, "parent", out)
	}
}

type countingTransport struct {
	transport.Transport
	closed atomic.Int32
}

func (t *countingTransport) Close() error {
	t.closed.Add(1)
	return t.Transport.Close()
}

func TestControl_TransportFailure(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx := testContext(t)

	tr := &countingTransport{Transport: transport.NewLocal()}
	root := New(tr, Options{Name: "root", Dialect: dialect.MustLookup(dialect.Sh)})
	t.Cleanup(func() { _ = root.Close(context.Background()) })
	child := root.SubShell(Options{Name: "child"})
	require.NoError(t, child.Start(ctx))
	pids := []int{root.PID(), child.PID()}

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	for _, c := range []*Control{root, child} {
		c.OnFail(func(c *Control, err error) {
			assert.Equal(t, StateFailed, c.State())
			assert.Equal(t, errkind.TransportFailure, errkind.Of(err))
			record("fail " + c.Name())
		})
		c.OnExit(func(c *Control) { record("exit " + c.Name()) })
	}

	// both processes writing the output pipe die, so the stream ends
	cc := child.RawCommand(fmt.Sprintf("kill -9 %d $$", root.PID()))
	err := cc.Execute(ctx)
	require.Error(t, err)
	assert.Equal(t, errkind.TransportFailure, errkind.Of(err))

	mu.Lock()
	assert.Equal(t, []string{"fail root", "fail child", "exit child", "exit root"}, events)
	mu.Unlock()
	assert.Equal(t, StateClosed, root.State())
	assert.Equal(t, StateClosed, child.State())
	assert.Equal(t, int32(1), tr.closed.Load())

	require.NoError(t, root.Close(ctx))
	assert.Equal(t, int32(1), tr.closed.Load(), "close after failure is a no-op")
	assert.Equal(t, errkind.TransportFailure, errkind.Of(root.Start(ctx)))
	assert.Equal(t, errkind.TransportFailure, errkind.Of(child.RawCommand("true").Execute(ctx)))
	for _, pid := range pids {
		assert.Eventually(t, func() bool { return !cmdutil.Alive(ctx, pid) }, 5*time.Second, 10*time.Millisecond)
	}
}

func TestControl_CloseNestedNoLeaks(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	root := newShell(t)

	child := root.SubShell(Options{Name: "child"})
	grandchild := child.SubShell(Options{Name: "grandchild"})
	require.NoError(t, grandchild.Start(ctx))
	assert.Equal(t, StateStarted, child.State(), "starting a sub-shell starts its parents")

	pids := []int{root.PID(), child.PID(), grandchild.PID()}
	var order []string
	var mu sync.Mutex
	for _, c := range []*Control{root, child, grandchild} {
		c.OnExit(func(c *Control) {
			mu.Lock()
			order = append(order, c.Name())
			mu.Unlock()
		})
	}

	require.NoError(t, root.Close(ctx))
	assert.Equal(t, []string{"grandchild", "child", t.Name()}, order)
	for _, pid := range pids {
		assert.Eventually(t, func() bool { return !cmdutil.Alive(ctx, pid) }, 5*time.Second, 10*time.Millisecond)
	}
}

func TestControl_CloseKillsRunningCommand(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	cc := c.RawCommand("sleep 30")
	require.NoError(t, cc.Start(ctx))

	started := time.Now()
	require.NoError(t, c.Close(ctx))
	assert.Error(t, cc.WaitFor(ctx))
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestControl_PrepareTerminalOpen(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	root := newShell(t)
	child := root.SubShell(Options{Dialect: dialect.MustLookup(dialect.Sh)})

	argv, err := child.PrepareTerminalOpen(ctx, TerminalInit{}, command.Of("echo").AddQuoted("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"sh", "-c", `sh -c 'echo "hi"'`}, argv)

	argv, err = root.PrepareTerminalOpen(ctx, TerminalInit{}, nil)
	require.NoError(t, err)
	assert.Equal(t, dialect.MustLookup(dialect.Sh).InteractiveArgv(), argv)

	argv, err = root.PrepareTerminalOpen(ctx, TerminalInit{Dir: "/tmp"}, nil)
	require.NoError(t, err)
	require.Len(t, argv, 3)
	assert.Contains(t, argv[2], "cd")
	assert.Contains(t, argv[2], "/tmp")
}

func TestCommand_ElevationDisabled(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	c := New(transport.NewLocal(), Options{
		Dialect:   dialect.MustLookup(dialect.Sh),
		Elevation: Elevation{Method: ElevationNone},
	})
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	cc := c.RawCommand("id -u", Elevated())
	err := cc.Execute(ctx)
	assert.Equal(t, errkind.Unsupported, errkind.Of(err))
	assert.Equal(t, StartFailedExitCode, cc.ExitCode())

	_, err = c.RawCommand("id -u", Elevated(), WithTimeout(0)).ReadStdoutOrThrow(ctx)
	assert.Equal(t, errkind.Unsupported, errkind.Of(err))
}

func TestCommand_DoubleStart(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	c := newShell(t)

	cc := c.RawCommand("true")
	require.NoError(t, cc.Execute(ctx))
	assert.Equal(t, errkind.InternalError, errkind.Of(cc.Start(ctx)))
}
