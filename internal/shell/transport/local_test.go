//go:build !windows

package transport

import (
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/cmdutil"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestLocal_OpenAndWait(t *testing.T) {
	t.Parallel()
	requireSh(t)

	tr := NewLocal()
	ch, err := tr.Open(context.Background(), Launch{Argv: []string{"sh"}, Env: []string{"XPIPE_T=42"}})
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()
	assert.Greater(t, ch.Pid(), 0)

	_, err = io.WriteString(ch.Stdin(), "echo out $XPIPE_T; echo err >&2; exit 3\n")
	require.NoError(t, err)

	stdout, err := io.ReadAll(ch.Stdout())
	require.NoError(t, err)
	stderr, err := io.ReadAll(ch.Stderr())
	require.NoError(t, err)

	require.Error(t, ch.Wait())
	assert.Equal(t, "out 42\n", string(stdout))
	assert.Equal(t, "err\n", string(stderr))
	assert.Equal(t, 3, ch.ExitCode())
	// Wait is idempotent
	require.Error(t, ch.Wait())
}

func TestLocal_NotFound(t *testing.T) {
	t.Parallel()

	_, err := NewLocal().Open(context.Background(), Launch{Argv: []string{"xpipe-definitely-missing-binary"}})
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.Of(err))

	_, err = NewLocal().Open(context.Background(), Launch{})
	assert.Equal(t, errkind.InternalError, errkind.Of(err))
}

func TestLocal_KillTree(t *testing.T) {
	t.Parallel()
	requireSh(t)

	ctx := context.Background()
	ch, err := NewLocal().Open(ctx, Launch{Argv: []string{"sh", "-c", "sleep 60 & sleep 60"}})
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	var children []int
	require.Eventually(t, func() bool {
		children = cmdutil.Descendants(ctx, ch.Pid())
		return len(children) >= 2
	}, 5*time.Second, 20*time.Millisecond)

	start := time.Now()
	require.NoError(t, ch.Kill())
	_ = ch.Wait()
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, -1, ch.ExitCode())

	for _, pid := range children {
		pid := pid
		assert.Eventually(t, func() bool { return !cmdutil.Alive(ctx, pid) }, 5*time.Second, 20*time.Millisecond)
	}
}

func TestLocal_PTY(t *testing.T) {
	t.Parallel()
	requireSh(t)

	ch, err := NewLocal().Open(context.Background(), Launch{Argv: []string{"sh"}, PTY: true})
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer func() { _ = ch.Close() }()
	assert.Nil(t, ch.Stderr())

	_, err = io.WriteString(ch.Stdin(), "echo from-stdout; echo from-stderr >&2; exit 0\n")
	require.NoError(t, err)

	var sb strings.Builder
	buf := make([]byte, 1024)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(sb.String(), "from-stderr") {
		n, err := ch.Stdout().Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	assert.Contains(t, sb.String(), "from-stdout")
	assert.Contains(t, sb.String(), "from-stderr")
	_ = ch.Wait()
}

func TestLocal_Files(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := NewLocal()
	path := filepath.Join(t.TempDir(), "a", "b.sh")

	require.NoError(t, tr.WriteFile(ctx, path, []byte("echo hi\n"), 0o700))
	assert.FileExists(t, path)
	require.NoError(t, tr.RemoveFile(ctx, path))
	assert.NoFileExists(t, path)
	// removing twice is fine
	require.NoError(t, tr.RemoveFile(ctx, path))
}

func TestLocal_TerminalArgv(t *testing.T) {
	t.Parallel()

	tr := NewLocal()
	bash := dialect.MustLookup(dialect.Bash)
	assert.Equal(t, []string{"bash", "-l"}, tr.TerminalArgv(bash, ""))
	assert.Equal(t, []string{"bash", "-c", "htop"}, tr.TerminalArgv(bash, "htop"))
	assert.True(t, strings.HasPrefix(tr.SystemID(), "local:"))
	assert.True(t, tr.IsLocal())
}
