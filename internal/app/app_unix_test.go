//go:build !windows

package app

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/config"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/askpass"
)

func newApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	home := t.TempDir()
	cfg := &config.Config{
		Core: config.Core{LogFormat: "text", DefaultShell: "sh"},
		Paths: config.PathsConfig{
			ConfigDir: home,
			LogDir:    filepath.Join(home, "logs"),
			TempDir:   filepath.Join(home, "tmp"),
		},
		Execution: config.Execution{StartTimeout: 10 * time.Second, ExitTimeout: 5 * time.Second},
		Elevation: config.Elevation{Mode: "none"},
		Terminal:  config.Terminal{Executable: "/usr/local/bin/xpipe", LaunchTimeout: time.Second},
		Connections: map[string]map[string]any{
			"nested": {"kind": "subshell", "parent": "local", "shell": "sh"},
		},
	}
	var stderr bytes.Buffer
	a, err := New(cfg, Options{
		Stderr:        &stderr,
		Password:      askpass.None(),
		SocketAddress: "127.0.0.1:0",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, &stderr
}

func TestApp_Exec(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a, _ := newApp(t)

	resp, err := a.Exec(ctx, ExecRequest{Args: []string{"echo", "a b", "$HOME"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.ExitCode)
	assert.Equal(t, "a b $HOME", resp.Stdout)

	resp, err = a.Exec(ctx, ExecRequest{Connection: "nested", Args: []string{"sh", "-c", "echo oops >&2; exit 3"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.ExitCode)
	assert.Equal(t, "oops", resp.Stderr)

	resp, err = a.Exec(ctx, ExecRequest{Line: "cat"}, []byte("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", resp.Stdout)

	_, err = a.Exec(ctx, ExecRequest{}, nil)
	assert.Equal(t, errkind.Unsupported, errkind.Of(err))

	_, err = a.Exec(ctx, ExecRequest{Connection: "nowhere", Line: "true"}, nil)
	assert.Equal(t, errkind.NotFound, errkind.Of(err))

	_, err = a.Exec(ctx, ExecRequest{Line: "true", Timeout: "soon"}, nil)
	assert.Equal(t, errkind.Unsupported, errkind.Of(err))

	infos := a.Connections()
	require.Len(t, infos, 2)
	assert.Equal(t, "local", infos[0].Name)
	assert.True(t, infos[0].Open)
	assert.Equal(t, "nested", infos[1].Name)
	assert.Equal(t, "sh in local", infos[1].Description)
}

func TestApp_Socket(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a, _ := newApp(t)

	listen := make(chan error, 1)
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, listen) }()
	require.NoError(t, <-listen)

	client := a.Client()
	var v VersionResponse
	require.NoError(t, client.Request(ctx, MessageVersion, nil, nil, &v))
	assert.Equal(t, config.Version, v.Version)
	assert.Positive(t, v.PID)

	var out ExecResponse
	require.NoError(t, client.Request(ctx, MessageExec, ExecRequest{Args: []string{"printf", "%s", "x"}}, nil, &out))
	assert.Equal(t, "x", out.Stdout)

	var infos []ConnectionInfo
	require.NoError(t, client.Request(ctx, MessageConnections, nil, nil, &infos))
	assert.Len(t, infos, 2)

	err := client.Request(ctx, MessageTerminalPrepare, TerminalPrepareRequest{RequestID: "unknown"}, nil, nil)
	assert.Equal(t, errkind.NotFound, errkind.Of(err))

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("socket server did not stop")
	}
}

func TestApp_Report(t *testing.T) {
	t.Parallel()
	a, stderr := newApp(t)

	code := a.Report(context.Background(), errkind.NotFoundf("open", "unknown connection %q", "x"))
	assert.Equal(t, 127, code)
	assert.Contains(t, stderr.String(), `Error: open: unknown connection "x"`)
}

func TestApp_LocalDialect(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t)
	assert.Equal(t, "sh", string(a.LocalDialect().ID()))

	a.Config.Core.DefaultShell = "fish"
	assert.NotEqual(t, "fish", string(a.LocalDialect().ID()))
}
