//go:build !windows

package terminal

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/command"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/transport"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shellctl"
)

func TestLauncherScript(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   dialect.ID
		want []string
	}{
		{dialect.Sh, []string{"#!/bin/sh", `target=$('/opt/x pipe/xpipe' terminal-prepare abc)`, `sh "$target"`, `rm -f "$target" "$0"`}},
		{dialect.Cmd, []string{"@echo off", "usebackq", "terminal-prepare abc", `call "%target%"`}},
		{dialect.PowerShell, []string{"$target = ", "terminal-prepare", "& $target"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			t.Parallel()
			d := dialect.MustLookup(tt.id)
			script, err := launcherScript(d, "/opt/x pipe/xpipe", "abc")
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, script, want)
			}
			assert.True(t, strings.HasSuffix(script, d.LineEnding()))
		})
	}

	_, err := launcherScript(dialect.MustLookup(dialect.Fish), "xpipe", "abc")
	assert.Equal(t, errkind.Unsupported, errkind.Of(err))
}

func TestService_OpenPrepare(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := shellctl.New(transport.NewLocal(), shellctl.Options{Dialect: dialect.MustLookup(dialect.Sh)})
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	dir := t.TempDir()
	var svc *Service
	prepared := make(chan string, 1)
	l := NewLauncher(
		WithOS(ostype.Linux),
		WithLookPath(onPath("xterm")),
		WithStarter(func(ctx context.Context, argv []string, _ string) error {
			// stands in for the terminal running the launcher script
			script := argv[len(argv)-1]
			id := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(script), "launch-"), ".sh")
			go func() {
				target, err := svc.Prepare(ctx, id)
				if err == nil {
					prepared <- target
				}
				close(prepared)
			}()
			return nil
		}),
	)
	svc = NewService(l, NewRequestTable(), ServiceConfig{
		Executable:    "/usr/local/bin/xpipe",
		ScriptDir:     dir,
		Dialect:       dialect.MustLookup(dialect.Sh),
		LaunchTimeout: 10 * time.Second,
	})

	err := svc.Open(ctx, c, OpenOptions{
		Title:   "local",
		Clear:   true,
		Command: command.Of("echo").AddQuoted("hi"),
	})
	require.NoError(t, err)
	assert.Zero(t, svc.Requests().Len())

	target, ok := <-prepared
	require.True(t, ok)
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(content), "clear")
	assert.Contains(t, string(content), `echo "hi"`)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "target script is executable")

	launchers, err := filepath.Glob(filepath.Join(dir, "launch-*.sh"))
	require.NoError(t, err)
	require.Len(t, launchers, 1)
	script, err := os.ReadFile(launchers[0])
	require.NoError(t, err)
	assert.Contains(t, string(script), "/usr/local/bin/xpipe terminal-prepare")
}

func TestService_PrepareUnknown(t *testing.T) {
	t.Parallel()
	svc := NewService(NewLauncher(), NewRequestTable(), ServiceConfig{Dialect: dialect.MustLookup(dialect.Sh)})
	_, err := svc.Prepare(context.Background(), "missing")
	assert.Equal(t, errkind.NotFound, errkind.Of(err))
}

func TestService_OpenTimeout(t *testing.T) {
	t.Parallel()
	var rec recorder
	l := NewLauncher(WithOS(ostype.Linux), WithLookPath(onPath("xterm")), WithStarter(rec.start))
	svc := NewService(l, NewRequestTable(), ServiceConfig{
		Executable:    "xpipe",
		ScriptDir:     t.TempDir(),
		Dialect:       dialect.MustLookup(dialect.Sh),
		LaunchTimeout: 20 * time.Millisecond,
	})
	err := svc.Open(context.Background(), nil, OpenOptions{})
	assert.Equal(t, errkind.Timeout, errkind.Of(err))
	assert.Zero(t, svc.Requests().Len())
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "/usr/bin/xterm", rec.calls[0][0])
}
