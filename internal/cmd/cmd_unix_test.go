//go:build !windows

package cmd_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmd"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/config"
)

type cmdTest struct {
	name        string
	args        []string
	stdin       string
	expectedOut []string
	exitCode    int
}

type cmdHelper struct {
	home string
	port string
}

func setupCommand(t *testing.T) cmdHelper {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	home := t.TempDir()
	cfg := `defaultShell: sh
connections:
  nested:
    kind: subshell
    parent: local
    shell: sh
    env:
      GREETING: hello
`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(cfg), 0o600))
	return cmdHelper{home: home, port: freePort(t)}
}

// freePort returns a port nothing listens on, so no daemon is found.
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return strconv.Itoa(port)
}

func (h cmdHelper) run(t *testing.T, c *cobra.Command, tc cmdTest) (string, string, error) {
	t.Helper()
	root := &cobra.Command{Use: "root", SilenceErrors: true, SilenceUsage: true}
	root.AddCommand(c)

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(tc.stdin))

	args := []string{tc.args[0], "--home", h.home, "--quiet"}
	if c.Flags().Lookup("port") != nil {
		args = append(args, "--port", h.port)
	}
	root.SetArgs(append(args, tc.args[1:]...))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func (h cmdHelper) runTest(t *testing.T, c *cobra.Command, tc cmdTest) {
	t.Helper()
	stdout, stderr, err := h.run(t, c, tc)
	if tc.exitCode == 0 {
		require.NoError(t, err, "stderr: %s", stderr)
	} else {
		var exitErr *cmd.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, tc.exitCode, exitErr.Code)
	}
	for _, expected := range tc.expectedOut {
		assert.Contains(t, stdout+stderr, expected)
	}
}

func TestExecCommand(t *testing.T) {
	t.Parallel()

	tests := []cmdTest{
		{
			name:        "QuotedArgs",
			args:        []string{"exec", "--local", "local", "--", "echo", "a  b", "$HOME"},
			expectedOut: []string{"a  b $HOME"},
		},
		{
			name:        "Raw",
			args:        []string{"exec", "--local", "--raw", "local", "--", "echo", "$((1+2))"},
			expectedOut: []string{"3"},
		},
		{
			name:        "SubShellEnv",
			args:        []string{"exec", "--local", "--raw", "nested", "--", "echo", "$GREETING"},
			expectedOut: []string{"hello"},
		},
		{
			name:        "Stdin",
			args:        []string{"exec", "--local", "--stdin", "local", "--", "cat"},
			stdin:       "piped",
			expectedOut: []string{"piped"},
		},
		{
			name:        "ExitCode",
			args:        []string{"exec", "--local", "local", "--", "sh", "-c", "echo bad >&2; exit 4"},
			expectedOut: []string{"bad"},
			exitCode:    4,
		},
		{
			name:        "UnknownConnection",
			args:        []string{"exec", "--local", "nowhere", "--", "true"},
			expectedOut: []string{`unknown connection "nowhere"`},
			exitCode:    127,
		},
		{
			name:     "DaemonFallback",
			args:     []string{"exec", "local", "--", "true"},
			exitCode: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			th := setupCommand(t)
			th.runTest(t, cmd.Exec(), tc)
		})
	}
}

func TestQuoteCommand(t *testing.T) {
	t.Parallel()
	th := setupCommand(t)

	th.runTest(t, cmd.Quote(), cmdTest{
		args:        []string{"quote", "--shell", "sh", "--", "echo", "a b"},
		expectedOut: []string{`echo "a b"`},
	})
	th.runTest(t, cmd.Quote(), cmdTest{
		args:        []string{"quote", "--", "echo", "a b"},
		expectedOut: []string{"SHELL", "powershell", "cmd", "fish"},
	})
	th.runTest(t, cmd.Quote(), cmdTest{
		args:        []string{"quote", "--shell", "tcsh", "x"},
		expectedOut: []string{`unknown shell "tcsh"`},
		exitCode:    1,
	})
}

func TestConnectionsCommand(t *testing.T) {
	t.Parallel()
	th := setupCommand(t)

	th.runTest(t, cmd.Connections(), cmdTest{
		args:        []string{"connections"},
		expectedOut: []string{"local", "nested", "sh in local"},
	})
}

func TestTerminalsCommand(t *testing.T) {
	t.Parallel()
	th := setupCommand(t)

	th.runTest(t, cmd.Terminals(), cmdTest{
		args:        []string{"terminals"},
		expectedOut: []string{"TERMINAL", "INSTALLED"},
	})
}

func TestTerminalPrepareCommand_NoDaemon(t *testing.T) {
	t.Parallel()
	th := setupCommand(t)

	th.runTest(t, cmd.TerminalPrepare(), cmdTest{
		args:        []string{"terminal-prepare", "0000"},
		expectedOut: []string{"An internal error occurred", "not reachable"},
		exitCode:    70,
	})
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	root := &cobra.Command{Use: "root"}
	root.AddCommand(cmd.Version())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, config.Version+"\n", out.String())
}

func TestInitializationError(t *testing.T) {
	t.Parallel()
	th := setupCommand(t)
	require.NoError(t, os.WriteFile(filepath.Join(th.home, "config.yaml"), []byte("socket: [\n"), 0o600))

	th.runTest(t, cmd.Connections(), cmdTest{
		args:        []string{"connections"},
		expectedOut: []string{"Initialization error"},
		exitCode:    1,
	})
}
