// Package transport opens the byte channels a shell session runs over: a
// local child process or an SSH session.
package transport

import (
	"context"
	"io"
	"os"

	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
)

// Launch describes the process to start on a channel.
type Launch struct {
	// Argv is the program and its arguments. An empty Argv starts the
	// transport's login shell, which only remote transports have.
	Argv []string
	// Env holds extra KEY=VALUE entries.
	Env []string
	Dir string
	// PTY requests a pseudo terminal. Stdout and stderr are merged and
	// Channel.Stderr returns nil.
	PTY bool
}

// Channel is a running process with its standard streams.
type Channel interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits. It may be called repeatedly.
	Wait() error
	// ExitCode is valid after Wait returned; -1 means killed or unknown.
	ExitCode() int
	// Kill forcibly terminates the process and its descendants.
	Kill() error
	// Pid is the local process id, or 0 for remote processes.
	Pid() int
	// Close releases the streams. It does not wait for the process.
	Close() error
}

// Transport owns one connection to a system and opens channels on it.
type Transport interface {
	Open(ctx context.Context, l Launch) (Channel, error)
	IsLocal() bool
	// SystemID identifies the system, stable across reconnects.
	SystemID() string
	// TerminalArgv is the local argv that shows command in a terminal.
	// command is written in the dialect d of the transport's root shell; an
	// empty command opens an interactive shell.
	TerminalArgv(d dialect.Dialect, command string) []string
	WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error
	RemoveFile(ctx context.Context, path string) error
	Close() error
}
