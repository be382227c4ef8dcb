// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming convention for consistency.
// Use these functions instead of raw strings to ensure consistent
// and type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Session identification tags

// SessionID creates a tag for shell control identifiers.
func SessionID(id string) slog.Attr {
	return slog.String("session-id", id)
}

// Connection creates a tag for connection store names.
func Connection(name string) slog.Attr {
	return slog.String("connection", name)
}

// Dialect creates a tag for shell dialect identifiers.
func Dialect(id string) slog.Attr {
	return slog.String("dialect", id)
}

// OS creates a tag for operating system types.
func OS(name string) slog.Attr {
	return slog.String("os", name)
}

// Host creates a tag for remote host addresses.
func Host(addr string) slog.Attr {
	return slog.String("host", addr)
}

// State creates a tag for lifecycle states.
func State(s string) slog.Attr {
	return slog.String("state", s)
}

// Dir creates a tag for directories.
func Dir(dir string) slog.Attr {
	return slog.String("dir", dir)
}

// File creates a tag for file paths.
func File(path string) slog.Attr {
	return slog.String("file", path)
}

// Command execution tags

// Command creates a tag for rendered command lines.
func Command(cmd string) slog.Attr {
	return slog.String("command", cmd)
}

// Args creates a tag for argument vectors.
func Args(args []string) slog.Attr {
	return slog.Any("args", args)
}

// ExitCode creates a tag for process exit codes.
func ExitCode(code int) slog.Attr {
	return slog.Int("exit-code", code)
}

// PID creates a tag for process ids.
func PID(pid int) slog.Attr {
	return slog.Int("pid", pid)
}

// Timeout creates a tag for timeout durations.
func Timeout(d time.Duration) slog.Attr {
	return slog.Duration("timeout", d)
}

// Duration creates a tag for elapsed durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elevation creates a tag for elevation strategies.
func Elevation(method string) slog.Attr {
	return slog.String("elevation", method)
}

// Terminal and socket tags

// Terminal creates a tag for terminal emulator types.
func Terminal(name string) slog.Attr {
	return slog.String("terminal", name)
}

// RequestID creates a tag for request IDs.
func RequestID(id string) slog.Attr {
	return slog.String("request-id", id)
}

// MessageType creates a tag for socket message types.
func MessageType(name string) slog.Attr {
	return slog.String("message-type", name)
}

// Addr creates a tag for listener or peer addresses.
func Addr(addr string) slog.Attr {
	return slog.String("addr", addr)
}

// Attempt creates a tag for retry attempt numbers.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Kind creates a tag for error kinds.
func Kind(k string) slog.Attr {
	return slog.String("kind", k)
}
