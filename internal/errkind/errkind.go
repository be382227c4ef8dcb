// Package errkind classifies failures of the shell control layer so callers
// can tell user-facing problems apart from internal faults.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is the category of a failure.
type Kind int

const (
	Unknown Kind = iota
	// NotFound means an executable, shell, terminal or file does not exist.
	NotFound
	// Timeout means an operation exceeded its deadline and was terminated.
	Timeout
	// ElevationCancelled means the user declined or failed authentication.
	ElevationCancelled
	// Unsupported means the target cannot perform the operation at all.
	Unsupported
	// TransportFailure means the underlying process or connection broke.
	TransportFailure
	// ProcessOutput means a command exited with a nonzero code.
	ProcessOutput
	// Cancelled means the caller's context was cancelled.
	Cancelled
	// InternalError is a bug or an unexpected state.
	InternalError
)

var kindNames = map[Kind]string{
	Unknown:            "Unknown",
	NotFound:           "NotFound",
	Timeout:            "Timeout",
	ElevationCancelled: "ElevationCancelled",
	Unsupported:        "Unsupported",
	TransportFailure:   "TransportFailure",
	ProcessOutput:      "ProcessOutput",
	Cancelled:          "Cancelled",
	InternalError:      "InternalError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k
		}
	}
	return Unknown
}

// Expected reports whether failures of this kind are caused by the
// environment or the user rather than by a defect.
func (k Kind) Expected() bool {
	switch k {
	case NotFound, Timeout, ElevationCancelled, Unsupported, ProcessOutput, Cancelled:
		return true
	default:
		return false
	}
}

// Error is a classified error. Stdout and Stderr are only set for
// ProcessOutput errors.
type Error struct {
	Kind     Kind
	Op       string
	Err      error
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	switch {
	case e.Err != nil:
		sb.WriteString(e.Err.Error())
	case e.Kind == ProcessOutput:
		fmt.Fprintf(&sb, "process exited with code %d", e.ExitCode)
	default:
		sb.WriteString(strings.ToLower(e.Kind.String()))
	}
	if e.Kind == ProcessOutput {
		if msg := strings.TrimSpace(e.Stderr); msg != "" {
			sb.WriteString(": ")
			sb.WriteString(msg)
		}
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, errkind.New(k, ""))
// works as a kind test.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) && t.Op == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return false
}

// New creates an error of the given kind with a plain message.
func New(k Kind, op string) *Error {
	return &Error{Kind: k, Op: op}
}

// Wrap classifies err under kind k. A nil err yields nil.
func Wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// Errorf creates a classified error with a formatted cause.
func Errorf(k Kind, op string, format string, args ...any) error {
	return &Error{Kind: k, Op: op, Err: fmt.Errorf(format, args...)}
}

// NotFoundf creates a NotFound error.
func NotFoundf(op string, format string, args ...any) error {
	return Errorf(NotFound, op, format, args...)
}

// Output creates a ProcessOutput error for a nonzero exit.
func Output(op string, exitCode int, stdout, stderr string) error {
	return &Error{Kind: ProcessOutput, Op: op, ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
}

// Of returns the kind of err. Context errors are recognised even when they
// were never wrapped.
func Of(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Cancelled
	}
	return Unknown
}

// Has reports whether err is classified as k.
func Has(err error, k Kind) bool {
	return err != nil && Of(err) == k
}

// IsExpected reports whether err should be shown to the user as a plain
// message instead of an internal error report.
func IsExpected(err error) bool {
	return Of(err).Expected()
}

// FromContext converts a context error into a classified error.
func FromContext(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(Timeout, op, err)
	case errors.Is(err, context.Canceled):
		return Wrap(Cancelled, op, err)
	}
	return Wrap(InternalError, op, err)
}
