// Package report turns errors into what the user sees and the process exit
// code.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shellctl"
)

// Exit codes besides a failed command's own code.
const (
	ExitFailure  = 1
	ExitInternal = 70
	ExitTimeout  = 124
	ExitNotFound = 127
	ExitCanceled = 130
)

const stderrLines = 20

// Reporter prints errors. Expected errors become one-line messages,
// command failures show their stderr, and internal errors attach the most
// recent log output.
type Reporter struct {
	out   io.Writer
	logs  *shellctl.TailWriter
	color bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogTail attaches recent log output to internal error reports.
func WithLogTail(t *shellctl.TailWriter) Option {
	return func(r *Reporter) { r.logs = t }
}

// WithColor highlights the error prefix.
func WithColor(enabled bool) Option {
	return func(r *Reporter) { r.color = enabled }
}

func New(out io.Writer, opts ...Option) *Reporter {
	r := &Reporter{out: out}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report prints err and returns the exit code the process should end with.
// A nil error reports nothing and returns 0.
func (r *Reporter) Report(ctx context.Context, err error) int {
	if err == nil {
		return 0
	}

	kind := errkind.Of(err)
	var e *errkind.Error
	if kind == errkind.ProcessOutput && errors.As(err, &e) {
		logger.Debug(ctx, "Command failed", tag.ExitCode(e.ExitCode))
		r.printf("%s %s\n", r.prefix("Error:"), err.Error())
		if tail := lastLines(e.Stderr, stderrLines); tail != "" && !strings.Contains(err.Error(), tail) {
			r.printf("%s\n", indent(tail))
		}
		if e.ExitCode > 0 && e.ExitCode < 256 {
			return e.ExitCode
		}
		return ExitFailure
	}

	if kind.Expected() {
		logger.Debug(ctx, "Operation failed", tag.Kind(kind.String()), tag.Error(err))
		r.printf("%s %s\n", r.prefix("Error:"), err.Error())
		switch kind {
		case errkind.Timeout:
			return ExitTimeout
		case errkind.NotFound:
			return ExitNotFound
		case errkind.Cancelled:
			return ExitCanceled
		}
		return ExitFailure
	}

	logger.Error(ctx, "Internal error", tag.Kind(kind.String()), tag.Error(err))
	r.printf("%s %s\n", r.prefix("An internal error occurred:"), err.Error())
	if r.logs != nil {
		if tail := strings.TrimSpace(r.logs.Tail()); tail != "" {
			r.printf("\nRecent log output:\n%s\n", indent(tail))
		}
	}
	return ExitInternal
}

func (r *Reporter) prefix(s string) string {
	if !r.color {
		return s
	}
	return text.Colors{text.FgRed, text.Bold}.Sprint(s)
}

func (r *Reporter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
