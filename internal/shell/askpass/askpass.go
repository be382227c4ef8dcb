// Package askpass supplies secrets for privilege elevation.
package askpass

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrCancelled is returned when no secret is available or the user declined.
var ErrCancelled = errors.New("password prompt cancelled")

// Request describes what the secret is for.
type Request struct {
	// Prompt is shown to the user.
	Prompt string
	// SystemID identifies the machine the secret belongs to.
	SystemID string
	User     string
}

// Provider returns the secret for a request.
type Provider interface {
	Password(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

func (f ProviderFunc) Password(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Static always returns the same secret.
func Static(password string) Provider {
	return ProviderFunc(func(context.Context, Request) (string, error) {
		return password, nil
	})
}

// None never has a secret.
func None() Provider {
	return ProviderFunc(func(context.Context, Request) (string, error) {
		return "", ErrCancelled
	})
}

// Env reads the secret from an environment variable.
func Env(name string) Provider {
	return ProviderFunc(func(context.Context, Request) (string, error) {
		if v, ok := os.LookupEnv(name); ok {
			return v, nil
		}
		return "", ErrCancelled
	})
}

// Chain asks each provider in order and returns the first secret found.
func Chain(providers ...Provider) Provider {
	return ProviderFunc(func(ctx context.Context, req Request) (string, error) {
		for _, p := range providers {
			pw, err := p.Password(ctx, req)
			if err == nil {
				return pw, nil
			}
			if !errors.Is(err, ErrCancelled) {
				return "", err
			}
		}
		return "", ErrCancelled
	})
}

// Terminal prompts on a terminal without echoing. When in is not a terminal
// a single line is read instead, which allows piping the secret in.
type Terminal struct {
	In  *os.File
	Out io.Writer
}

// NewTerminal prompts on the process's stdin and stderr.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

func (t *Terminal) Password(ctx context.Context, req Request) (string, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = "Password"
		if req.User != "" {
			prompt = fmt.Sprintf("Password for %s", req.User)
		}
	}
	_, _ = fmt.Fprintf(t.Out, "%s: ", prompt)

	type result struct {
		pw  string
		err error
	}
	done := make(chan result, 1)
	go func() {
		pw, err := t.read()
		done <- result{pw, err}
	}()

	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(t.Out)
		return "", ErrCancelled
	case r := <-done:
		_, _ = fmt.Fprintln(t.Out)
		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				return "", ErrCancelled
			}
			return "", r.err
		}
		return r.pw, nil
	}
}

func (t *Terminal) read() (string, error) {
	fd := int(t.In.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		return string(b), err
	}
	line, err := bufio.NewReader(t.In).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
