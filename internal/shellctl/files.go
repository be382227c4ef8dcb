package shellctl

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/command"
)

var _ command.Target = (*Control)(nil)

// RenderContext describes the session for command rendering.
func (c *Control) RenderContext() command.RenderContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return command.RenderContext{
		Dialect:          c.dialect,
		OS:               c.osType,
		WorkingDirectory: c.cwd,
		TempDirectory:    c.tempDir,
	}
}

// ScriptDirectory is where CreateScript places its files.
func (c *Control) ScriptDirectory() string {
	return c.OS().Join(c.TempDirectory(), "xpipe", "scripts")
}

// WriteTextFile writes content to path on the session's system.
func (c *Control) WriteTextFile(ctx context.Context, path, content string) error {
	return c.transport.WriteFile(ctx, path, []byte(content), 0o600)
}

// CreateScript writes content as an executable script in the session's
// dialect and returns its path.
func (c *Control) CreateScript(ctx context.Context, content string) (string, error) {
	if c.TempDirectory() == "" {
		return "", errkind.Errorf(errkind.InternalError, "create script", "shell %s is not started", c.opts.Name)
	}
	name := "exec-" + uuid.NewString()[:8] + c.dialect.ScriptExtension()
	path := c.OS().Join(c.ScriptDirectory(), name)

	var sb strings.Builder
	if header := c.dialect.ScriptHeader(); header != "" {
		sb.WriteString(header)
		sb.WriteString("\n")
	}
	sb.WriteString(content)
	sb.WriteString("\n")
	text := strings.ReplaceAll(sb.String(), "\r\n", "\n")
	if le := c.dialect.LineEnding(); le != "\n" {
		text = strings.ReplaceAll(text, "\n", le)
	}

	if err := c.transport.WriteFile(ctx, path, []byte(text), 0o700); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveFile deletes path on the session's system.
func (c *Control) RemoveFile(ctx context.Context, path string) error {
	return c.transport.RemoveFile(ctx, path)
}

// ChangeDirectory changes the session's working directory.
func (c *Control) ChangeDirectory(ctx context.Context, dir string) error {
	return c.withLock(ctx, func(ctx context.Context) error {
		var stderr strings.Builder
		code, err := c.run(ctx, c.dialect.ChangeDirectory(dir), io.Discard, &stderr)
		if err != nil {
			return err
		}
		if code != 0 {
			return errkind.NotFoundf("change directory", "%s: %s", dir, strings.TrimSpace(stderr.String()))
		}
		var stdout strings.Builder
		if _, err := c.run(ctx, c.dialect.PrintWorkingDirectory(), &stdout, io.Discard); err != nil {
			return err
		}
		c.mu.Lock()
		c.cwd = strings.TrimSpace(stdout.String())
		c.mu.Unlock()
		return nil
	})
}

// Export sets an environment variable for all later commands.
func (c *Control) Export(ctx context.Context, name, value string) error {
	return c.withLock(ctx, func(ctx context.Context) error {
		code, err := c.run(ctx, c.dialect.EnvSet(name, value), io.Discard, io.Discard)
		if err != nil {
			return err
		}
		if code != 0 {
			return errkind.Output("export "+name, code, "", "")
		}
		return nil
	})
}

// withLock starts the session if needed and runs fn while holding the
// command lock.
func (c *Control) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.ensureStarted(ctx); err != nil {
		return err
	}
	if err := c.lock.Acquire(ctx, 1); err != nil {
		return errkind.FromContext(c.opts.Name, err)
	}
	defer c.lock.Release(1)
	if st := c.State(); st != StateStarted {
		return errkind.Errorf(errkind.InternalError, c.opts.Name, "shell is %s", st)
	}
	return fn(c.logCtx(ctx))
}

func (c *Control) ensureStarted(ctx context.Context) error {
	if c.State() == StateStarted {
		return nil
	}
	return c.Start(ctx)
}
