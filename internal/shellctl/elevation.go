package shellctl

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/askpass"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
)

// Elevation methods.
const (
	ElevationAuto = "auto"
	ElevationSudo = "sudo"
	ElevationDoas = "doas"
	ElevationUAC  = "uac"
	ElevationNone = "none"
)

// elevator rewrites a command so it runs with administrative privileges.
// It runs probes in the session and must be called under the command lock.
type elevator interface {
	method() string
	wrap(ctx context.Context, c *Control, cmd string) (string, error)
}

func (c *Control) elevator() (elevator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.elev != nil {
		return c.elev, nil
	}

	method := strings.ToLower(c.opts.Elevation.Method)
	if method == "" || method == ElevationAuto {
		method = ElevationSudo
		if c.osType.IsWindows() {
			method = ElevationUAC
		}
	}
	windowsDialect := c.dialect.Family() == dialect.FamilyCmd || c.dialect.Family() == dialect.FamilyPowerShell

	switch method {
	case ElevationSudo, ElevationDoas:
		if windowsDialect {
			return nil, errkind.Errorf(errkind.Unsupported, "elevate", "%s is not available in %s", method, c.dialect.Name())
		}
		c.elev = &unixElevator{tool: method}
	case ElevationUAC:
		if !windowsDialect {
			return nil, errkind.Errorf(errkind.Unsupported, "elevate", "uac needs a cmd or PowerShell session")
		}
		c.elev = &uacElevator{}
	case ElevationNone:
		return nil, errkind.Errorf(errkind.Unsupported, "elevate", "elevation is disabled for %s", c.opts.Name)
	default:
		return nil, errkind.Errorf(errkind.Unsupported, "elevate", "unknown elevation method %q", method)
	}
	return c.elev, nil
}

// elevate wraps cmd for privileged execution.
func (c *Control) elevate(ctx context.Context, cmd string) (string, error) {
	e, err := c.elevator()
	if err != nil {
		return "", err
	}
	wrapped, err := e.wrap(ctx, c, cmd)
	if err != nil {
		return "", err
	}
	logger.Debug(ctx, "Elevated command", tag.Elevation(e.method()))
	return wrapped, nil
}

// queryText runs cmd under the command lock and returns its trimmed stdout.
func (c *Control) queryText(ctx context.Context, cmd string) (string, error) {
	var stdout, stderr strings.Builder
	code, err := c.run(ctx, cmd, &stdout, &stderr)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", errkind.Output(cmd, code, stdout.String(), stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (c *Control) queryCode(ctx context.Context, cmd string) (int, error) {
	return c.run(ctx, cmd, io.Discard, io.Discard)
}

// unixElevator handles sudo and doas.
type unixElevator struct {
	tool         string
	probed       bool
	isRoot       bool
	passwordless bool
	user         string
	password     string
}

func (u *unixElevator) method() string { return u.tool }

func (u *unixElevator) wrap(ctx context.Context, c *Control, cmd string) (string, error) {
	if err := u.probe(ctx, c); err != nil {
		return "", err
	}
	if u.isRoot {
		return cmd, nil
	}

	inner := c.dialect.ExecuteArgv(cmd)
	if u.passwordless {
		return c.dialect.JoinArgv(append([]string{u.tool, "-n", "--"}, inner...)), nil
	}
	if u.tool == ElevationDoas {
		return "", errkind.Errorf(errkind.Unsupported, "elevate", "doas on %s requires a password; configure nopass or use sudo", c.opts.Name)
	}
	if err := u.authenticate(ctx, c); err != nil {
		return "", err
	}
	return u.feed(c) + " | " + c.dialect.JoinArgv(append([]string{"sudo", "-S", "-p", "", "--"}, inner...)), nil
}

func (u *unixElevator) probe(ctx context.Context, c *Control) error {
	if u.probed {
		return nil
	}
	uid, err := c.queryText(ctx, "id -u")
	if err != nil {
		return err
	}
	u.isRoot = uid == "0"
	if !u.isRoot {
		code, err := c.queryCode(ctx, c.dialect.Which(u.tool))
		if err != nil {
			return err
		}
		if code != 0 {
			return errkind.Errorf(errkind.Unsupported, "elevate", "%s is not installed on %s", u.tool, c.opts.Name)
		}
		code, err = c.queryCode(ctx, u.tool+" -n true")
		if err != nil {
			return err
		}
		u.passwordless = code == 0
		if user, err := c.queryText(ctx, "id -un"); err == nil {
			u.user = user
		}
	}
	u.probed = true
	return nil
}

func (u *unixElevator) authenticate(ctx context.Context, c *Control) error {
	if u.password != "" {
		return nil
	}
	provider := c.opts.Elevation.Password
	if provider == nil {
		provider = askpass.None()
	}
	pw, err := provider.Password(ctx, askpass.Request{
		Prompt:   fmt.Sprintf("[sudo] password for %s: ", u.user),
		SystemID: c.transport.SystemID(),
		User:     u.user,
	})
	if errors.Is(err, askpass.ErrCancelled) {
		return errkind.Wrap(errkind.ElevationCancelled, "elevate", err)
	}
	if err != nil {
		return err
	}

	u.password = pw
	code, err := c.queryCode(ctx, u.feed(c)+" | sudo -S -p '' -v")
	if err != nil {
		u.password = ""
		return err
	}
	if code != 0 {
		u.password = ""
		return errkind.Errorf(errkind.ElevationCancelled, "elevate", "sudo rejected the password for %s", u.user)
	}
	return nil
}

func (u *unixElevator) feed(c *Control) string {
	return `printf '%s\n' ` + c.dialect.Literal(u.password)
}

// uacElevator relaunches commands through Start-Process -Verb RunAs and
// relays their output through temporary files.
type uacElevator struct {
	probed bool
	admin  bool
}

func (u *uacElevator) method() string { return ElevationUAC }

func psQuote(s string) string {
	return dialect.MustLookup(dialect.PowerShell).Quote(s)
}

const isAdminProbe = "([Security.Principal.WindowsPrincipal][Security.Principal.WindowsIdentity]::GetCurrent())" +
	".IsInRole([Security.Principal.WindowsBuiltInRole]::Administrator)"

func (u *uacElevator) wrap(ctx context.Context, c *Control, cmd string) (string, error) {
	if !u.probed {
		if c.dialect.Family() == dialect.FamilyPowerShell {
			out, err := c.queryText(ctx, isAdminProbe)
			if err != nil {
				return "", err
			}
			u.admin = strings.EqualFold(out, "true")
		} else {
			code, err := c.queryCode(ctx, "net session >NUL 2>&1")
			if err != nil {
				return "", err
			}
			u.admin = code == 0
		}
		u.probed = true
	}
	if u.admin {
		return cmd, nil
	}

	id := uuid.NewString()[:8]
	outFile := c.OS().Join(c.ScriptDirectory(), "elevated-"+id+".out")
	errFile := c.OS().Join(c.ScriptDirectory(), "elevated-"+id+".err")
	redirect := " > " + psQuote(outFile) + " 2> " + psQuote(errFile) + "; exit $LASTEXITCODE"

	var inner string
	if c.dialect.Family() == dialect.FamilyPowerShell {
		inner = "& { " + cmd + " }" + redirect
	} else {
		script, err := c.CreateScript(ctx, cmd)
		if err != nil {
			return "", err
		}
		inner = "& cmd.exe /D /C " + psQuote(script) + redirect
	}
	encoded, err := EncodePowerShell(inner)
	if err != nil {
		return "", errkind.Wrap(errkind.InternalError, "elevate", err)
	}

	start := "$p = Start-Process -FilePath 'powershell.exe'" +
		" -ArgumentList '-NoProfile','-ExecutionPolicy','Bypass','-EncodedCommand','" + encoded + "'" +
		" -Verb RunAs -Wait -PassThru -WindowStyle Hidden"
	relay := relayFile(outFile, "Out") + "; " + relayFile(errFile, "Error")

	if c.dialect.Family() == dialect.FamilyPowerShell {
		return fmt.Sprintf("try { %s } catch { $p = $null }; if ($p) { %s; $global:LASTEXITCODE = $p.ExitCode } else { $global:LASTEXITCODE = %d }",
			start, relay, uacCancelledExitCode), nil
	}

	script := fmt.Sprintf("try { %s } catch { exit %d }; %s; exit $p.ExitCode", start, uacCancelledExitCode, relay)
	encodedScript, err := EncodePowerShell(script)
	if err != nil {
		return "", errkind.Wrap(errkind.InternalError, "elevate", err)
	}
	return c.dialect.JoinArgv([]string{
		"powershell.exe", "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass",
		"-EncodedCommand", encodedScript,
	}), nil
}

func relayFile(path, stream string) string {
	q := psQuote(path)
	return fmt.Sprintf("if (Test-Path -LiteralPath %s) { [Console]::%s.Write([IO.File]::ReadAllText(%s)); Remove-Item -LiteralPath %s }",
		q, stream, q, q)
}

// EncodePowerShell encodes a script for powershell -EncodedCommand.
func EncodePowerShell(script string) (string, error) {
	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().String(script)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString([]byte(utf16)), nil
}
