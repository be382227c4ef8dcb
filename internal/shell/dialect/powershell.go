package dialect

import (
	"strings"
)

// powerShell covers Windows PowerShell and PowerShell Core. Only Core has a
// pipeline chain operator.
type powerShell struct {
	core bool
}

var _ Dialect = powerShell{}

func newPowerShell(core bool) powerShell {
	return powerShell{core: core}
}

func (p powerShell) ID() ID {
	if p.core {
		return Pwsh
	}
	return PowerShell
}

func (p powerShell) Name() string {
	if p.core {
		return "PowerShell Core"
	}
	return "Windows PowerShell"
}

func (powerShell) Family() Family { return FamilyPowerShell }

func (p powerShell) Match(name string) bool {
	if p.core {
		return name == "pwsh"
	}
	return name == "powershell"
}

func (p powerShell) Executable() string {
	if p.core {
		return "pwsh"
	}
	return "powershell.exe"
}

func (p powerShell) baseArgs() []string {
	args := []string{p.Executable(), "-NoLogo", "-NoProfile", "-NonInteractive"}
	if !p.core {
		args = append(args, "-ExecutionPolicy", "Bypass")
	}
	return args
}

func (p powerShell) LaunchArgv() []string {
	return append(p.baseArgs(), "-Command", "-")
}

func (p powerShell) InteractiveArgv() []string {
	return []string{p.Executable(), "-NoLogo"}
}

func (p powerShell) ExecuteArgv(command string) []string {
	return append(p.baseArgs(), "-Command", command)
}

var singleQuotes = strings.NewReplacer(
	"'", "''",
	"‘", "‘‘",
	"’", "’’",
	"‚", "‚‚",
	"‛", "‛‛",
)

// Quote uses single quotes, PowerShell's verbatim form. PowerShell also
// treats the typographic single quotes as delimiters, so those are doubled too.
func (powerShell) Quote(arg string) string {
	return "'" + singleQuotes.Replace(arg) + "'"
}

func (p powerShell) QuoteFile(path string) string { return p.Quote(path) }
func (p powerShell) Literal(arg string) string    { return p.Quote(arg) }

// QuoteDouble produces an expandable double-quoted string where every
// character that would start an expansion or end the string is
// backtick-escaped.
func QuoteDouble(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '`', '"', '$', '“', '”', '„':
			sb.WriteByte('`')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
	return sb.String()
}

func (p powerShell) JoinArgv(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = p.Quote(a)
	}
	return "& " + strings.Join(parts, " ")
}

func (powerShell) EnvGet(name string) string { return "$env:" + name }

func (p powerShell) EnvSet(name, value string) string {
	return "$env:" + name + " = " + p.Quote(value)
}

func (p powerShell) InlineEnv(env []EnvVar, command string) string {
	if len(env) == 0 {
		return command
	}
	parts := make([]string, 0, len(env)+1)
	for _, e := range env {
		parts = append(parts, p.EnvSet(e.Name, e.Value))
	}
	return strings.Join(append(parts, command), "; ")
}

func (powerShell) ExitCodeVariable() string { return "$LASTEXITCODE" }

func (p powerShell) FileExists(path string) string {
	return "$global:LASTEXITCODE = [int](-not (Test-Path -LiteralPath " + p.Quote(path) + " -PathType Leaf))"
}

func (p powerShell) DirectoryExists(path string) string {
	return "$global:LASTEXITCODE = [int](-not (Test-Path -LiteralPath " + p.Quote(path) + " -PathType Container))"
}

func (powerShell) ScriptExtension() string { return ".ps1" }
func (powerShell) ScriptHeader() string    { return "" }

func (p powerShell) RunScript(path string) string {
	args := append(p.baseArgs(), "-File", path)
	return p.JoinArgv(args)
}

func (p powerShell) And(commands ...string) string {
	if p.core || len(commands) < 2 {
		return strings.Join(commands, " && ")
	}
	out := commands[len(commands)-1]
	for i := len(commands) - 2; i >= 0; i-- {
		out = commands[i] + "; if ($?) { " + out + " }"
	}
	return out
}

func (powerShell) Sequence(commands ...string) string { return strings.Join(commands, "; ") }

func (p powerShell) ChangeDirectory(dir string) string {
	return "Set-Location -LiteralPath " + p.Quote(dir)
}

func (powerShell) PrintWorkingDirectory() string { return "(Get-Location).Path" }

func (p powerShell) Which(name string) string {
	return "(Get-Command -ErrorAction Stop " + p.Quote(name) + ").Source"
}

func (powerShell) NullDevice() string { return "$null" }

func (p powerShell) Echo(text string) string {
	return "Write-Output " + p.Quote(text)
}

func (powerShell) Init() string {
	return "$ProgressPreference = 'SilentlyContinue'; function prompt { '' }"
}

func (powerShell) Exit() string          { return "exit" }
func (powerShell) TempDirectory() string { return "[System.IO.Path]::GetTempPath()" }

func (powerShell) OSProbe() string {
	return "if ($IsLinux) { 'Linux' } elseif ($IsMacOS) { 'Darwin' } else { $env:OS }"
}

func (powerShell) PIDProbe() string    { return "$PID" }
func (powerShell) ClearScreen() string { return "Clear-Host" }

func (powerShell) SetTitle(title string) string {
	return "$Host.UI.RawUI.WindowTitle = " + QuoteDouble(title)
}

func (powerShell) LineEnding() string            { return "\n" }
func (powerShell) SupportsInlineMultiline() bool { return false }

// Delimit runs the command in a child scope with terminating errors so that
// both cmdlet failures and native exit codes end up in the printed code.
func (p powerShell) Delimit(command string, m Marker) string {
	token := func(t string) string {
		prefix, id := splitToken(t)
		return p.Quote(prefix) + " + " + p.Quote(id)
	}
	steps := []string{
		"[Console]::Out.WriteLine(" + token(m.Start()) + ")",
		"[Console]::Error.WriteLine(" + token(m.ErrStart()) + ")",
		"$global:LASTEXITCODE = 0",
		"$__xpipe_ok = $true",
		"try { $null | & { $ErrorActionPreference = 'Stop'; " + command + " } | Out-Default } " +
			"catch { $__xpipe_ok = $false; [Console]::Error.WriteLine($_.ToString()) }",
		"$__xpipe_ec = if ($global:LASTEXITCODE) { $global:LASTEXITCODE } elseif ($__xpipe_ok) { 0 } else { 1 }",
		"[Console]::Out.WriteLine()",
		"[Console]::Out.WriteLine(" + token(m.End()) + " + ':' + $__xpipe_ec)",
		"[Console]::Error.WriteLine()",
		"[Console]::Error.WriteLine(" + token(m.ErrEnd()) + ")",
	}
	return strings.Join(steps, "; ")
}

func (powerShell) Validate(string) error { return nil }
