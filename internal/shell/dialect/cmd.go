package dialect

import (
	"strings"
)

// cmd is the Windows command processor. It has no literal quote form, no
// multi-line input and expands %VAR% even inside double quotes.
type cmd struct{}

var _ Dialect = cmd{}

func (cmd) ID() ID                    { return Cmd }
func (cmd) Name() string              { return "cmd" }
func (cmd) Family() Family            { return FamilyCmd }
func (cmd) Match(name string) bool    { return name == "cmd" }
func (cmd) Executable() string        { return "cmd.exe" }
func (cmd) LaunchArgv() []string      { return []string{"cmd.exe", "/D", "/Q"} }
func (cmd) InteractiveArgv() []string { return []string{"cmd.exe"} }

func (cmd) ExecuteArgv(command string) []string {
	return []string{"cmd.exe", "/D", "/C", command}
}

// Quote doubles embedded quotes, which keeps the quote state of cmd's parser
// unchanged, and steps outside the quotes for a caret-escaped percent sign.
// Line breaks cannot be represented and become spaces.
func (cmd) Quote(arg string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range arg {
		switch r {
		case '"':
			sb.WriteString(`""`)
		case '%':
			sb.WriteString(`"^%"`)
		case '\r':
		case '\n':
			sb.WriteByte(' ')
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func (c cmd) QuoteFile(path string) string { return c.Quote(path) }
func (c cmd) Literal(arg string) string    { return c.Quote(arg) }

func (c cmd) JoinArgv(argv []string) string {
	return joinBare(argv, c.Quote)
}

func (cmd) EnvGet(name string) string { return "%" + name + "%" }

func (cmd) EnvSet(name, value string) string {
	return "set " + name + "=" + caretEscape(value)
}

func (c cmd) InlineEnv(env []EnvVar, command string) string {
	if len(env) == 0 {
		return command
	}
	parts := make([]string, 0, len(env)+1)
	for _, e := range env {
		parts = append(parts, c.EnvSet(e.Name, e.Value))
	}
	return strings.Join(append(parts, command), "&& ")
}

func (cmd) ExitCodeVariable() string { return "%errorlevel%" }

func (c cmd) FileExists(path string) string {
	return "if exist " + c.Quote(path+`\*`) + " (cmd /c exit 1) else if exist " +
		c.Quote(path) + " (cmd /c exit 0) else (cmd /c exit 1)"
}

func (c cmd) DirectoryExists(path string) string {
	return "if exist " + c.Quote(path+`\*`) + " (cmd /c exit 0) else (cmd /c exit 1)"
}

func (cmd) ScriptExtension() string { return ".bat" }
func (cmd) ScriptHeader() string    { return "@echo off" }

func (c cmd) RunScript(path string) string { return "call " + c.Quote(path) }

func (cmd) And(commands ...string) string      { return strings.Join(commands, " && ") }
func (cmd) Sequence(commands ...string) string { return strings.Join(commands, " & ") }

func (c cmd) ChangeDirectory(dir string) string { return "cd /d " + c.Quote(dir) }
func (cmd) PrintWorkingDirectory() string       { return "cd" }
func (c cmd) Which(name string) string          { return "where " + c.Quote(name) }
func (cmd) NullDevice() string                  { return "NUL" }

func (cmd) Echo(text string) string {
	if text == "" {
		return "echo."
	}
	return "echo " + caretEscape(text)
}

func (cmd) Init() string          { return "@echo off" }
func (cmd) Exit() string          { return "exit" }
func (cmd) TempDirectory() string { return "echo %TEMP%" }
func (cmd) OSProbe() string       { return "echo %OS%" }
func (cmd) PIDProbe() string      { return "" }
func (cmd) ClearScreen() string   { return "cls" }

func (cmd) SetTitle(title string) string {
	return "title " + caretEscape(title)
}

func (cmd) LineEnding() string            { return "\r\n" }
func (cmd) SupportsInlineMultiline() bool { return false }

// Delimit emits one line per step because %errorlevel% is expanded when a
// line is parsed, not when it runs.
func (cmd) Delimit(command string, m Marker) string {
	lines := []string{
		"echo " + m.Start(),
		"echo " + m.ErrStart() + " 1>&2",
		"(" + command + ") < NUL",
		"set __xpipe_ec=%errorlevel%",
		"echo.",
		"echo " + m.End() + ":%__xpipe_ec%",
		"echo. 1>&2",
		"echo " + m.ErrEnd() + " 1>&2",
	}
	return strings.Join(lines, "\r\n")
}

func (cmd) Validate(command string) error { return nil }

func caretEscape(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '^', '&', '|', '<', '>', '(', ')', '"', '%', '!':
			sb.WriteByte('^')
		case '\r', '\n':
			sb.WriteByte(' ')
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
