package dialect

import (
	"fmt"
	"strings"
)

type fish struct{}

var _ Dialect = fish{}

func (fish) ID() ID                    { return Fish }
func (fish) Name() string              { return "Fish" }
func (fish) Family() Family            { return FamilyFish }
func (fish) Match(name string) bool    { return name == "fish" }
func (fish) Executable() string        { return "fish" }
func (fish) LaunchArgv() []string      { return []string{"fish"} }
func (fish) InteractiveArgv() []string { return []string{"fish", "-l"} }

func (fish) ExecuteArgv(command string) []string {
	return []string{"fish", "-c", command}
}

func (fish) Quote(arg string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range arg {
		switch r {
		case '\\', '"', '$':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
	return sb.String()
}

func (f fish) QuoteFile(path string) string {
	return quoteHome(path, f.Quote)
}

// Literal escapes backslash and single quote, the only escapes fish honours
// inside single quotes.
func (fish) Literal(arg string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(arg) + "'"
}

func (f fish) JoinArgv(argv []string) string {
	return joinBare(argv, f.Literal)
}

func (fish) EnvGet(name string) string { return "$" + name }

func (f fish) EnvSet(name, value string) string {
	return "set -gx " + name + " " + f.Quote(value)
}

func (f fish) InlineEnv(env []EnvVar, command string) string {
	if len(env) == 0 {
		return command
	}
	var sb strings.Builder
	for _, e := range env {
		sb.WriteString(e.Name)
		sb.WriteByte('=')
		sb.WriteString(f.Quote(e.Value))
		sb.WriteByte(' ')
	}
	sb.WriteString(command)
	return sb.String()
}

func (fish) ExitCodeVariable() string { return "$status" }

func (f fish) FileExists(path string) string      { return "test -f " + f.QuoteFile(path) }
func (f fish) DirectoryExists(path string) string { return "test -d " + f.QuoteFile(path) }

func (fish) ScriptExtension() string { return ".fish" }
func (fish) ScriptHeader() string    { return "#!/usr/bin/env fish" }

func (f fish) RunScript(path string) string { return "fish " + f.QuoteFile(path) }

func (fish) And(commands ...string) string      { return strings.Join(commands, " && ") }
func (fish) Sequence(commands ...string) string { return strings.Join(commands, "; ") }

func (f fish) ChangeDirectory(dir string) string { return "cd " + f.QuoteFile(dir) }
func (fish) PrintWorkingDirectory() string       { return "pwd" }
func (f fish) Which(name string) string          { return "command -v " + f.Literal(name) }
func (fish) NullDevice() string                  { return "/dev/null" }

func (f fish) Echo(text string) string {
	return `printf '%s\n' ` + f.Literal(text)
}

func (fish) Init() string {
	return "function fish_prompt; end; function fish_greeting; end"
}

func (fish) Exit() string { return "exit" }

func (fish) TempDirectory() string {
	return `if set -q TMPDIR; printf '%s\n' $TMPDIR; else; printf '%s\n' /tmp; end`
}

func (fish) OSProbe() string     { return "uname -s" }
func (fish) PIDProbe() string    { return "echo $fish_pid" }
func (fish) ClearScreen() string { return "clear" }

func (f fish) SetTitle(title string) string {
	return `printf '\033]0;%s\007' ` + f.Literal(title)
}

func (fish) LineEnding() string            { return "\n" }
func (fish) SupportsInlineMultiline() bool { return true }

func (f fish) Delimit(command string, m Marker) string {
	return fmt.Sprintf(
		"%s; %s >&2; begin\n%s\nend </dev/null; set __xpipe_ec $status; %s $__xpipe_ec; %s >&2",
		printTokenHalves("", m.Start(), ""),
		printTokenHalves("", m.ErrStart(), ""),
		command,
		printTokenHalves(`\n`, m.End(), `:%s`),
		printTokenHalves(`\n`, m.ErrEnd(), ""),
	)
}

func (fish) Validate(string) error { return nil }

func printTokenHalves(before, token, after string) string {
	prefix, id := splitToken(token)
	return fmt.Sprintf(`printf '%s%%s%%s%s\n' '%s' '%s'`, before, after, prefix, id)
}
