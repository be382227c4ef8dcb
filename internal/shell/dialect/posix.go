package dialect

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// posix covers the Bourne family. The flavors differ only in how they are
// launched and which parser variant validates their input.
type posix struct {
	id          ID
	name        string
	launch      []string
	interactive []string
	header      string
	lang        syntax.LangVariant
	validate    bool
}

var _ Dialect = posix{}

func newPosix(id ID) posix {
	p := posix{
		id:          id,
		launch:      []string{string(id)},
		interactive: []string{string(id)},
		header:      "#!/usr/bin/env " + string(id),
		lang:        syntax.LangPOSIX,
		validate:    true,
	}
	switch id {
	case Sh:
		p.name = "sh"
		p.header = "#!/bin/sh"
	case Bash:
		p.name = "Bash"
		p.launch = []string{"bash", "--noprofile", "--norc"}
		p.interactive = []string{"bash", "-l"}
		p.lang = syntax.LangBash
	case Zsh:
		p.name = "Zsh"
		p.launch = []string{"zsh", "-f"}
		p.interactive = []string{"zsh", "-l"}
		p.validate = false
	case Dash:
		p.name = "Dash"
	case Ash:
		p.name = "Ash"
	}
	return p
}

func (p posix) ID() ID         { return p.id }
func (p posix) Name() string   { return p.name }
func (p posix) Family() Family { return FamilyPosix }

func (p posix) Match(name string) bool {
	switch p.id {
	case Sh:
		// sh is the fallback for any unrecognised shell
		return true
	case Ash:
		return name == "ash" || name == "busybox"
	}
	return name == string(p.id)
}

func (p posix) Executable() string        { return string(p.id) }
func (p posix) LaunchArgv() []string      { return cloneArgs(p.launch) }
func (p posix) InteractiveArgv() []string { return cloneArgs(p.interactive) }

func (p posix) ExecuteArgv(command string) []string {
	return []string{string(p.id), "-c", command}
}

// Quote uses double quotes, escaping the four characters that stay special
// inside them.
func (p posix) Quote(arg string) string {
	var sb strings.Builder
	sb.Grow(len(arg) + 2)
	sb.WriteByte('"')
	for _, r := range arg {
		switch r {
		case '\\', '"', '$', '`':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
	return sb.String()
}

func (p posix) QuoteFile(path string) string {
	return quoteHome(path, p.Quote)
}

func (p posix) Literal(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

func (p posix) JoinArgv(argv []string) string {
	return joinBare(argv, p.Literal)
}

func (p posix) EnvGet(name string) string { return "${" + name + "}" }

func (p posix) EnvSet(name, value string) string {
	return "export " + name + "=" + p.Quote(value)
}

func (p posix) InlineEnv(env []EnvVar, command string) string {
	if len(env) == 0 {
		return command
	}
	var sb strings.Builder
	for _, e := range env {
		sb.WriteString(e.Name)
		sb.WriteByte('=')
		sb.WriteString(p.Quote(e.Value))
		sb.WriteByte(' ')
	}
	sb.WriteString(command)
	return sb.String()
}

func (p posix) ExitCodeVariable() string { return "$?" }

func (p posix) FileExists(path string) string      { return "test -f " + p.QuoteFile(path) }
func (p posix) DirectoryExists(path string) string { return "test -d " + p.QuoteFile(path) }

func (p posix) ScriptExtension() string { return ".sh" }
func (p posix) ScriptHeader() string    { return p.header }

func (p posix) RunScript(path string) string {
	return string(p.id) + " " + p.QuoteFile(path)
}

func (p posix) And(commands ...string) string      { return strings.Join(commands, " && ") }
func (p posix) Sequence(commands ...string) string { return strings.Join(commands, "; ") }

func (p posix) ChangeDirectory(dir string) string { return "cd " + p.QuoteFile(dir) }
func (p posix) PrintWorkingDirectory() string     { return "pwd" }
func (p posix) Which(name string) string          { return "command -v " + p.Literal(name) }
func (p posix) NullDevice() string                { return "/dev/null" }

func (p posix) Echo(text string) string {
	return `printf '%s\n' ` + p.Literal(text)
}

func (p posix) Init() string {
	return "PS1=''; PS2=''; unset PROMPT_COMMAND 2>/dev/null"
}

func (p posix) Exit() string          { return "exit" }
func (p posix) TempDirectory() string { return `printf '%s\n' "${TMPDIR:-/tmp}"` }
func (p posix) OSProbe() string       { return "uname -s" }
func (p posix) PIDProbe() string      { return "echo $$" }
func (p posix) ClearScreen() string   { return "clear" }

func (p posix) SetTitle(title string) string {
	return `printf '\033]0;%s\007' ` + p.Literal(title)
}

func (p posix) LineEnding() string            { return "\n" }
func (p posix) SupportsInlineMultiline() bool { return true }

// Delimit prints each marker token as two halves so that a terminal echoing
// the command line never shows a complete token.
func (p posix) Delimit(command string, m Marker) string {
	return fmt.Sprintf(
		"%s; %s >&2; { %s\n} </dev/null; __xpipe_ec=$?; %s; %s >&2",
		printTokenHalves("", m.Start(), ""),
		printTokenHalves("", m.ErrStart(), ""),
		command,
		printTokenHalves(`\n`, m.End(), `:%s`)+` "$__xpipe_ec"`,
		printTokenHalves(`\n`, m.ErrEnd(), ""),
	)
}

func (p posix) Validate(command string) error {
	if !p.validate {
		return nil
	}
	parser := syntax.NewParser(syntax.Variant(p.lang))
	if _, err := parser.Parse(strings.NewReader(command), ""); err != nil {
		return fmt.Errorf("invalid %s command: %w", p.name, err)
	}
	return nil
}

func quoteHome(path string, quote func(string) string) string {
	switch {
	case path == "~":
		return "~"
	case strings.HasPrefix(path, "~/"):
		return "~/" + quote(path[2:])
	}
	return quote(path)
}

func joinBare(argv []string, quote func(string) string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if IsSafeBare(a) {
			parts[i] = a
		} else {
			parts[i] = quote(a)
		}
	}
	return strings.Join(parts, " ")
}

func cloneArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	return out
}
