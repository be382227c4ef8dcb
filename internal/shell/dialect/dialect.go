// Package dialect describes the syntax of the shells a session can talk to.
//
// Every Dialect is an immutable value. All methods are pure functions of
// their arguments, so the same dialect may be shared by any number of
// sessions and goroutines.
package dialect

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
)

// ID identifies a dialect.
type ID string

const (
	Sh         ID = "sh"
	Bash       ID = "bash"
	Zsh        ID = "zsh"
	Dash       ID = "dash"
	Ash        ID = "ash"
	Fish       ID = "fish"
	Cmd        ID = "cmd"
	PowerShell ID = "powershell"
	Pwsh       ID = "pwsh"
)

// Family groups dialects that share quoting and control syntax.
type Family int

const (
	FamilyPosix Family = iota
	FamilyFish
	FamilyCmd
	FamilyPowerShell
)

// EnvVar is a single environment assignment.
type EnvVar struct {
	Name  string
	Value string
}

// Dialect is the syntax description of one shell flavor.
type Dialect interface {
	ID() ID
	Name() string
	Family() Family
	// Match reports whether the lowercased executable base name (without
	// .exe) belongs to this dialect.
	Match(name string) bool
	Executable() string

	// LaunchArgv starts a quiet session reading commands from stdin.
	LaunchArgv() []string
	// InteractiveArgv starts a session for a human in a terminal.
	InteractiveArgv() []string
	// ExecuteArgv runs a single command line and exits.
	ExecuteArgv(command string) []string

	// Quote quotes an argument so it reaches the program verbatim.
	Quote(arg string) string
	// QuoteFile quotes a path; a leading ~/ keeps its home expansion where
	// the shell supports it.
	QuoteFile(path string) string
	// Literal quotes with the dialect's non-interpolating quote form.
	Literal(arg string) string
	// JoinArgv renders an argument vector as one command line.
	JoinArgv(argv []string) string

	EnvGet(name string) string
	EnvSet(name, value string) string
	InlineEnv(env []EnvVar, command string) string
	ExitCodeVariable() string

	FileExists(path string) string
	DirectoryExists(path string) string

	ScriptExtension() string
	ScriptHeader() string
	RunScript(path string) string

	// And joins commands so each runs only if the previous one succeeded.
	And(commands ...string) string
	// Sequence joins commands to run one after another.
	Sequence(commands ...string) string

	ChangeDirectory(dir string) string
	PrintWorkingDirectory() string
	Which(name string) string
	NullDevice() string
	Echo(text string) string
	Init() string
	Exit() string
	TempDirectory() string
	OSProbe() string
	// PIDProbe prints the session's own pid, or is empty if the shell cannot.
	PIDProbe() string
	ClearScreen() string
	SetTitle(title string) string
	LineEnding() string
	// SupportsInlineMultiline reports whether a command containing newlines
	// may be written to the session directly.
	SupportsInlineMultiline() bool

	// Delimit wraps command so its stdout and stderr are framed by the
	// marker tokens and the exit code is printed after the stdout end token.
	Delimit(command string, m Marker) string
	// Validate rejects commands that would leave the session waiting for
	// more input.
	Validate(command string) error
}

// Marker prefixes. The stderr tokens differ from the stdout ones so that
// merged PTY output can still be framed.
const (
	StartPrefix    = "XPIPE_START_"
	EndPrefix      = "XPIPE_END_"
	ErrStartPrefix = "XPIPE_ESTART_"
	ErrEndPrefix   = "XPIPE_EEND_"
)

// Marker identifies the frames of one tracked command.
type Marker struct {
	id string
}

// NewMarker returns a marker with a fresh random id.
func NewMarker() Marker {
	return Marker{id: strings.ReplaceAll(uuid.NewString(), "-", "")[:16]}
}

// MarkerOf returns the marker for a known id.
func MarkerOf(id string) Marker {
	return Marker{id: id}
}

func (m Marker) ID() string       { return m.id }
func (m Marker) Start() string    { return StartPrefix + m.id }
func (m Marker) End() string      { return EndPrefix + m.id }
func (m Marker) ErrStart() string { return ErrStartPrefix + m.id }
func (m Marker) ErrEnd() string   { return ErrEndPrefix + m.id }

// registry is ordered: first match wins.
var registry = []Dialect{
	newPosix(Bash),
	newPosix(Zsh),
	newPosix(Dash),
	newPosix(Ash),
	fish{},
	cmd{},
	newPowerShell(false),
	newPowerShell(true),
	newPosix(Sh),
}

// All returns every known dialect.
func All() []Dialect {
	out := make([]Dialect, len(registry))
	copy(out, registry)
	return out
}

// Lookup finds a dialect by id.
func Lookup(id ID) (Dialect, bool) {
	for _, d := range registry {
		if d.ID() == id {
			return d, true
		}
	}
	return nil, false
}

// MustLookup is Lookup for ids known at compile time.
func MustLookup(id ID) Dialect {
	d, ok := Lookup(id)
	if !ok {
		panic("unknown dialect " + string(id))
	}
	return d
}

// Detect returns the dialect of a shell executable path, falling back to
// POSIX sh.
func Detect(executable string) Dialect {
	name := strings.ToLower(filepath.Base(strings.ReplaceAll(executable, `\`, "/")))
	name = strings.TrimSuffix(name, ".exe")
	for _, d := range registry {
		if d.Match(name) {
			return d
		}
	}
	return MustLookup(Sh)
}

// ForOS returns the default dialect of an operating system.
func ForOS(t ostype.Type) Dialect {
	if t == ostype.Windows {
		return MustLookup(PowerShell)
	}
	return MustLookup(Sh)
}

// IsSafeBare reports whether s can appear unquoted in any dialect.
func IsSafeBare(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_./:@+", r):
		default:
			return false
		}
	}
	return true
}

func splitToken(token string) (string, string) {
	i := strings.LastIndexByte(token, '_') + 1
	return token[:i], token[i:]
}
