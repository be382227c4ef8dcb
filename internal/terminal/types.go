// Package terminal opens shell sessions in local terminal emulators.
package terminal

import (
	"context"
	"slices"

	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
)

// Type is a supported terminal emulator. The set is closed; every value has
// an entry in the capability table.
type Type string

const (
	WindowsTerminal Type = "windows-terminal"
	PowerShell      Type = "powershell"
	Cmd             Type = "cmd"
	MacOSTerminal   Type = "macos-terminal"
	ITerm2          Type = "iterm2"
	Kitty           Type = "kitty"
	Alacritty       Type = "alacritty"
	WezTerm         Type = "wezterm"
	GnomeTerminal   Type = "gnome-terminal"
	Konsole         Type = "konsole"
	Xfce4Terminal   Type = "xfce4-terminal"
	XTerm           Type = "xterm"
)

// LaunchConfiguration is what a terminal is asked to show.
type LaunchConfiguration struct {
	Title string
	// Color is an optional #rrggbb tab color.
	Color string
	// Argv runs the launcher script in the local shell.
	Argv []string
	// ScriptPath is the launcher script itself, for terminals that open
	// files rather than run commands.
	ScriptPath string
	Dir        string
}

type launchFunc func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error

// Info describes the capabilities of a terminal Type.
type Info struct {
	Type         Type
	Name         string
	Platforms    []ostype.Type
	Tabs         bool
	ColoredTitle bool
	// Executables are looked up on PATH in order.
	Executables []string
	// Bundle is a macOS application bundle that must exist.
	Bundle string
	launch launchFunc
}

// Supports reports whether the terminal runs on os.
func (i Info) Supports(os ostype.Type) bool {
	return slices.Contains(i.Platforms, os)
}

var (
	windowsOnly = []ostype.Type{ostype.Windows}
	macOnly     = []ostype.Type{ostype.MacOS}
	unixLike    = []ostype.Type{ostype.Linux, ostype.BSD, ostype.Solaris}
	unixAndMac  = []ostype.Type{ostype.Linux, ostype.BSD, ostype.Solaris, ostype.MacOS}
	everywhere  = []ostype.Type{ostype.Linux, ostype.BSD, ostype.Solaris, ostype.MacOS, ostype.Windows}
)

// capabilities is ordered by detection preference per platform.
var capabilities = []Info{
	{
		Type: WindowsTerminal, Name: "Windows Terminal", Platforms: windowsOnly,
		Tabs: true, ColoredTitle: true, Executables: []string{"wt.exe", "wt"},
		launch: func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error {
			argv := []string{exe, "-w", "0", "nt"}
			if cfg.Title != "" {
				argv = append(argv, "--title", cfg.Title)
			}
			if cfg.Color != "" {
				argv = append(argv, "--tabColor", cfg.Color)
			}
			if cfg.Dir != "" {
				argv = append(argv, "-d", cfg.Dir)
			}
			return l.run(ctx, append(append(argv, "--"), cfg.Argv...), cfg.Dir)
		},
	},
	{
		Type: PowerShell, Name: "PowerShell", Platforms: windowsOnly,
		Executables: []string{"powershell.exe", "pwsh.exe"},
		launch: func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error {
			ps := dialect.MustLookup(dialect.PowerShell)
			return l.run(ctx, startArgv(cfg.Title, exe, "-NoProfile", "-ExecutionPolicy", "Bypass", "-Command", ps.JoinArgv(cfg.Argv)), cfg.Dir)
		},
	},
	{
		Type: Cmd, Name: "Command Prompt", Platforms: windowsOnly,
		Executables: []string{"cmd.exe"},
		launch: func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error {
			cmd := dialect.MustLookup(dialect.Cmd)
			return l.run(ctx, startArgv(cfg.Title, exe, "/c", cmd.JoinArgv(cfg.Argv)), cfg.Dir)
		},
	},
	{
		Type: ITerm2, Name: "iTerm2", Platforms: macOnly, Tabs: true, ColoredTitle: true,
		Executables: []string{"open"}, Bundle: "/Applications/iTerm.app",
		launch: openBundle("iTerm"),
	},
	{
		Type: MacOSTerminal, Name: "Terminal.app", Platforms: macOnly, Tabs: true,
		Executables: []string{"open"}, Bundle: "/System/Applications/Utilities/Terminal.app",
		launch: openBundle("Terminal"),
	},
	{
		Type: Kitty, Name: "Kitty", Platforms: unixAndMac, Tabs: true, ColoredTitle: true,
		Executables: []string{"kitty"},
		launch: func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error {
			return l.launchKitty(ctx, exe, cfg)
		},
	},
	{
		Type: WezTerm, Name: "WezTerm", Platforms: everywhere, Tabs: true,
		Executables: []string{"wezterm", "wezterm.exe"},
		launch: func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error {
			argv := []string{exe, "start"}
			if cfg.Dir != "" {
				argv = append(argv, "--cwd", cfg.Dir)
			}
			return l.run(ctx, append(append(argv, "--"), cfg.Argv...), cfg.Dir)
		},
	},
	{
		Type: Alacritty, Name: "Alacritty", Platforms: everywhere,
		Executables: []string{"alacritty", "alacritty.exe"},
		launch: func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error {
			argv := []string{exe}
			if cfg.Title != "" {
				argv = append(argv, "--title", cfg.Title)
			}
			if cfg.Dir != "" {
				argv = append(argv, "--working-directory", cfg.Dir)
			}
			return l.run(ctx, append(append(argv, "-e"), cfg.Argv...), cfg.Dir)
		},
	},
	{
		Type: GnomeTerminal, Name: "GNOME Terminal", Platforms: unixLike, Tabs: true,
		Executables: []string{"gnome-terminal"},
		launch: func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error {
			argv := []string{exe, "--tab"}
			if cfg.Dir != "" {
				argv = append(argv, "--working-directory="+cfg.Dir)
			}
			return l.run(ctx, append(append(argv, "--"), cfg.Argv...), cfg.Dir)
		},
	},
	{
		Type: Konsole, Name: "Konsole", Platforms: unixLike, Tabs: true,
		Executables: []string{"konsole"},
		launch: func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error {
			argv := []string{exe, "--new-tab"}
			if cfg.Title != "" {
				argv = append(argv, "-p", "tabtitle="+cfg.Title)
			}
			if cfg.Dir != "" {
				argv = append(argv, "--workdir", cfg.Dir)
			}
			return l.run(ctx, append(append(argv, "-e"), cfg.Argv...), cfg.Dir)
		},
	},
	{
		Type: Xfce4Terminal, Name: "Xfce Terminal", Platforms: unixLike, Tabs: true,
		Executables: []string{"xfce4-terminal"},
		launch: func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error {
			argv := []string{exe, "--tab"}
			if cfg.Title != "" {
				argv = append(argv, "--title", cfg.Title)
			}
			if cfg.Dir != "" {
				argv = append(argv, "--working-directory", cfg.Dir)
			}
			return l.run(ctx, append(append(argv, "-x"), cfg.Argv...), cfg.Dir)
		},
	},
	{
		Type: XTerm, Name: "XTerm", Platforms: unixLike,
		Executables: []string{"xterm"},
		launch: func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error {
			argv := []string{exe}
			if cfg.Title != "" {
				argv = append(argv, "-title", cfg.Title)
			}
			return l.run(ctx, append(append(argv, "-e"), cfg.Argv...), cfg.Dir)
		},
	},
}

// startArgv opens a new console window through cmd's start builtin. The
// first quoted argument of start is the window title.
func startArgv(title string, argv ...string) []string {
	if title == "" {
		title = "xpipe"
	}
	return append([]string{"cmd.exe", "/c", "start", title}, argv...)
}

func openBundle(app string) launchFunc {
	return func(ctx context.Context, l *Launcher, exe string, cfg LaunchConfiguration) error {
		if cfg.ScriptPath == "" {
			return errInvalidConfig("%s needs a launcher script", app)
		}
		return l.run(ctx, []string{exe, "-a", app, cfg.ScriptPath}, cfg.Dir)
	}
}

// All returns the capability table.
func All() []Info {
	return slices.Clone(capabilities)
}

// Lookup returns the capabilities of t.
func Lookup(t Type) (Info, bool) {
	for _, info := range capabilities {
		if info.Type == t {
			return info, true
		}
	}
	return Info{}, false
}

// ForOS lists the terminals that run on os, in detection order.
func ForOS(os ostype.Type) []Info {
	var out []Info
	for _, info := range capabilities {
		if info.Supports(os) {
			out = append(out, info)
		}
	}
	return out
}
