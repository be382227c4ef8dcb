package terminal

import (
	"fmt"
	"strings"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
)

const prepareFailed = "Failed to prepare terminal session"

// launcherScript asks the running application for the target script of
// request id and runs it.
func launcherScript(d dialect.Dialect, exe, id string) (string, error) {
	var lines []string
	switch d.Family() {
	case dialect.FamilyPosix:
		lines = []string{
			d.ScriptHeader(),
			fmt.Sprintf("target=$(%s) || { echo %s >&2; read _; exit 1; }",
				d.JoinArgv([]string{exe, "terminal-prepare", id}), d.Literal(prepareFailed)),
			`sh "$target"`,
			`code=$?`,
			`rm -f "$target" "$0"`,
			`exit $code`,
		}
	case dialect.FamilyCmd:
		lines = []string{
			d.ScriptHeader(),
			fmt.Sprintf(`for /f "usebackq delims=" %%%%i in (`+"`"+`"%s"`+"`"+`) do set "target=%%%%i"`,
				d.JoinArgv([]string{exe, "terminal-prepare", id})),
			fmt.Sprintf("if not defined target (echo %s & pause & exit /b 1)", prepareFailed),
			`call "%target%"`,
			`del "%target%" >NUL 2>&1`,
		}
	case dialect.FamilyPowerShell:
		lines = []string{
			fmt.Sprintf("$target = %s", d.JoinArgv([]string{exe, "terminal-prepare", id})),
			fmt.Sprintf("if ($LASTEXITCODE -ne 0) { Read-Host %s; exit 1 }", d.Literal(prepareFailed)),
			"& $target",
			"Remove-Item -LiteralPath $target -ErrorAction SilentlyContinue",
		}
	default:
		return "", errkind.Errorf(errkind.Unsupported, "launcher script", "%s cannot host terminal launches", d.Name())
	}
	return joinLines(d, lines), nil
}

// targetScript opens the session described by argv.
func targetScript(d dialect.Dialect, argv []string, clear bool) string {
	var lines []string
	if header := d.ScriptHeader(); header != "" {
		lines = append(lines, header)
	}
	if clear {
		lines = append(lines, d.ClearScreen())
	}
	lines = append(lines, d.JoinArgv(argv))
	return joinLines(d, lines)
}

func joinLines(d dialect.Dialect, lines []string) string {
	var sb strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		sb.WriteString(line)
		sb.WriteString(d.LineEnding())
	}
	return sb.String()
}

// runScriptArgv runs a script of dialect d as a new process.
func runScriptArgv(d dialect.Dialect, path string) []string {
	switch d.Family() {
	case dialect.FamilyCmd:
		return []string{"cmd.exe", "/c", path}
	case dialect.FamilyPowerShell:
		return []string{d.Executable(), "-NoProfile", "-ExecutionPolicy", "Bypass", "-File", path}
	}
	return []string{"/bin/sh", path}
}
