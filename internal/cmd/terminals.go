package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
	"github.com/CloudEngineHub/xpipe-sub000/internal/terminal"
)

func Terminals() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "terminals [flags]",
			Short: "List the terminal emulators for this system",
			Long: `List the terminal emulators supported on this operating system in order of
preference, whether each is installed, and which one open would pick.`,
			Args: cobra.NoArgs,
		},
		nil,
		runTerminals,
	)
}

func runTerminals(ctx *Context, _ []string) error {
	l := ctx.App.Launcher
	selected := terminal.Type(ctx.Config.Terminal.Preferred)
	if selected == "" {
		selected, _ = l.Detect()
	}

	infos := terminal.ForOS(ostype.Local())
	ctx.Printf("%s\n", renderTerminals(infos, l.Installed, selected))
	return nil
}

var terminalHeader = table.Row{
	"",
	"Terminal",
	"Name",
	"Installed",
	"Tabs",
	"Tab Color",
}

func renderTerminals(infos []terminal.Info, installed func(terminal.Info) bool, selected terminal.Type) string {
	yes := func(b bool) string { return lo.Ternary(b, "yes", "") }

	termTable := table.NewWriter()
	termTable.AppendHeader(terminalHeader)
	for _, info := range infos {
		termTable.AppendRow(table.Row{
			lo.Ternary(info.Type == selected, "*", ""),
			info.Type,
			info.Name,
			yes(installed(info)),
			yes(info.Tabs),
			yes(info.ColoredTitle),
		})
	}
	return termTable.Render()
}
