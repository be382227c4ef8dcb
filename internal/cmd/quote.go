package cmd

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/command"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
)

func Quote() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "quote [flags] <arg> [args...]",
			Short: "Show how a command is quoted for each shell",
			Long: `Render a program and its arguments as one command line the way exec
sends them. The arguments are quoted, the program is not.

Without --shell every known dialect is listed.

Example:
  xpipe quote --shell cmd -- echo "a b" '%PATH%'
`,
			Args: cobra.MinimumNArgs(1),
		},
		[]commandLineFlag{shellFlag},
		runQuote,
	)
}

func runQuote(ctx *Context, args []string) error {
	cmd := command.Of(args[0]).AddQuoted(args[1:]...).Build()

	if id := ctx.StringParam("shell"); id != "" {
		d, ok := dialect.Lookup(dialect.ID(strings.ToLower(id)))
		if !ok {
			return errkind.Errorf(errkind.Unsupported, "quote", "unknown shell %q", id)
		}
		ctx.Printf("%s\n", cmd.Render(command.ForDialect(d)))
		return nil
	}

	ctx.Printf("%s\n", renderQuoteTable(cmd))
	return nil
}

var quoteHeader = table.Row{
	"Shell",
	"Command Line",
}

func renderQuoteTable(cmd *command.Command) string {
	quoteTable := table.NewWriter()
	quoteTable.AppendHeader(quoteHeader)
	for _, d := range dialect.All() {
		quoteTable.AppendRow(table.Row{d.ID(), cmd.Render(command.ForDialect(d))})
	}
	return quoteTable.Render()
}
