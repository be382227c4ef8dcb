package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/CloudEngineHub/xpipe-sub000/internal/app"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
)

func Connections() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "connections [flags]",
			Short: "List the configured connections",
			Long: `List every connection from the configuration file together with the
builtin local connection. When a daemon is running the Open column shows
which sessions it currently holds.`,
			Args: cobra.NoArgs,
		},
		[]commandLineFlag{localFlag, hostFlag, portFlag},
		runConnections,
	)
}

func runConnections(ctx *Context, _ []string) error {
	var infos []app.ConnectionInfo
	if !ctx.BoolParam("local") {
		err := ctx.App.Client().Request(ctx, app.MessageConnections, nil, nil, &infos)
		if err != nil && !daemonUnreachable(err) {
			return err
		}
		if err != nil {
			logger.Debug(ctx, "Listing configured connections", tag.Error(err))
			infos = nil
		}
	}
	if infos == nil {
		infos = ctx.App.Connections()
	}
	ctx.Printf("%s\n", renderConnections(infos))
	return nil
}

var connectionHeader = table.Row{
	"Name",
	"Kind",
	"Description",
	"Open",
}

func renderConnections(infos []app.ConnectionInfo) string {
	connTable := table.NewWriter()
	connTable.AppendHeader(connectionHeader)
	for _, info := range infos {
		connTable.AppendRow(table.Row{info.Name, info.Kind, info.Description, lo.Ternary(info.Open, "yes", "")})
	}
	return connTable.Render()
}
