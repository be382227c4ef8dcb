package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmd"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/config"
)

var rootCmd = &cobra.Command{
	Use:   config.AppSlug,
	Short: "XPipe drives shell sessions on local and remote systems",
	Long: `XPipe drives shell sessions on local and remote systems.

It keeps long-lived sessions to local shells, SSH hosts and nested shells,
runs commands in them with framed output and exit codes, and opens them in
the terminal emulators installed on this machine.
`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.Exec())
	rootCmd.AddCommand(cmd.Open())
	rootCmd.AddCommand(cmd.Quote())
	rootCmd.AddCommand(cmd.Connections())
	rootCmd.AddCommand(cmd.Terminals())
	rootCmd.AddCommand(cmd.Daemon())
	rootCmd.AddCommand(cmd.TerminalPrepare())
	rootCmd.AddCommand(cmd.Version())
}
