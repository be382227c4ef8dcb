package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	required                             bool
	isBool                               bool
	// viperKey exposes the flag to the configuration loader.
	viperKey string
}

var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default is $HOME/.config/xpipe/config.yaml)",
	}
	homeFlag = commandLineFlag{
		name:  "home",
		usage: "keep configuration, logs and temporary files below this directory",
	}
	quietFlag = commandLineFlag{
		name:      "quiet",
		shorthand: "q",
		usage:     "suppress log output",
		isBool:    true,
	}
	debugFlag = commandLineFlag{
		name:     "debug",
		usage:    "enable debug logging",
		isBool:   true,
		viperKey: "debug",
	}
	shellFlag = commandLineFlag{
		name:      "shell",
		shorthand: "s",
		usage:     "shell dialect to render for (default: all dialects)",
	}
	timeoutFlag = commandLineFlag{
		name:      "timeout",
		shorthand: "t",
		usage:     "abort the command after this duration (e.g. 30s)",
	}
	dirFlag = commandLineFlag{
		name:      "dir",
		shorthand: "d",
		usage:     "working directory on the target system",
	}
	elevatedFlag = commandLineFlag{
		name:      "elevated",
		shorthand: "e",
		usage:     "run the command with administrator rights",
		isBool:    true,
	}
	charsetFlag = commandLineFlag{
		name:  "charset",
		usage: "character set of the command output",
	}
	stdinFlag = commandLineFlag{
		name:   "stdin",
		usage:  "pass standard input to the command",
		isBool: true,
	}
	localFlag = commandLineFlag{
		name:   "local",
		usage:  "run in this process even if a daemon is running",
		isBool: true,
	}
	terminalFlag = commandLineFlag{
		name:      "terminal",
		shorthand: "T",
		usage:     "terminal emulator to open (default: configured or detected)",
	}
	titleFlag = commandLineFlag{
		name:  "title",
		usage: "window or tab title",
	}
	colorFlag = commandLineFlag{
		name:  "color",
		usage: "tab color as #rrggbb",
	}
	clearFlag = commandLineFlag{
		name:   "clear",
		usage:  "clear the screen before the session starts",
		isBool: true,
	}
	hostFlag = commandLineFlag{
		name:     "host",
		usage:    "app socket host",
		viperKey: "socket.host",
	}
	portFlag = commandLineFlag{
		name:      "port",
		shorthand: "p",
		usage:     "app socket port",
		viperKey:  "socket.port",
	}
)

func initFlags(cmd *cobra.Command, additionalFlags ...commandLineFlag) {
	flags := append([]commandLineFlag{configFlag, homeFlag, quietFlag, debugFlag}, additionalFlags...)
	for _, flag := range flags {
		if flag.isBool {
			cmd.Flags().BoolP(flag.name, flag.shorthand, flag.defaultValue == "true", flag.usage)
		} else {
			cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
		}
		if flag.required {
			if err := cmd.MarkFlagRequired(flag.name); err != nil {
				fmt.Printf("failed to mark flag %s as required: %v\n", flag.name, err)
			}
		}
	}
}

// bindFlags hands flags with a configuration key to v. Flags left unset
// are skipped so they never shadow the config file.
func bindFlags(v *viper.Viper, cmd *cobra.Command, flags ...commandLineFlag) error {
	flags = append([]commandLineFlag{debugFlag}, flags...)
	for _, flag := range flags {
		if flag.viperKey == "" || !cmd.Flags().Changed(flag.name) {
			continue
		}
		if err := v.BindPFlag(flag.viperKey, cmd.Flags().Lookup(flag.name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag.name, err)
		}
	}
	return nil
}
