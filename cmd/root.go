// Package cmd contains the commands of the pipes binary.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/machinefabric/pipes-go/config"
)

// NewRootCommand wires every subcommand to one viper instance, so settings
// resolve from flags, PIPES_* environment variables, or pipes.yaml (in that
// order).
func NewRootCommand(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "pipes",
		Short: "Task-side runtime for the pipes binary protocol",
		Long: `Task-side runtime for the pipes binary protocol.

A task process receives commands from the framework on the down stream, runs
the map or reduce phase and reports results on the up stream.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("log-format", "text", "the log format to output logs in (text or json)")
	mustBindPFlag(v, config.LogFormatKey, flags.Lookup("log-format"))

	flags.String("log-level", "info", "the log level to use (none, debug, info, warn, error)")
	mustBindPFlag(v, config.LogLevelKey, flags.Lookup("log-level"))

	flags.Int("max-frame", 0, "the largest encoded command accepted or written, in bytes")
	mustBindPFlag(v, config.MaxFrameKey, flags.Lookup("max-frame"))

	root.AddCommand(NewWordCountCommand(v))
	root.AddCommand(NewDumpCommand(v))
	return root
}

// mustBindPFlag binds a config key to a cobra flag and panics if the binding
// fails.
func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}
