package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/machinefabric/pipes-go"
	"github.com/machinefabric/pipes-go/cbor"
	"github.com/machinefabric/pipes-go/config"
)

const directionFlag = "direction"

func NewDumpCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "Print a captured down or up stream, one command per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			direction, err := cmd.Flags().GetString(directionFlag)
			if err != nil {
				return err
			}
			return runDump(cmd, v, direction, args[0])
		},
	}

	cmd.Flags().String(directionFlag, "down", "which stream the file holds (up or down)")
	return cmd
}

func runDump(cmd *cobra.Command, v *viper.Viper, direction, path string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	var commands pipes.Iterator[pipes.Command]
	switch direction {
	case "down":
		commands = cbor.NewDownStreamAdapter(f, cfg.Limits())
	case "up":
		commands = cbor.NewUpStreamDecoder(f, cfg.Limits())
	default:
		return fmt.Errorf("unknown direction %q: want up or down", direction)
	}

	out := cmd.OutOrStdout()
	for {
		c, err := commands.Next()
		switch {
		case errors.Is(err, pipes.ErrDone):
			return nil
		case pipes.IsAbort(err):
			// the down adapter turns ABORT into an error; it is still part of
			// the capture
			fmt.Fprintln(out, pipes.NewCommand(pipes.Abort))
			return nil
		case err != nil:
			return err
		}
		fmt.Fprintln(out, c)
	}
}
