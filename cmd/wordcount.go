package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/machinefabric/pipes-go/cbor"
	"github.com/machinefabric/pipes-go/config"
	"github.com/machinefabric/pipes-go/logger"
	"github.com/machinefabric/pipes-go/task"
	"github.com/machinefabric/pipes-go/transport"
	"github.com/machinefabric/pipes-go/wordcount"
)

func NewWordCountCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wordcount",
		Short: "Run one word-count task attempt against the framework",
		Long: `Run one word-count task attempt against the framework.

The down and up streams come from --address when set, otherwise from the
--down-file/--up-file pair, otherwise from stdin and stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWordCount(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("address", "", "the host:port of the framework's command port")
	mustBindPFlag(v, config.AddressKey, flags.Lookup("address"))

	flags.String("down-file", "", "read the down stream from this file")
	mustBindPFlag(v, config.DownFileKey, flags.Lookup("down-file"))

	flags.String("up-file", "", "write the up stream to this file")
	mustBindPFlag(v, config.UpFileKey, flags.Lookup("up-file"))

	cmd.MarkFlagsRequiredTogether("down-file", "up-file")
	cmd.MarkFlagsMutuallyExclusive("address", "down-file")

	flags.Bool("private-encoding", true, "decode reduce keys and values with the private encoding")
	mustBindPFlag(v, config.PrivateEncodingKey, flags.Lookup("private-encoding"))

	flags.Bool("drain-unread", false, "discard reduce values the reducer left unread")
	mustBindPFlag(v, config.DrainUnreadKey, flags.Lookup("drain-unread"))

	return cmd
}

func runWordCount(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	// format and level were checked against the schema by Load
	log := logger.MustNewLogger(cfg.Log.Format, cfg.Log.Level)
	defer func() {
		_ = log.Sync()
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	channel, err := openChannel(ctx, cfg.Transport, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer channel.Close()

	down := cbor.NewDownStreamAdapter(channel, cfg.Limits())
	down.SetLogger(log)
	up := cbor.NewUpStreamAdapter(channel, cfg.Limits())
	up.SetLogger(log)

	runner := task.NewRunner(wordcount.NewMapper(), wordcount.NewReducer(),
		task.WithLogger(log),
		task.WithPrivateEncoding(cfg.Protocol.PrivateEncoding),
		task.WithDrainUnread(cfg.Protocol.DrainUnread),
	)
	log.Debug("starting task attempt",
		zap.String("attempt_id", runner.AttemptID()),
		zap.String("address", cfg.Transport.Address),
		zap.Int("max_frame", cfg.Limits().Effective()))
	return runner.Run(down, up)
}

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error {
	return nil
}

// openChannel picks the transport named by the config: a TCP command port, a
// file pair, or the process's own stdin and stdout.
func openChannel(ctx context.Context, cfg config.TransportConfig, in io.Reader, out io.Writer) (io.ReadWriteCloser, error) {
	switch {
	case cfg.Address != "":
		return transport.Dial(ctx, cfg.Address)
	case cfg.DownFile != "":
		return transport.OpenFiles(cfg.DownFile, cfg.UpFile)
	default:
		return stdio{Reader: in, Writer: out}, nil
	}
}
