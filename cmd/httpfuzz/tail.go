package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/httpfuzz/pkg/kafkautil"
	"github.com/andrej220/httpfuzz/pkg/lg"
	"github.com/spf13/cobra"
)

type runReader interface {
	Read(ctx context.Context) (kafkautil.RunMessage, error)
}

func tailCommand(logCfg *lg.Config) *cobra.Command {
	var (
		f     runFlags
		group string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the run records published to Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := lg.New(logCfg)
			defer logger.Sync()

			cfg, err := loadConfig(&f, cmd.Flags())
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
				return fmt.Errorf("kafka brokers and topic must be configured")
			}
			c := kafkautil.NewConsumer[kafkautil.RunMessage](cfg.Kafka.Config, group)
			defer c.Close()
			return tail(cmd.Context(), c, logger)
		},
	}
	f.bind(cmd.Flags())
	cmd.Flags().StringVar(&group, "group", serviceName+"-tail", "consumer group id")
	return cmd
}

// tail logs every message until ctx is done.
func tail(ctx context.Context, r runReader, logger lg.Logger) error {
	for {
		msg, err := r.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		logger.Info("run",
			lg.String("session", msg.SessionID.String()),
			lg.Uint64("run", msg.Index),
			lg.String("target", msg.Target),
			lg.Int("status", int(msg.Record.ResponseCode)),
			lg.String("outcome", msg.Record.Outcome.String()),
			lg.Int("input_len", len(msg.Input)))
	}
}
