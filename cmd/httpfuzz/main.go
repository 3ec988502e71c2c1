package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrej220/httpfuzz/pkg/lg"
	"github.com/spf13/cobra"
)

const serviceName = "httpfuzz"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Probe an HTTP endpoint with random inputs and keep the ones that matter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	logCfg := lg.BindFlags(serviceName, root.PersistentFlags())
	root.AddCommand(runCommand(logCfg), tailCommand(logCfg))
	return root
}
