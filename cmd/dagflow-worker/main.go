package main

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/dukex/dagflow/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

const defaultMetricsPort = 9092

func main() {
	flags := slices.Concat(cmd.EngineFlags(), cmd.WorkerFlags(), cmd.LogFlags(), []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port serving /metrics, 0 disables it",
			Value:   defaultMetricsPort,
			Sources: cli.EnvVars("PORT"),
		},
	})

	command := &cli.Command{
		Name:                  "dagflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Execute workflow steps from the queue",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			workerID := cmd.WorkerID(command)
			logger := cmd.SetupLogger(command, "dagflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing dagflow worker")

			return run(ctx, command, workerID, logger)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		os.Exit(1)
	}
}
