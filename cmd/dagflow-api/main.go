package main

import (
	"context"
	"os"
	"slices"

	"github.com/dukex/dagflow/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	flags := slices.Concat(cmd.EngineFlags(), cmd.LogFlags(), []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
	})

	command := &cli.Command{
		Name:                  "dagflow-api",
		Usage:                 "Inspect workflows and their runs",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := cmd.SetupLogger(command, "dagflow-api")

			logger.InfoContext(ctx, "Initializing dagflow API")

			engine, err := cmd.NewEngine(ctx, cmd.EngineConfigFromCommand(command, cmd.NewWorkerID()), logger)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to initialize engine", "error", err)

				return err
			}

			defer func() {
				err := engine.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close engine", "error", err)
				}
			}()

			api := NewAPI(logger, engine.Manager, engine.Metrics)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		os.Exit(1)
	}
}
