package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/dagflow/pkg/cmd"
	"github.com/dukex/dagflow/pkg/definition"
	"github.com/dukex/dagflow/pkg/manifest"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/schedule"
	"github.com/dukex/dagflow/pkg/worker"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

var (
	ErrMissingFile    = errors.New("a workflow file is required")
	ErrWorkflowFailed = errors.New("workflow did not complete")
)

const pollInterval = 100 * time.Millisecond

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "dagflow",
		Usage:                 "Submit and run task graph workflows",
		EnableShellCompletion: true,
		Flags:                 cmd.LogFlags(),
		Commands: []*cli.Command{
			validateCommand(),
			submitCommand(),
			runCommand(),
			scheduleCommand(),
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check a workflow file without storing it",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing job plugins",
				Value:   "./plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			logger := cmd.SetupLogger(command, "validate")

			path := command.Args().First()
			if path == "" {
				return ErrMissingFile
			}

			reg, err := cmd.NewRegistry(logger, command.String("plugins-path"))
			if err != nil {
				return err
			}

			loader, err := manifest.NewLoader(reg)
			if err != nil {
				return err
			}

			def, err := loader.LoadFile(path)
			if err != nil {
				return err
			}

			specs, err := definition.NewParser().Parse(def)
			if err != nil {
				return err
			}

			printSpecs(command.Root().Writer, def.Name, specs)

			return nil
		},
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Aliases:   []string{"s"},
		Usage:     "Store a workflow file and dispatch its entry tasks",
		ArgsUsage: "<file>",
		Flags:     cmd.EngineFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := cmd.SetupLogger(command, "submit")

			path := command.Args().First()
			if path == "" {
				return ErrMissingFile
			}

			engine, err := cmd.NewEngine(ctx, cmd.EngineConfigFromCommand(command, cmd.NewWorkerID()), logger)
			if err != nil {
				return err
			}

			defer closeEngine(ctx, engine, logger)

			wf, err := engine.SubmitFile(ctx, path)
			if err != nil {
				return err
			}

			fmt.Fprintf(command.Root().Writer, "workflow %d submitted: %s\n", wf.ID, wf.Name)

			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Submit a workflow file and execute it with an in-process worker",
		ArgsUsage: "<file>",
		Flags:     slices.Concat(cmd.EngineFlags(), cmd.WorkerFlags()),
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := cmd.SetupLogger(command, "run")

			path := command.Args().First()
			if path == "" {
				return ErrMissingFile
			}

			workerID := cmd.WorkerID(command)

			engine, err := cmd.NewEngine(ctx, cmd.EngineConfigFromCommand(command, workerID), logger)
			if err != nil {
				return err
			}

			defer closeEngine(ctx, engine, logger)

			tracer, shutdownTracer, err := cmd.NewTracer(ctx, command, "dagflow")
			if err != nil {
				return err
			}

			defer func() { _ = shutdownTracer(context.Background()) }()

			wf, err := engine.SubmitFile(ctx, path)
			if err != nil {
				return err
			}

			w := engine.NewWorker(worker.Config{
				ID:          workerID,
				Concurrency: command.Int("concurrency"),
				Tracer:      tracer,
			})

			graph, err := runUntilSettled(ctx, engine, w, wf.ID)
			if err != nil {
				return err
			}

			printGraph(command.Root().Writer, graph)

			if graph.Workflow.Status != models.StatusCompleted {
				return fmt.Errorf("%w: workflow %d is %s", ErrWorkflowFailed, wf.ID, graph.Workflow.Status)
			}

			return nil
		},
	}
}

// runUntilSettled runs w until the workflow is terminal and none of its steps
// is still pending or running.
func runUntilSettled(ctx context.Context, engine *cmd.Engine, w *worker.Worker, workflowID int64) (*models.WorkflowGraph, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	var graph *models.WorkflowGraph

	g.Go(func() error {
		return w.Run(ctx)
	})

	g.Go(func() error {
		defer cancel()

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			current, err := engine.Manager.Graph(ctx, workflowID)
			if err != nil {
				return err
			}

			if settled(current) {
				graph = current

				return nil
			}
		}
	})

	err := g.Wait()
	if graph != nil {
		return graph, nil
	}

	return nil, err
}

func settled(graph *models.WorkflowGraph) bool {
	if !graph.Workflow.Status.IsTerminal() {
		return false
	}

	for _, step := range graph.Steps {
		if !step.Status.IsTerminal() {
			return false
		}
	}

	return true
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Submit workflow files on cron schedules",
		Flags: slices.Concat(cmd.EngineFlags(), cmd.WorkerFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:     "schedules",
				Usage:    "YAML file listing name, cron and file of each schedule",
				Required: true,
				Sources:  cli.EnvVars("SCHEDULES_FILE"),
			},
			&cli.BoolFlag{
				Name:    "with-worker",
				Usage:   "Also execute the submitted workflows in this process",
				Sources: cli.EnvVars("WITH_WORKER"),
			},
		}),
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := cmd.SetupLogger(command, "schedule")

			entries, err := schedule.LoadEntries(command.String("schedules"))
			if err != nil {
				return err
			}

			workerID := cmd.WorkerID(command)

			engine, err := cmd.NewEngine(ctx, cmd.EngineConfigFromCommand(command, workerID), logger)
			if err != nil {
				return err
			}

			defer closeEngine(ctx, engine, logger)

			scheduler := schedule.New(engine.Loader, engine, logger)

			for _, entry := range entries {
				err = scheduler.Add(entry)
				if err != nil {
					return err
				}
			}

			scheduler.Start(ctx)

			if command.Bool("with-worker") {
				w := engine.NewWorker(worker.Config{ID: workerID, Concurrency: command.Int("concurrency")})

				err = w.Run(ctx)
				if errors.Is(err, context.Canceled) {
					err = nil
				}
			} else {
				<-ctx.Done()
			}

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			return errors.Join(err, scheduler.Stop(stopCtx))
		},
	}
}

func closeEngine(ctx context.Context, engine *cmd.Engine, logger *slog.Logger) {
	err := engine.Close(context.WithoutCancel(ctx))
	if err != nil {
		logger.Error("Failed to close engine", "error", err)
	}
}

func printSpecs(w io.Writer, name string, specs []definition.TaskSpec) {
	fmt.Fprintf(w, "workflow %q is valid: %d tasks\n", name, len(specs))

	for _, spec := range specs {
		kind := "task"
		if spec.FanOut {
			kind = "fan-out"
		}

		fmt.Fprintf(w, "  %s %s: %d steps", kind, spec.Name, len(spec.Steps))

		if len(spec.DependsOn) > 0 {
			fmt.Fprintf(w, ", depends on %v", spec.DependsOn)
		}

		fmt.Fprintln(w)
	}
}

func printGraph(w io.Writer, graph *models.WorkflowGraph) {
	fmt.Fprintf(w, "workflow %d %s: %s\n", graph.Workflow.ID, graph.Workflow.Name, graph.Workflow.Status)

	for _, task := range graph.Tasks {
		fmt.Fprintf(w, "  %s: %s\n", task.Name, task.Status)
	}
}
