package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/dagflow/pkg/definition"
	"github.com/dukex/dagflow/pkg/dispatcher"
	"github.com/dukex/dagflow/pkg/jobs/fanout"
	"github.com/dukex/dagflow/pkg/manifest"
	"github.com/dukex/dagflow/pkg/metrics"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
	"github.com/dukex/dagflow/pkg/queue"
	"github.com/dukex/dagflow/pkg/registry"
	"github.com/dukex/dagflow/pkg/tracker"
	"github.com/dukex/dagflow/pkg/worker"
	"github.com/dukex/dagflow/pkg/workflow"
)

type EngineConfig struct {
	DatabaseURL string
	Queue       QueueConfig
	PluginsPath string
	Metrics     *metrics.Metrics
}

// Engine wires a store, a queue and a job registry into the components the
// binaries run.
type Engine struct {
	Store      persistence.Persistence
	Queue      queue.Queue
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	Manager    *workflow.Manager
	Tracker    *tracker.Tracker
	Loader     *manifest.Loader
	Metrics    *metrics.Metrics

	logger *slog.Logger
}

func NewEngine(ctx context.Context, config EngineConfig, logger *slog.Logger) (*Engine, error) {
	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}

	reg, err := NewRegistry(logger, config.PluginsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load job plugins: %w", err)
	}

	loader, err := manifest.NewLoader(reg)
	if err != nil {
		return nil, err
	}

	store, err := NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	q, err := NewQueue(ctx, config.Queue, logger)
	if err != nil {
		_ = store.Close(ctx)

		return nil, fmt.Errorf("failed to create queue: %w", err)
	}

	d := dispatcher.New(q, logger)
	manager := workflow.NewManager(store, workflow.NewRepository(store, reg), d, logger)

	reg.RegisterJob(fanout.NewFactory(reg, manager))

	return &Engine{
		Store:      store,
		Queue:      q,
		Registry:   reg,
		Dispatcher: d,
		Manager:    manager,
		Tracker:    tracker.New(store, d, logger),
		Loader:     loader,
		Metrics:    config.Metrics,
		logger:     logger,
	}, nil
}

// Submit stores and dispatches a workflow.
func (e *Engine) Submit(ctx context.Context, def definition.Workflow) (*models.Workflow, error) {
	wf, err := e.Manager.Submit(ctx, def)
	if wf != nil {
		e.Metrics.WorkflowSubmitted()
	}

	return wf, err
}

// SubmitFile loads a manifest and submits it.
func (e *Engine) SubmitFile(ctx context.Context, path string) (*models.Workflow, error) {
	def, err := e.Loader.LoadFile(path)
	if err != nil {
		return nil, err
	}

	return e.Submit(ctx, def)
}

// NewWorker creates a worker consuming the engine's queue.
func (e *Engine) NewWorker(config worker.Config) *worker.Worker {
	if config.Metrics == nil {
		config.Metrics = e.Metrics
	}

	return worker.New(e.Queue, e.Registry, e.Tracker.Intercept, config, e.logger)
}

func (e *Engine) Close(ctx context.Context) error {
	return errors.Join(e.Queue.Close(), e.Store.Close(ctx))
}
