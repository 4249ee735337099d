// Package workflow is the engine facade: it validates definitions, stores
// them as graphs and starts their execution.
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/dagflow/pkg/definition"
	"github.com/dukex/dagflow/pkg/dispatcher"
	"github.com/dukex/dagflow/pkg/jobs/fanout"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
)

type Manager struct {
	persistence persistence.Persistence
	repository  *Repository
	dispatcher  *dispatcher.Dispatcher
	parser      *definition.Parser
	logger      *slog.Logger
}

func NewManager(
	persistence persistence.Persistence,
	repository *Repository,
	dispatcher *dispatcher.Dispatcher,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		persistence: persistence,
		repository:  repository,
		dispatcher:  dispatcher,
		parser:      definition.NewParser(),
		logger:      logger.With("module", "workflow_manager"),
	}
}

// Validate parses a definition without storing it.
func (m *Manager) Validate(workflow definition.Workflow) ([]definition.TaskSpec, error) {
	return m.parser.Parse(workflow)
}

// Submit validates and stores a definition, then dispatches its entrypoint
// tasks once the graph is committed.
func (m *Manager) Submit(ctx context.Context, workflow definition.Workflow) (*models.Workflow, error) {
	specs, err := m.parser.Parse(workflow)
	if err != nil {
		return nil, err
	}

	var (
		stored *models.Workflow
		batch  *dispatcher.Batch
	)

	err = m.persistence.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		batch = m.dispatcher.Batch()

		created, err := m.repository.StoreTx(ctx, tx, workflow.Name, specs)
		if err != nil {
			return err
		}

		stored = created

		return batch.DispatchWorkflow(ctx, tx, created)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store workflow %q: %w", workflow.Name, err)
	}

	err = batch.Flush(ctx)
	if err != nil {
		return stored, fmt.Errorf("failed to dispatch workflow %d: %w", stored.ID, err)
	}

	m.logger.InfoContext(ctx, "Workflow submitted",
		"workflow_id", stored.ID,
		"workflow_name", stored.Name,
		"tasks", len(specs),
	)

	return stored, nil
}

// Graph returns the materialized graph of a workflow.
func (m *Manager) Graph(ctx context.Context, id int64) (*models.WorkflowGraph, error) {
	return m.persistence.WorkflowGraph(ctx, id)
}

// Workflows lists stored workflows.
func (m *Manager) Workflows(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	return m.persistence.Workflows(ctx, filter)
}

func (m *Manager) HealthCheck(ctx context.Context) (string, bool) {
	return m.repository.HealthCheck(ctx)
}

// AppendFanOut implements fanout.Appender. Every item becomes a task named
// "<fan-out>:<key>" that depends on the fan-out task and on its dependencies.
func (m *Manager) AppendFanOut(ctx context.Context, expansion fanout.Expansion) error {
	dependsOn := append([]string{expansion.Name}, expansion.DependsOn...)

	entries := make([]definition.Entry, 0, len(expansion.Items))
	for _, item := range expansion.Items {
		entries = append(entries, &definition.Task{
			Name:      definition.GeneratedName(expansion.Name, item.Key),
			Jobs:      item.Jobs,
			DependsOn: dependsOn,
		})
	}

	specs, err := m.parser.ParseTasks(entries)
	if err != nil {
		return fmt.Errorf("invalid fan-out %q: %w", expansion.Name, err)
	}

	err = m.repository.Append(ctx, expansion.Step.WorkflowID, expansion.Step.TaskID, specs, expansion.Gates)
	if err != nil {
		return fmt.Errorf("failed to append fan-out %q: %w", expansion.Name, err)
	}

	m.logger.InfoContext(ctx, "Fan-out expanded",
		"workflow_id", expansion.Step.WorkflowID,
		"task_id", expansion.Step.TaskID,
		"fan_out", expansion.Name,
		"items", len(expansion.Items),
	)

	return nil
}

var _ fanout.Appender = (*Manager)(nil)
