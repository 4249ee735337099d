// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
	"github.com/stretchr/testify/require"
)

// TaskSeed describes a task inserted by SeedWorkflow.
type TaskSeed struct {
	Name      string
	Steps     int
	DependsOn []string
}

// Task creates a seed with one step.
func Task(name string, dependsOn ...string) TaskSeed {
	return TaskSeed{Name: name, Steps: 1, DependsOn: dependsOn}
}

// WithSteps sets the number of steps of a seed.
func (s TaskSeed) WithSteps(steps int) TaskSeed {
	s.Steps = steps

	return s
}

// LogPayload is the stored form of a log job printing message.
func LogPayload(message string) []byte {
	return fmt.Appendf(nil, `{"type":"log","data":{"message":%q}}`, message)
}

// Now returns the current time at the precision every store keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// SeedWorkflow inserts a PENDING workflow with the given tasks, one log step
// per declared step, and returns the stored graph.
func SeedWorkflow(ctx context.Context, t *testing.T, p persistence.Persistence, name string, seeds ...TaskSeed) *models.WorkflowGraph {
	t.Helper()

	var workflowID int64

	err := p.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		now := Now()

		workflow := &models.Workflow{Name: name, Status: models.StatusPending}
		workflow.CreatedAt, workflow.UpdatedAt = now, now

		err := tx.InsertWorkflow(ctx, workflow)
		if err != nil {
			return err
		}

		workflowID = workflow.ID

		tasks := make([]*models.Task, 0, len(seeds))
		for _, seed := range seeds {
			task := &models.Task{WorkflowID: workflow.ID, Name: seed.Name, Status: models.StatusPending}
			task.CreatedAt, task.UpdatedAt = now, now
			tasks = append(tasks, task)
		}

		err = tx.InsertTasks(ctx, tasks)
		if err != nil {
			return err
		}

		ids := make(map[string]int64, len(tasks))
		for _, task := range tasks {
			ids[task.Name] = task.ID
		}

		steps := make([]*models.Step, 0)
		dependencies := make([]models.Dependency, 0)

		for i, seed := range seeds {
			for order := 1; order <= seed.Steps; order++ {
				step := &models.Step{
					TaskID:     tasks[i].ID,
					WorkflowID: workflow.ID,
					Order:      order,
					Class:      "log",
					Status:     models.StatusPending,
					Payload:    LogPayload(fmt.Sprintf("%s-%d", seed.Name, order)),
				}
				step.CreatedAt, step.UpdatedAt = now, now
				steps = append(steps, step)
			}

			for _, dependency := range seed.DependsOn {
				dependencies = append(dependencies, models.Dependency{TaskID: ids[dependency], DependantTaskID: tasks[i].ID})
			}
		}

		err = tx.InsertSteps(ctx, steps)
		if err != nil {
			return err
		}

		return tx.InsertDependencies(ctx, dependencies)
	})
	require.NoError(t, err)

	graph, err := p.WorkflowGraph(ctx, workflowID)
	require.NoError(t, err)

	return graph
}
