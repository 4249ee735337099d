package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// OpenFunc returns an empty, migrated store owned by the test.
type OpenFunc func(t *testing.T) (persistence.Persistence, context.Context)

// RunPersistenceSuite checks the behaviour every persistence.Persistence
// implementation shares.
func RunPersistenceSuite(t *testing.T, open OpenFunc) {
	t.Helper()

	t.Run("stores and reads a graph", func(t *testing.T) {
		p, ctx := open(t)

		graph := SeedWorkflow(ctx, t, p, "release",
			Task("checkout"),
			Task("build", "checkout").WithSteps(2),
			Task("deploy", "build"),
		)

		require.NotZero(t, graph.Workflow.ID)
		assert.Equal(t, "release", graph.Workflow.Name)
		assert.Equal(t, models.StatusPending, graph.Workflow.Status)
		assert.Nil(t, graph.Workflow.StartedAt)
		assert.False(t, graph.Workflow.CreatedAt.IsZero())

		require.Len(t, graph.Tasks, 3)
		require.Len(t, graph.Steps, 4)
		require.Len(t, graph.Dependencies, 2)

		build := graph.TaskByName("build")
		require.NotNil(t, build)
		assert.Equal(t, models.StatusPending, build.Status)

		steps := graph.StepsOf(build.ID)
		require.Len(t, steps, 2)
		assert.Equal(t, 1, steps[0].Order)
		assert.Equal(t, 2, steps[1].Order)
		assert.Equal(t, "log", steps[0].Class)
		assert.JSONEq(t, string(LogPayload("build-1")), string(steps[0].Payload))
		assert.Equal(t, graph.Workflow.ID, steps[0].WorkflowID)

		assert.Equal(t, []int64{graph.TaskByName("checkout").ID}, graph.DependenciesOf(build.ID))
		assert.Equal(t, []int64{graph.TaskByName("deploy").ID}, graph.DependantsOf(build.ID))
	})

	t.Run("reports missing entities", func(t *testing.T) {
		p, ctx := open(t)

		_, err := p.WorkflowGraph(ctx, 999999)
		require.True(t, persistence.IsWorkflowNotFound(err))

		err = p.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
			_, err := tx.Task(ctx, 999999)
			assert.True(t, persistence.IsTaskNotFound(err))

			_, err = tx.Step(ctx, 999999)
			assert.True(t, persistence.IsStepNotFound(err))

			step, err := tx.StepByOrder(ctx, 999999, 1)
			assert.NoError(t, err)
			assert.Nil(t, step)

			return nil
		})
		require.NoError(t, err)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		p, ctx := open(t)

		graph := SeedWorkflow(ctx, t, p, "rollback", Task("a"))
		task := graph.Tasks[0]
		boom := errors.New("boom")

		err := p.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
			ok, err := tx.TransitionTask(ctx, task.ID, models.StatusPending, models.StatusCompleted, Now())
			require.NoError(t, err)
			require.True(t, ok)

			return boom
		})
		require.ErrorIs(t, err, boom)

		reloaded, err := p.WorkflowGraph(ctx, graph.Workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, reloaded.Tasks[0].Status)
	})

	t.Run("guards transitions on the current status", func(t *testing.T) {
		p, ctx := open(t)

		graph := SeedWorkflow(ctx, t, p, "guard", Task("a").WithSteps(2))
		step := graph.StepsOf(graph.Tasks[0].ID)[0]

		err := p.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
			now := Now()

			ok, err := tx.TransitionStep(ctx, step.ID, models.StatusPending, models.StatusRunning, now)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = tx.TransitionStep(ctx, step.ID, models.StatusPending, models.StatusRunning, now)
			require.NoError(t, err)
			assert.False(t, ok, "second start must not match")

			running, err := tx.Step(ctx, step.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusRunning, running.Status)
			require.NotNil(t, running.StartedAt)
			assert.WithinDuration(t, now, *running.StartedAt, 0)

			ok, err = tx.TransitionStep(ctx, step.ID, models.StatusRunning, models.StatusCompleted, now)
			require.NoError(t, err)
			assert.True(t, ok)

			completed, err := tx.Step(ctx, step.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, completed.Status)
			assert.NotNil(t, completed.CompletedAt)
			assert.Nil(t, completed.FailedAt)

			next, err := tx.StepByOrder(ctx, step.TaskID, 2)
			require.NoError(t, err)
			require.NotNil(t, next)
			assert.Equal(t, models.StatusPending, next.Status)

			return nil
		})
		require.NoError(t, err)
	})

	t.Run("marks started once", func(t *testing.T) {
		p, ctx := open(t)

		graph := SeedWorkflow(ctx, t, p, "started", Task("a"))
		first := Now()

		err := p.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
			require.NoError(t, tx.MarkTaskStarted(ctx, graph.Tasks[0].ID, first))
			require.NoError(t, tx.MarkWorkflowStarted(ctx, graph.Workflow.ID, first))

			later := first.Add(1e9)
			require.NoError(t, tx.MarkTaskStarted(ctx, graph.Tasks[0].ID, later))
			require.NoError(t, tx.MarkWorkflowStarted(ctx, graph.Workflow.ID, later))

			return nil
		})
		require.NoError(t, err)

		reloaded, err := p.WorkflowGraph(ctx, graph.Workflow.ID)
		require.NoError(t, err)
		require.NotNil(t, reloaded.Workflow.StartedAt)
		assert.WithinDuration(t, first, *reloaded.Workflow.StartedAt, 0)
		require.NotNil(t, reloaded.Tasks[0].StartedAt)
		assert.WithinDuration(t, first, *reloaded.Tasks[0].StartedAt, 0)
		assert.Equal(t, models.StatusPending, reloaded.Tasks[0].Status)
	})

	t.Run("finds entrypoints", func(t *testing.T) {
		p, ctx := open(t)

		graph := SeedWorkflow(ctx, t, p, "entrypoints",
			Task("left"), Task("right"), Task("join", "left", "right"),
		)

		err := p.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
			tasks, err := tx.EntrypointTasks(ctx, graph.Workflow.ID)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"left", "right"}, taskNames(tasks))

			_, err = tx.TransitionTask(ctx, graph.TaskByName("left").ID, models.StatusPending, models.StatusCompleted, Now())
			require.NoError(t, err)

			tasks, err = tx.EntrypointTasks(ctx, graph.Workflow.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{"right"}, taskNames(tasks))

			return nil
		})
		require.NoError(t, err)
	})

	t.Run("derives ready dependants", func(t *testing.T) {
		p, ctx := open(t)

		graph := SeedWorkflow(ctx, t, p, "ready",
			Task("a"), Task("b"), Task("c", "a", "b"), Task("d", "a"),
		)
		a, b := graph.TaskByName("a"), graph.TaskByName("b")

		err := p.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
			_, err := tx.TransitionTask(ctx, a.ID, models.StatusPending, models.StatusCompleted, Now())
			require.NoError(t, err)

			ready, err := tx.ReadyDependants(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{"d"}, taskNames(ready))

			_, err = tx.TransitionTask(ctx, b.ID, models.StatusPending, models.StatusCompleted, Now())
			require.NoError(t, err)

			ready, err = tx.ReadyDependants(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{"c"}, taskNames(ready))

			ready, err = tx.ReadyDependants(ctx, a.ID)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"c", "d"}, taskNames(ready))

			return nil
		})
		require.NoError(t, err)
	})

	t.Run("completes settled workflows only", func(t *testing.T) {
		p, ctx := open(t)

		graph := SeedWorkflow(ctx, t, p, "settle", Task("a"), Task("b", "a"))

		err := p.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
			require.NoError(t, tx.LockWorkflow(ctx, graph.Workflow.ID))

			_, err := tx.TransitionTask(ctx, graph.TaskByName("a").ID, models.StatusPending, models.StatusCompleted, Now())
			require.NoError(t, err)

			ok, err := tx.CompleteWorkflowIfSettled(ctx, graph.Workflow.ID, Now())
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = tx.TransitionTask(ctx, graph.TaskByName("b").ID, models.StatusPending, models.StatusCompleted, Now())
			require.NoError(t, err)

			ok, err = tx.CompleteWorkflowIfSettled(ctx, graph.Workflow.ID, Now())
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = tx.CompleteWorkflowIfSettled(ctx, graph.Workflow.ID, Now())
			require.NoError(t, err)
			assert.False(t, ok, "already completed")

			workflow, err := tx.Workflow(ctx, graph.Workflow.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, workflow.Status)
			assert.NotNil(t, workflow.CompletedAt)

			return nil
		})
		require.NoError(t, err)

		err = p.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
			return tx.LockWorkflow(ctx, 999999)
		})
		if err != nil {
			assert.True(t, persistence.IsWorkflowNotFound(err))
		}
	})

	t.Run("cancels pending rows in bulk", func(t *testing.T) {
		p, ctx := open(t)

		graph := SeedWorkflow(ctx, t, p, "cancel",
			Task("a").WithSteps(2), Task("b", "a").WithSteps(2), Task("c", "b"),
		)
		a, b, c := graph.TaskByName("a"), graph.TaskByName("b"), graph.TaskByName("c")

		err := p.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
			now := Now()

			_, err := tx.TransitionTask(ctx, a.ID, models.StatusPending, models.StatusCompleted, now)
			require.NoError(t, err)

			count, err := tx.CancelPendingTasks(ctx, []int64{a.ID, b.ID, c.ID}, now)
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)

			count, err = tx.CancelPendingSteps(ctx, []int64{b.ID, c.ID}, now)
			require.NoError(t, err)
			assert.Equal(t, int64(3), count)

			count, err = tx.CancelPendingTasks(ctx, nil, now)
			require.NoError(t, err)
			assert.Zero(t, count)

			return nil
		})
		require.NoError(t, err)

		reloaded, err := p.WorkflowGraph(ctx, graph.Workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, reloaded.Task(a.ID).Status)
		assert.Equal(t, models.StatusCancelled, reloaded.Task(b.ID).Status)
		assert.NotNil(t, reloaded.Task(b.ID).FailedAt)

		for _, step := range reloaded.StepsOf(a.ID) {
			assert.Equal(t, models.StatusPending, step.Status)
		}

		for _, step := range append(reloaded.StepsOf(b.ID), reloaded.StepsOf(c.ID)...) {
			assert.Equal(t, models.StatusCancelled, step.Status)
			assert.NotNil(t, step.FailedAt)
		}
	})

	t.Run("lists workflows", func(t *testing.T) {
		p, ctx := open(t)

		first := SeedWorkflow(ctx, t, p, "first", Task("a"))
		second := SeedWorkflow(ctx, t, p, "second", Task("a"))
		third := SeedWorkflow(ctx, t, p, "third", Task("a"))

		err := p.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
			_, err := tx.TransitionWorkflow(ctx, second.Workflow.ID, models.StatusPending, models.StatusFailed, Now())

			return err
		})
		require.NoError(t, err)

		workflows, err := p.Workflows(ctx, persistence.WorkflowFilter{})
		require.NoError(t, err)
		require.Len(t, workflows, 3)
		assert.Equal(t, []int64{third.Workflow.ID, second.Workflow.ID, first.Workflow.ID}, workflowIDs(workflows))

		workflows, err = p.Workflows(ctx, persistence.WorkflowFilter{Status: models.StatusFailed})
		require.NoError(t, err)
		assert.Equal(t, []int64{second.Workflow.ID}, workflowIDs(workflows))

		workflows, err = p.Workflows(ctx, persistence.WorkflowFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []int64{second.Workflow.ID}, workflowIDs(workflows))
	})

	t.Run("health check", func(t *testing.T) {
		p, ctx := open(t)

		assert.NoError(t, p.HealthCheck(ctx))
	})
}

func taskNames(tasks []*models.Task) []string {
	names := make([]string, len(tasks))
	for i, task := range tasks {
		names[i] = task.Name
	}

	return names
}

func workflowIDs(workflows []*models.Workflow) []int64 {
	ids := make([]int64, len(workflows))
	for i, workflow := range workflows {
		ids[i] = workflow.ID
	}

	return ids
}
