// Package tracker records the lifecycle of every step delivery and cascades
// its outcome through the workflow graph.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/dagflow/pkg/dispatcher"
	"github.com/dukex/dagflow/pkg/graph"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
	"github.com/dukex/dagflow/pkg/protocol"
	"github.com/dukex/dagflow/pkg/queue"
	"github.com/sethvargo/go-retry"
)

const (
	commitAttempts = 5
	commitBackoff  = 20 * time.Millisecond
)

var ErrJobPanicked = errors.New("job panicked")

type Tracker struct {
	store      persistence.Persistence
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func New(store persistence.Persistence, d *dispatcher.Dispatcher, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:      store,
		dispatcher: d,
		logger:     logger.With("module", "tracker"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Intercept is the protocol.Middleware every step delivery runs through. A
// delivery of a step that is not PENDING is rejected without running the
// job. Job errors are returned unchanged after the failure cascade.
func (t *Tracker) Intercept(ctx context.Context, job protocol.Trackable, next protocol.Next) error {
	ref := models.StepRef{WorkflowID: job.WorkflowID(), TaskID: job.TaskID(), StepID: job.StepID()}

	logger := t.logger.With(
		"workflow_id", ref.WorkflowID,
		"task_id", ref.TaskID,
		"step_id", ref.StepID,
		"job_type", job.Type(),
	)

	started, err := t.start(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to start step %d: %w", ref.StepID, err)
	}

	if !started {
		logger.InfoContext(ctx, "Step is not pending, dropping delivery")

		return queue.ErrRejected
	}

	logger.DebugContext(ctx, "Step started")

	jobErr := run(ctx, next)
	if jobErr != nil {
		logger.ErrorContext(ctx, "Step failed", "error", jobErr)

		err = t.fail(ctx, ref)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to record step failure", "error", err)
		}

		return jobErr
	}

	err = t.complete(ctx, ref)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record step completion", "error", err)

		return fmt.Errorf("failed to complete step %d: %w", ref.StepID, err)
	}

	logger.DebugContext(ctx, "Step completed")

	return nil
}

func run(ctx context.Context, next protocol.Next) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()

	return next(ctx)
}

// start moves the step from PENDING to RUNNING and stamps its task and workflow.
func (t *Tracker) start(ctx context.Context, ref models.StepRef) (bool, error) {
	var started bool

	err := t.transact(ctx, func(ctx context.Context, tx persistence.Tx, _ *dispatcher.Batch) error {
		now := t.now()

		ok, err := tx.TransitionStep(ctx, ref.StepID, models.StatusPending, models.StatusRunning, now)
		if err != nil {
			return err
		}

		started = ok
		if !ok {
			return nil
		}

		err = tx.MarkTaskStarted(ctx, ref.TaskID, now)
		if err != nil {
			return err
		}

		return tx.MarkWorkflowStarted(ctx, ref.WorkflowID, now)
	})

	return started, err
}

func (t *Tracker) complete(ctx context.Context, ref models.StepRef) error {
	return t.transact(ctx, func(ctx context.Context, tx persistence.Tx, batch *dispatcher.Batch) error {
		now := t.now()

		ok, err := tx.TransitionStep(ctx, ref.StepID, models.StatusRunning, models.StatusCompleted, now)
		if err != nil {
			return err
		}

		if !ok {
			t.logger.WarnContext(ctx, "Step was not running on completion", "step_id", ref.StepID)

			return nil
		}

		step, err := tx.Step(ctx, ref.StepID)
		if err != nil {
			return err
		}

		following, err := tx.StepByOrder(ctx, ref.TaskID, step.Order+1)
		if err != nil {
			return err
		}

		if following != nil {
			batch.DispatchStep(following)

			return nil
		}

		ok, err = tx.TransitionTask(ctx, ref.TaskID, models.StatusPending, models.StatusCompleted, now)
		if err != nil || !ok {
			return err
		}

		task, err := tx.Task(ctx, ref.TaskID)
		if err != nil {
			return err
		}

		err = batch.DispatchDependantTasks(ctx, tx, task)
		if err != nil {
			return err
		}

		err = tx.LockWorkflow(ctx, ref.WorkflowID)
		if err != nil {
			return err
		}

		completed, err := tx.CompleteWorkflowIfSettled(ctx, ref.WorkflowID, now)
		if err != nil {
			return err
		}

		if completed {
			t.logger.InfoContext(ctx, "Workflow completed", "workflow_id", ref.WorkflowID)
		}

		return nil
	})
}

func (t *Tracker) fail(ctx context.Context, ref models.StepRef) error {
	return t.transact(ctx, func(ctx context.Context, tx persistence.Tx, _ *dispatcher.Batch) error {
		now := t.now()

		_, err := tx.TransitionStep(ctx, ref.StepID, models.StatusRunning, models.StatusFailed, now)
		if err != nil {
			return err
		}

		_, err = tx.TransitionTask(ctx, ref.TaskID, models.StatusPending, models.StatusFailed, now)
		if err != nil {
			return err
		}

		_, err = tx.TransitionWorkflow(ctx, ref.WorkflowID, models.StatusPending, models.StatusFailed, now)
		if err != nil {
			return err
		}

		downstream, err := t.downstream(ctx, tx, ref)
		if err != nil {
			return err
		}

		tasks, err := tx.CancelPendingTasks(ctx, downstream, now)
		if err != nil {
			return err
		}

		steps, err := tx.CancelPendingSteps(ctx, append([]int64{ref.TaskID}, downstream...), now)
		if err != nil {
			return err
		}

		t.logger.InfoContext(ctx, "Workflow failed",
			"workflow_id", ref.WorkflowID,
			"failed_task_id", ref.TaskID,
			"cancelled_tasks", tasks,
			"cancelled_steps", steps,
		)

		return nil
	})
}

// downstream returns every task that transitively depends on the task of ref.
func (t *Tracker) downstream(ctx context.Context, tx persistence.Tx, ref models.StepRef) ([]int64, error) {
	dependencies, err := tx.Dependencies(ctx, ref.WorkflowID)
	if err != nil {
		return nil, err
	}

	g := graph.New([]int64{ref.TaskID})
	for _, dependency := range dependencies {
		g.AddNode(dependency.TaskID)
		g.AddNode(dependency.DependantTaskID)
		g.AddEdge(dependency.TaskID, dependency.DependantTaskID)
	}

	return g.Reachable(ref.TaskID), nil
}

// transact runs fn through the dispatcher, retrying transient store errors.
// Deliveries are flushed once, after the successful attempt.
func (t *Tracker) transact(
	ctx context.Context,
	fn func(ctx context.Context, tx persistence.Tx, batch *dispatcher.Batch) error,
) error {
	backoff := retry.WithMaxRetries(commitAttempts, retry.NewExponential(commitBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := t.dispatcher.Transact(ctx, t.store, fn)
		if persistence.IsTransient(err) {
			t.logger.WarnContext(ctx, "Transient store error, retrying", "error", err)

			return retry.RetryableError(err)
		}

		return err
	})
}
