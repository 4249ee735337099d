// Package dispatcher turns PENDING graph entities into step deliveries on the
// execution backend.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/dagflow/pkg/events"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
	"github.com/dukex/dagflow/pkg/queue"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const (
	enqueueRetries = 3
	enqueueBackoff = 25 * time.Millisecond
)

type Dispatcher struct {
	queue  queue.Queue
	logger *slog.Logger
}

func New(q queue.Queue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  q,
		logger: logger.With("module", "dispatcher"),
	}
}

// Batch collects the deliveries requested inside one transaction.
func (d *Dispatcher) Batch() *Batch {
	return &Batch{dispatcher: d}
}

// Transact runs fn in a transaction of store and publishes the deliveries it
// requested once the transaction has committed. A failed transaction
// publishes nothing.
func (d *Dispatcher) Transact(
	ctx context.Context,
	store persistence.Persistence,
	fn func(ctx context.Context, tx persistence.Tx, batch *Batch) error,
) error {
	var batch *Batch

	err := store.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		batch = d.Batch()

		return fn(ctx, tx, batch)
	})
	if err != nil {
		return err
	}

	if batch.Len() == 0 {
		return nil
	}

	return batch.Flush(ctx)
}

// Batch buffers deliveries until Flush. Dispatch methods only read the
// store; they never change a status.
type Batch struct {
	dispatcher *Dispatcher
	pending    []events.StepAvailable
}

// DispatchWorkflow dispatches every PENDING entrypoint task of a PENDING workflow.
func (b *Batch) DispatchWorkflow(ctx context.Context, tx persistence.Tx, workflow *models.Workflow) error {
	if workflow.Status != models.StatusPending {
		return nil
	}

	tasks, err := tx.EntrypointTasks(ctx, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to find entrypoint tasks: %w", err)
	}

	for _, task := range tasks {
		err = b.DispatchTask(ctx, tx, task)
		if err != nil {
			return err
		}
	}

	return nil
}

// DispatchTask dispatches the first step of a PENDING task.
func (b *Batch) DispatchTask(ctx context.Context, tx persistence.Tx, task *models.Task) error {
	if task.Status != models.StatusPending {
		return nil
	}

	step, err := tx.StepByOrder(ctx, task.ID, 1)
	if err != nil {
		return fmt.Errorf("failed to find first step of task %d: %w", task.ID, err)
	}

	if step == nil {
		return nil
	}

	b.DispatchStep(step)

	return nil
}

// DispatchStep schedules the delivery of a PENDING step.
func (b *Batch) DispatchStep(step *models.Step) {
	if step.Status != models.StatusPending {
		return
	}

	b.pending = append(b.pending, events.NewStepAvailable(uuid.NewString(), step, time.Now().UTC()))
}

// DispatchDependantTasks dispatches the dependants of task that became ready.
func (b *Batch) DispatchDependantTasks(ctx context.Context, tx persistence.Tx, task *models.Task) error {
	tasks, err := tx.ReadyDependants(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("failed to find ready dependants of task %d: %w", task.ID, err)
	}

	for _, dependant := range tasks {
		err = b.DispatchTask(ctx, tx, dependant)
		if err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of buffered deliveries.
func (b *Batch) Len() int {
	return len(b.pending)
}

// Flush enqueues the buffered deliveries in request order. Each delivery is
// retried on its own; the errors of those that still failed are joined. A
// delivery that could not be enqueued leaves its step PENDING with nothing to
// run it, so it is logged as stranded.
func (b *Batch) Flush(ctx context.Context) error {
	pending := b.pending
	b.pending = nil

	var errs []error

	for _, event := range pending {
		err := b.enqueue(ctx, event)
		if err != nil {
			b.dispatcher.logger.ErrorContext(ctx, "Step stranded, it must be dispatched again",
				"workflow_id", event.WorkflowID,
				"task_id", event.TaskID,
				"step_id", event.StepID,
				"error", err,
			)
			errs = append(errs, err)

			continue
		}

		b.dispatcher.logger.DebugContext(ctx, "Step dispatched",
			"workflow_id", event.WorkflowID,
			"task_id", event.TaskID,
			"step_id", event.StepID,
		)
	}

	return errors.Join(errs...)
}

func (b *Batch) enqueue(ctx context.Context, event events.StepAvailable) error {
	backoff := retry.WithMaxRetries(enqueueRetries, retry.NewExponential(enqueueBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := b.dispatcher.queue.Enqueue(ctx, event)
		if err != nil {
			b.dispatcher.logger.WarnContext(ctx, "Failed to enqueue step, retrying",
				"step_id", event.StepID,
				"error", err,
			)

			return retry.RetryableError(err)
		}

		return nil
	})
}
