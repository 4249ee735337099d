// Package persistence provides the storage abstraction of materialized workflow graphs.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/dagflow/pkg/models"
)

// DefaultListLimit bounds Workflows when the filter sets no limit.
const DefaultListLimit = 50

type Persistence interface {
	// InTx runs fn in one transaction. The transaction commits when fn returns
	// nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	WorkflowGraph(ctx context.Context, id int64) (*models.WorkflowGraph, error)
	Workflows(ctx context.Context, filter WorkflowFilter) ([]*models.Workflow, error)
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// WorkflowFilter narrows Workflows. Results are ordered by id, newest first.
type WorkflowFilter struct {
	Status models.RunStatus
	Limit  int
	Offset int
}

// Tx is the set of operations available inside a transaction. Transition
// methods are conditional updates: they return false when the row is not in
// the expected status, and leave it untouched.
type Tx interface {
	InsertWorkflow(ctx context.Context, workflow *models.Workflow) error
	// InsertTasks inserts the tasks and sets their ids.
	InsertTasks(ctx context.Context, tasks []*models.Task) error
	// InsertSteps inserts the steps and sets their ids.
	InsertSteps(ctx context.Context, steps []*models.Step) error
	InsertDependencies(ctx context.Context, dependencies []models.Dependency) error

	Workflow(ctx context.Context, id int64) (*models.Workflow, error)
	Task(ctx context.Context, id int64) (*models.Task, error)
	Step(ctx context.Context, id int64) (*models.Step, error)
	Tasks(ctx context.Context, workflowID int64) ([]*models.Task, error)
	Dependencies(ctx context.Context, workflowID int64) ([]models.Dependency, error)

	// StepByOrder returns the step of the task at the given order, or nil when there is none.
	StepByOrder(ctx context.Context, taskID int64, order int) (*models.Step, error)
	// EntrypointTasks returns the PENDING tasks of the workflow with no dependency.
	EntrypointTasks(ctx context.Context, workflowID int64) ([]*models.Task, error)
	// ReadyDependants returns the PENDING tasks depending on taskID whose
	// every dependency is COMPLETED.
	ReadyDependants(ctx context.Context, taskID int64) ([]*models.Task, error)

	// LockWorkflow serializes concurrent writers of one workflow until the transaction ends.
	LockWorkflow(ctx context.Context, id int64) error

	TransitionWorkflow(ctx context.Context, id int64, from, to models.RunStatus, now time.Time) (bool, error)
	TransitionTask(ctx context.Context, id int64, from, to models.RunStatus, now time.Time) (bool, error)
	TransitionStep(ctx context.Context, id int64, from, to models.RunStatus, now time.Time) (bool, error)

	// MarkTaskStarted sets started_at when it is still null.
	MarkTaskStarted(ctx context.Context, id int64, now time.Time) error
	// MarkWorkflowStarted sets started_at when it is still null.
	MarkWorkflowStarted(ctx context.Context, id int64, now time.Time) error

	// CompleteWorkflowIfSettled moves a PENDING workflow to COMPLETED when none
	// of its tasks has a status other than COMPLETED.
	CompleteWorkflowIfSettled(ctx context.Context, id int64, now time.Time) (bool, error)
	// CancelPendingTasks cancels the PENDING tasks among ids and returns how many changed.
	CancelPendingTasks(ctx context.Context, ids []int64, now time.Time) (int64, error)
	// CancelPendingSteps cancels the PENDING steps of the given tasks and returns how many changed.
	CancelPendingSteps(ctx context.Context, taskIDs []int64, now time.Time) (int64, error)
}
