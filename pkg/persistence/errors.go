// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrTaskNotFound indicates a task was not found by the given identifier.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStepNotFound indicates a step was not found by the given identifier.
	ErrStepNotFound = errors.New("step not found")

	// ErrTransient marks store errors worth retrying, such as serialization failures or deadlocks.
	ErrTransient = errors.New("transient store error")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "Workflow", "Transition")
	WorkflowID int64
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %d: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op string, workflowID int64, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// TaskError wraps task-related errors with additional context.
type TaskError struct {
	Op     string
	TaskID int64
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s operation failed for task %d: %v", e.Op, e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

func (e *TaskError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewTaskError(op string, taskID int64, err error) *TaskError {
	return &TaskError{Op: op, TaskID: taskID, Err: err}
}

// StepError wraps step-related errors with additional context.
type StepError struct {
	Op     string
	StepID int64
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s operation failed for step %d: %v", e.Op, e.StepID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewStepError(op string, stepID int64, err error) *StepError {
	return &StepError{Op: op, StepID: stepID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsTaskNotFound checks if an error indicates a task was not found.
func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

// IsStepNotFound checks if an error indicates a step was not found.
func IsStepNotFound(err error) bool {
	return errors.Is(err, ErrStepNotFound)
}

// IsNotFound checks if an error indicates any graph entity was not found.
func IsNotFound(err error) bool {
	return IsWorkflowNotFound(err) || IsTaskNotFound(err) || IsStepNotFound(err)
}

// IsTransient checks if an error may succeed when the transaction is retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
