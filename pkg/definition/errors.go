package definition

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors. Every typed error below matches one of them through errors.Is.
var (
	ErrWorkflowWithoutName       = errors.New("workflow name is required")
	ErrWorkflowWithoutTasks      = errors.New("workflow must contain at least one task")
	ErrInvalidTaskName           = errors.New("invalid task name")
	ErrTaskWithoutJob            = errors.New("task without job")
	ErrMissingTrackingCapability = errors.New("job missing tracking capability")
	ErrMissingExpander           = errors.New("fan-out task without expander")
	ErrDuplicateTaskName         = errors.New("duplicate task name")
	ErrUnresolvedDependency      = errors.New("unresolved dependency")
	ErrCircularDependency        = errors.New("circular dependency")
)

// IsValidationError reports whether err was raised while validating a definition.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrWorkflowWithoutName) ||
		errors.Is(err, ErrWorkflowWithoutTasks) ||
		errors.Is(err, ErrInvalidTaskName) ||
		errors.Is(err, ErrTaskWithoutJob) ||
		errors.Is(err, ErrMissingTrackingCapability) ||
		errors.Is(err, ErrMissingExpander) ||
		errors.Is(err, ErrDuplicateTaskName) ||
		errors.Is(err, ErrUnresolvedDependency) ||
		errors.Is(err, ErrCircularDependency)
}

// TaskError reports a problem with a single task entry.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	switch {
	case errors.Is(e.Err, ErrTaskWithoutJob):
		return fmt.Sprintf("task %q does not contain any valid job", e.Task)
	case errors.Is(e.Err, ErrMissingExpander):
		return fmt.Sprintf("fan-out task %q does not name an expander", e.Task)
	default:
		return fmt.Sprintf("task %q: %v", e.Task, e.Err)
	}
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// MissingTrackingCapabilityError names a job that cannot run as a tracked step.
type MissingTrackingCapabilityError struct {
	Task    string
	JobType string
}

func (e *MissingTrackingCapabilityError) Error() string {
	return fmt.Sprintf("task %q contains a job of type %s which does not implement step tracking", e.Task, e.JobType)
}

func (e *MissingTrackingCapabilityError) Is(target error) bool {
	return target == ErrMissingTrackingCapability
}

// DuplicateTaskNameError lists every name declared more than once.
type DuplicateTaskNameError struct {
	Names []string
}

func (e *DuplicateTaskNameError) Error() string {
	return "workflow contains tasks with duplicate names: " + strings.Join(e.Names, ", ")
}

func (e *DuplicateTaskNameError) Is(target error) bool {
	return target == ErrDuplicateTaskName
}

// UnresolvedDependencyError names a dependency that matches no task.
type UnresolvedDependencyError struct {
	Task       string
	Dependency string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("task %q has an unresolved dependency on task %q", e.Task, e.Dependency)
}

func (e *UnresolvedDependencyError) Is(target error) bool {
	return target == ErrUnresolvedDependency
}

// CircularDependencyError carries the cycle, first and last element equal.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected for task %q: %s", e.Path[0], strings.Join(e.Path, " -> "))
}

func (e *CircularDependencyError) Is(target error) bool {
	return target == ErrCircularDependency
}
