// Package models defines the persisted workflow graph: workflows, tasks, steps and the dependency edges between tasks.
package models

import "time"

// RunStatus is the lifecycle state shared by workflows, tasks and steps.
// Workflows only use PENDING, COMPLETED and FAILED; tasks add CANCELLED;
// steps are the only entity that is ever RUNNING.
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	StatusCancelled RunStatus = "CANCELLED"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []RunStatus{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}

	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s RunStatus) String() string {
	return string(s)
}

// Timestamps holds the lifecycle timestamps every graph entity carries.
type Timestamps struct {
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	FailedAt    *time.Time `db:"failed_at"    json:"failed_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}

// Apply records the timestamps written by a transition into status.
func (t *Timestamps) Apply(status RunStatus, now time.Time) {
	t.UpdatedAt = now

	switch status {
	case StatusRunning:
		t.StartedAt = &now
		t.FailedAt = nil
		t.CompletedAt = nil
	case StatusCompleted:
		t.CompletedAt = &now
		t.FailedAt = nil
	case StatusFailed, StatusCancelled:
		t.FailedAt = &now
	case StatusPending:
	}
}

// TransitionColumns returns the column values an SQL update writes for a
// transition into status. It mirrors Timestamps.Apply.
func TransitionColumns(status RunStatus, now time.Time) map[string]any {
	columns := map[string]any{
		"status":     string(status),
		"updated_at": now,
	}

	switch status {
	case StatusRunning:
		columns["started_at"] = now
		columns["failed_at"] = nil
		columns["completed_at"] = nil
	case StatusCompleted:
		columns["completed_at"] = now
		columns["failed_at"] = nil
	case StatusFailed, StatusCancelled:
		columns["failed_at"] = now
	case StatusPending:
	}

	return columns
}
