package models

import "sort"

// Workflow is one materialized DAG execution.
type Workflow struct {
	Timestamps

	ID     int64     `db:"id"     json:"id"`
	Name   string    `db:"name"   json:"name"`
	Status RunStatus `db:"status" json:"status"`
}

// Task is a named node of a workflow graph. Its work is the ordered chain of its steps.
type Task struct {
	Timestamps

	ID         int64     `db:"id"          json:"id"`
	WorkflowID int64     `db:"workflow_id" json:"workflow_id"`
	Name       string    `db:"name"        json:"name"`
	Status     RunStatus `db:"status"      json:"status"`
}

// Step is one executable unit of a task. Order starts at 1 and is contiguous within the task.
type Step struct {
	Timestamps

	ID         int64     `db:"id"          json:"id"`
	TaskID     int64     `db:"task_id"     json:"task_id"`
	WorkflowID int64     `db:"workflow_id" json:"workflow_id"`
	Order      int       `db:"order"       json:"order"`
	Class      string    `db:"class"       json:"class"`
	Status     RunStatus `db:"status"      json:"status"`
	Payload    []byte    `db:"payload"     json:"-"`
}

// Ref returns the identity injected into the step's job at execution time.
func (s *Step) Ref() StepRef {
	return StepRef{
		WorkflowID: s.WorkflowID,
		TaskID:     s.TaskID,
		StepID:     s.ID,
		Order:      s.Order,
	}
}

// Dependency is an edge of the task graph: TaskID must complete before DependantTaskID may start.
type Dependency struct {
	TaskID          int64 `db:"task_id"           json:"task_id"`
	DependantTaskID int64 `db:"dependant_task_id" json:"dependant_task_id"`
}

// StepRef identifies a persisted step and its owners.
type StepRef struct {
	WorkflowID int64 `json:"workflow_id"`
	TaskID     int64 `json:"task_id"`
	StepID     int64 `json:"step_id"`
	Order      int   `json:"order"`
}

// WorkflowGraph is the read-only projection of a fully materialized workflow.
type WorkflowGraph struct {
	Workflow     *Workflow
	Tasks        []*Task
	Steps        []*Step
	Dependencies []Dependency
}

// Task returns the task with the given id, or nil.
func (g *WorkflowGraph) Task(id int64) *Task {
	for _, task := range g.Tasks {
		if task.ID == id {
			return task
		}
	}

	return nil
}

// TaskByName returns the task with the given name, or nil.
func (g *WorkflowGraph) TaskByName(name string) *Task {
	for _, task := range g.Tasks {
		if task.Name == name {
			return task
		}
	}

	return nil
}

// StepsOf returns the steps of a task ordered by Order.
func (g *WorkflowGraph) StepsOf(taskID int64) []*Step {
	steps := make([]*Step, 0)

	for _, step := range g.Steps {
		if step.TaskID == taskID {
			steps = append(steps, step)
		}
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	return steps
}

// DependenciesOf returns the ids of the tasks taskID waits on.
func (g *WorkflowGraph) DependenciesOf(taskID int64) []int64 {
	ids := make([]int64, 0)

	for _, edge := range g.Dependencies {
		if edge.DependantTaskID == taskID {
			ids = append(ids, edge.TaskID)
		}
	}

	return ids
}

// DependantsOf returns the ids of the tasks waiting on taskID.
func (g *WorkflowGraph) DependantsOf(taskID int64) []int64 {
	ids := make([]int64, 0)

	for _, edge := range g.Dependencies {
		if edge.TaskID == taskID {
			ids = append(ids, edge.DependantTaskID)
		}
	}

	return ids
}
