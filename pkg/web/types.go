// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"encoding/json"
	"time"

	"github.com/dukex/dagflow/pkg/models"
)

// ListWorkflowsRequest holds the query parameters of GET /workflows.
type ListWorkflowsRequest struct {
	Status string `validate:"omitempty,oneof=PENDING RUNNING COMPLETED FAILED CANCELLED"`
	Limit  int    `validate:"omitempty,min=1,max=500"`
	Offset int    `validate:"min=0"`
}

// WorkflowResponse is the projection of a workflow. Tasks are only set on
// single-workflow responses.
type WorkflowResponse struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	StartedAt   *time.Time     `json:"startedAt"`
	FailedAt    *time.Time     `json:"failedAt"`
	CompletedAt *time.Time     `json:"completedAt"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Tasks       []TaskResponse `json:"tasks,omitempty"`
}

type TaskResponse struct {
	ID           int64                `json:"id"`
	Name         string               `json:"name"`
	Status       string               `json:"status"`
	StartedAt    *time.Time           `json:"startedAt"`
	FailedAt     *time.Time           `json:"failedAt"`
	CompletedAt  *time.Time           `json:"completedAt"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
	Steps        []StepResponse       `json:"steps"`
	Dependencies []DependencyResponse `json:"dependencies"`
	Dependants   []DependantResponse  `json:"dependants"`
}

type StepResponse struct {
	ID          int64      `json:"id"`
	Order       int        `json:"order"`
	Class       string     `json:"class"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"startedAt"`
	FailedAt    *time.Time `json:"failedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// StepDetailResponse adds the stored job payload to a step.
type StepDetailResponse struct {
	StepResponse

	Payload json.RawMessage `json:"payload"`
}

type DependencyResponse struct {
	ParentTaskID int64 `json:"parentTaskId"`
}

type DependantResponse struct {
	ChildTaskID int64 `json:"childTaskId"`
}

// TransformWorkflow projects a workflow without its tasks.
func TransformWorkflow(workflow *models.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:          workflow.ID,
		Name:        workflow.Name,
		Status:      workflow.Status.String(),
		StartedAt:   workflow.StartedAt,
		FailedAt:    workflow.FailedAt,
		CompletedAt: workflow.CompletedAt,
		CreatedAt:   workflow.CreatedAt,
		UpdatedAt:   workflow.UpdatedAt,
	}
}

// TransformGraph projects a workflow with its tasks, their steps and edges.
func TransformGraph(graph *models.WorkflowGraph) WorkflowResponse {
	response := TransformWorkflow(graph.Workflow)

	response.Tasks = make([]TaskResponse, 0, len(graph.Tasks))
	for _, task := range graph.Tasks {
		response.Tasks = append(response.Tasks, TransformTask(graph, task))
	}

	return response
}

// TransformTask projects one task of graph.
func TransformTask(graph *models.WorkflowGraph, task *models.Task) TaskResponse {
	response := TaskResponse{
		ID:           task.ID,
		Name:         task.Name,
		Status:       task.Status.String(),
		StartedAt:    task.StartedAt,
		FailedAt:     task.FailedAt,
		CompletedAt:  task.CompletedAt,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
		Steps:        make([]StepResponse, 0),
		Dependencies: make([]DependencyResponse, 0),
		Dependants:   make([]DependantResponse, 0),
	}

	for _, step := range graph.StepsOf(task.ID) {
		response.Steps = append(response.Steps, TransformStep(step))
	}

	for _, id := range graph.DependenciesOf(task.ID) {
		response.Dependencies = append(response.Dependencies, DependencyResponse{ParentTaskID: id})
	}

	for _, id := range graph.DependantsOf(task.ID) {
		response.Dependants = append(response.Dependants, DependantResponse{ChildTaskID: id})
	}

	return response
}

func TransformStep(step *models.Step) StepResponse {
	return StepResponse{
		ID:          step.ID,
		Order:       step.Order,
		Class:       step.Class,
		Status:      step.Status.String(),
		StartedAt:   step.StartedAt,
		FailedAt:    step.FailedAt,
		CompletedAt: step.CompletedAt,
		CreatedAt:   step.CreatedAt,
		UpdatedAt:   step.UpdatedAt,
	}
}

// TransformStepDetail projects a step with its payload. A payload that is not
// valid JSON is rendered as a JSON string.
func TransformStepDetail(step *models.Step) StepDetailResponse {
	payload := json.RawMessage(step.Payload)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(step.Payload))
	}

	return StepDetailResponse{StepResponse: TransformStep(step), Payload: payload}
}
