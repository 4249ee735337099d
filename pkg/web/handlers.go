package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// WorkflowReader is the read side of the engine.
type WorkflowReader interface {
	Graph(ctx context.Context, id int64) (*models.WorkflowGraph, error)
	Workflows(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error)
	HealthCheck(ctx context.Context) (string, bool)
}

type APIHandlers struct {
	workflows WorkflowReader
	validator *validator.Validate
}

func NewAPIHandlers(workflows WorkflowReader, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		workflows: workflows,
		validator: validator,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	limit := req.Limit
	if limit == 0 {
		limit = persistence.DefaultListLimit
	}

	workflows, err := h.workflows.Workflows(c.Context(), persistence.WorkflowFilter{
		Status: models.RunStatus(req.Status),
		Limit:  limit,
		Offset: req.Offset,
	})
	if err != nil {
		return handleStoreError(c, err)
	}

	response := make([]WorkflowResponse, 0, len(workflows))
	for _, workflow := range workflows {
		response = append(response, TransformWorkflow(workflow))
	}

	return c.JSON(fiber.Map{
		"workflows": response,
		"pagination": fiber.Map{
			"limit":  limit,
			"offset": req.Offset,
		},
	})
}

func parseListWorkflowsRequest(c fiber.Ctx) (*ListWorkflowsRequest, error) {
	req := &ListWorkflowsRequest{Status: c.Query("status")}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Workflow ID must be an integer")
	}

	graph, err := h.workflows.Graph(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(TransformGraph(graph))
}

func (h *APIHandlers) GetTask(c fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Workflow ID must be an integer")
	}

	taskID, err := strconv.ParseInt(c.Params("taskId"), 10, 64)
	if err != nil {
		return badRequest(c, "Task ID must be an integer")
	}

	graph, err := h.workflows.Graph(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	task := graph.Task(taskID)
	if task == nil {
		return handleStoreError(c, persistence.NewTaskError("GetTask", taskID, persistence.ErrTaskNotFound))
	}

	return c.JSON(TransformTask(graph, task))
}

func (h *APIHandlers) GetStep(c fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Workflow ID must be an integer")
	}

	stepID, err := strconv.ParseInt(c.Params("stepId"), 10, 64)
	if err != nil {
		return badRequest(c, "Step ID must be an integer")
	}

	graph, err := h.workflows.Graph(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	for _, step := range graph.Steps {
		if step.ID == stepID {
			return c.JSON(TransformStepDetail(step))
		}
	}

	return handleStoreError(c, persistence.NewStepError("GetStep", stepID, persistence.ErrStepNotFound))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "dagflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "dagflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Register mounts the handlers on app.
func (h *APIHandlers) Register(app *fiber.App) {
	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Get("/:id", h.GetWorkflow)
	w.Get("/:id/tasks/:taskId", h.GetTask)
	w.Get("/:id/steps/:stepId", h.GetStep)

	app.Get("/health", h.HealthCheck)
}
