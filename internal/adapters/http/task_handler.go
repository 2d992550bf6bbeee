package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sapling/core/internal/application/services"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// TaskHandler handles task-related requests
type TaskHandler struct {
	taskService *services.TaskService
	logger      *logger.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(taskService *services.TaskService, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		logger:      logger,
	}
}

// CreateTask handles task creation
// @Summary Create a task
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body ports.CreateTaskRequest true "Task data"
// @Success 201 {object} entities.Task
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /tasks [post]
func (h *TaskHandler) CreateTask(c echo.Context) error {
	var req ports.CreateTaskRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	accountID := accountIDFromContext(c)
	task, err := h.taskService.CreateTask(c.Request().Context(), accountID, req)
	if err != nil {
		h.logger.Warnw("Create task failed", "error", err, "account_id", accountID)
		return toHTTPError(err)
	}

	return c.JSON(http.StatusCreated, task)
}

// ListTasks handles listing the caller's tasks
// @Summary List tasks
// @Tags tasks
// @Produce json
// @Success 200 {array} entities.Task
// @Security BearerAuth
// @Router /tasks [get]
func (h *TaskHandler) ListTasks(c echo.Context) error {
	tasks, err := h.taskService.ListTasks(c.Request().Context(), accountIDFromContext(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, tasks)
}

// GetTask handles getting one task
// @Summary Get a task
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} entities.Task
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id} [get]
func (h *TaskHandler) GetTask(c echo.Context) error {
	task, err := h.taskService.GetTask(c.Request().Context(), accountIDFromContext(c), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, task)
}

// CompleteTask handles completing a task on one of its dates
// @Summary Complete a task on a date
// @Description Removes the date from the task and mints one credit
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body ports.CompleteTaskRequest true "Date"
// @Success 200 {object} ports.CompletionResult
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/complete [post]
func (h *TaskHandler) CompleteTask(c echo.Context) error {
	var req ports.CompleteTaskRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	accountID := accountIDFromContext(c)
	taskID := c.Param("id")

	result, err := h.taskService.CompleteOnDate(c.Request().Context(), accountID, taskID, req.Date)
	if err != nil {
		h.logger.Warnw("Complete task failed", "error", err, "account_id", accountID, "task_id", taskID)
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}
