package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// listTasksHandler handles GET /api/v1/tasks?ticket_id=....
func (s *Server) listTasksHandler(c *echo.Context) error {
	ticketID := c.QueryParam("ticket_id")
	if ticketID == "" {
		return mapServiceError(errs.NewValidationError("ticket_id", "ticket_id query parameter is required"))
	}
	tasks, err := s.store.ListTasksByTicket(c.Request().Context(), ticketID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tasks)
}

// createTaskHandler handles POST /api/v1/tasks. Dependencies named in
// depends_on are recorded as jsonb on the new row directly; cross-task
// wiring beyond a flat dependency list (sync/split/join) goes through
// pkg/coordination, not this endpoint.
func (s *Server) createTaskHandler(c *echo.Context) error {
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TicketID == "" || req.Phase == "" || req.TaskType == "" {
		return mapServiceError(errs.NewValidationError("ticket_id/phase/task_type", "ticket_id, phase, and task_type are required"))
	}

	timeout := req.TimeoutSeconds
	if timeout == 0 {
		timeout = s.cfg.Defaults.TaskTimeoutSeconds
	}
	priority := req.Priority
	if priority == "" {
		priority = s.cfg.Defaults.Priority
	}

	task := &store.Task{
		TicketID:       req.TicketID,
		Phase:          req.Phase,
		TaskType:       req.TaskType,
		Title:          req.Title,
		Description:    req.Description,
		Priority:       priority,
		TimeoutSeconds: timeout,
		Dependencies:   store.TaskDependencies{DependsOn: req.DependsOn},
	}

	created, err := s.store.EnqueueTask(c.Request().Context(), task)
	if err != nil {
		return mapServiceError(err)
	}

	s.publish(c.Request().Context(), events.TypeTaskStatusChanged, events.TicketChannel(created.TicketID), map[string]interface{}{
		"task_id": created.ID,
		"status":  created.Status,
	})

	return c.JSON(http.StatusCreated, &TaskResponse{Task: created})
}

// patchTaskHandler handles PATCH /api/v1/tasks/{id}. The only
// transition this thin adapter exposes is operator cancellation
// (spec §4.5: cancel_task is synchronous and does not interrupt a
// running sandbox); every other status transition is internal to the
// orchestrator, validator, or guardian intervention service.
func (s *Server) patchTaskHandler(c *echo.Context) error {
	var req PatchTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.Cancel {
		return mapServiceError(errs.NewValidationError("cancel", "no recognized patch operation"))
	}

	taskID := c.Param("id")
	reason := req.Reason
	if reason == "" {
		reason = "cancelled via API"
	}
	if err := s.store.CancelTask(c.Request().Context(), taskID, reason); err != nil {
		return mapServiceError(err)
	}

	task, err := s.store.GetTask(c.Request().Context(), taskID)
	if err != nil {
		return mapServiceError(err)
	}

	s.publish(c.Request().Context(), events.TypeTaskStatusChanged, events.TicketChannel(task.TicketID), map[string]interface{}{
		"task_id": task.ID,
		"status":  task.Status,
		"reason":  reason,
	})

	return c.JSON(http.StatusOK, &TaskResponse{Task: task})
}
