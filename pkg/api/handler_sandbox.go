package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/ingest"
	"github.com/r3e-conductor/conductor/pkg/sandbox"
)

// spawnSandboxHandler handles POST /api/v1/sandboxes/spawn. This is an
// operator escape hatch for spawning outside the orchestrator's own
// claim loop (e.g. a manual retry); it does not touch task status —
// the caller is expected to have claimed/assigned the task already.
func (s *Server) spawnSandboxHandler(c *echo.Context) error {
	var req SpawnSandboxRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TaskID == "" {
		return mapServiceError(errs.NewValidationError("task_id", "task_id is required"))
	}

	task, err := s.store.GetTask(c.Request().Context(), req.TaskID)
	if err != nil {
		return mapServiceError(err)
	}

	sandboxID, err := s.gateway.SpawnForTask(c.Request().Context(), sandbox.SpawnRequest{
		TaskID:   task.ID,
		PhaseID:  task.Phase,
		Runtime:  req.Runtime,
		ExtraEnv: req.ExtraEnv,
	})
	if err != nil {
		return mapServiceError(err)
	}

	if err := s.store.SetTaskSandbox(c.Request().Context(), task.ID, sandboxID); err != nil {
		return mapServiceError(err)
	}

	s.publish(c.Request().Context(), events.TypeSandboxSpawned, events.TicketChannel(task.TicketID), map[string]interface{}{
		"task_id":    task.ID,
		"sandbox_id": sandboxID,
	})

	return c.JSON(http.StatusCreated, &SpawnSandboxResponse{SandboxID: sandboxID})
}

// listSandboxEventsHandler handles GET /api/v1/sandboxes/{sandbox_id}/events.
func (s *Server) listSandboxEventsHandler(c *echo.Context) error {
	sandboxEvents, err := s.store.ListSandboxEvents(c.Request().Context(), c.Param("sandbox_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sandboxEvents)
}

// reportSandboxEventHandler handles
// POST /api/v1/sandboxes/{sandbox_id}/events: the inbound side of the
// sandbox runtime's event stream (spec §4.7 - "the sandbox reports
// progress by publishing events"). Every event is persisted verbatim;
// agent.completed additionally drives cost recording and the
// validator pipeline via pkg/ingest.
func (s *Server) reportSandboxEventHandler(c *echo.Context) error {
	var req ReportSandboxEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.EventType == "" {
		return mapServiceError(errs.NewValidationError("event_type", "event_type is required"))
	}

	if err := s.ingest.Record(c.Request().Context(), ingest.Event{
		SandboxID: c.Param("sandbox_id"),
		TaskID:    req.TaskID,
		EventType: req.EventType,
		Payload:   req.Payload,
	}); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

// sendSandboxMessageHandler handles POST /api/v1/sandboxes/{sandbox_id}/messages.
func (s *Server) sendSandboxMessageHandler(c *echo.Context) error {
	var req SendSandboxMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return mapServiceError(errs.NewValidationError("content", "content is required"))
	}

	sandboxID := c.Param("sandbox_id")
	if err := s.gateway.SendMessage(c.Request().Context(), sandboxID, req.Content, req.MessageType); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusAccepted)
}
