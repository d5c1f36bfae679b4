package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// createTicketHandler handles POST /api/v1/tickets. A ticket may
// require an approval gate (spec §4.1): when requested, it is created
// with approval_status=pending_review and a deadline of
// now+approval_timeout_seconds instead of being immediately workable.
func (s *Server) createTicketHandler(c *echo.Context) error {
	var req CreateTicketRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" || req.Phase == "" {
		return mapServiceError(errs.NewValidationError("title/phase", "title and phase are required"))
	}
	if req.Priority == "" {
		req.Priority = s.cfg.Defaults.Priority
	}

	ticket := &store.Ticket{
		Title:        req.Title,
		Description:  req.Description,
		Phase:        req.Phase,
		Priority:     req.Priority,
		ProjectID:    req.ProjectID,
		OwningUserID: req.OwningUserID,
		Context:      req.Context,
	}

	timeout := time.Duration(s.cfg.Defaults.ApprovalTimeoutSeconds) * time.Second
	created, err := s.store.CreateTicket(c.Request().Context(), ticket, req.RequiresApproval, timeout)
	if err != nil {
		return mapServiceError(err)
	}

	eventType := events.TypeTicketCreated
	if created.ApprovalStatus == "pending_review" {
		eventType = events.TypeTicketApprovalPending
	}
	s.publish(c.Request().Context(), eventType, events.GlobalChannel, map[string]interface{}{
		"ticket_id": created.ID,
		"status":    created.Status,
	})

	return c.JSON(http.StatusCreated, &TicketResponse{Ticket: created})
}

// getTicketHandler handles GET /api/v1/tickets/:id.
func (s *Server) getTicketHandler(c *echo.Context) error {
	ticket, err := s.store.GetTicket(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &TicketResponse{Ticket: ticket})
}

// listTicketTasksHandler handles GET /api/v1/tickets/:id/tasks.
func (s *Server) listTicketTasksHandler(c *echo.Context) error {
	tasks, err := s.store.ListTasksByTicket(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tasks)
}

// publish is a best-effort event emission shared by every handler:
// the primary state change this request made has already committed,
// so a publish failure is logged and swallowed rather than surfaced
// as a request error (spec §7: "audit records and events are emitted
// on a best-effort basis; if emission fails the primary state change
// is not rolled back").
func (s *Server) publish(ctx context.Context, eventType, channel string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, channel, payload); err != nil {
		slog.Warn("failed to publish api event", "event_type", eventType, "error", err)
	}
}
