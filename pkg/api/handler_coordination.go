package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/r3e-conductor/conductor/pkg/coordination"
	"github.com/r3e-conductor/conductor/pkg/errs"
)

// SplitRequest is the HTTP request body for POST /api/v1/coordination/split.
type SplitRequest struct {
	SplitID      string                    `json:"split_id"`
	SourceTaskID string                    `json:"source_task_id"`
	Targets      []coordination.TargetSpec `json:"targets"`
}

// JoinRequest is the HTTP request body for POST /api/v1/coordination/join.
type JoinRequest struct {
	JoinID        string                        `json:"join_id"`
	SourceTaskIDs []string                      `json:"source_task_ids"`
	Continuation  coordination.ContinuationSpec `json:"continuation"`
}

// splitCoordinationHandler handles POST /api/v1/coordination/split: a
// fan-out point dividing one source task into parallel target tasks.
func (s *Server) splitCoordinationHandler(c *echo.Context) error {
	var req SplitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SplitID == "" || req.SourceTaskID == "" || len(req.Targets) == 0 {
		return mapServiceError(errs.NewValidationError("split_id/source_task_id/targets", "split_id, source_task_id, and at least one target are required"))
	}

	tasks, err := s.coordinator.Split(c.Request().Context(), req.SplitID, req.SourceTaskID, req.Targets)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, tasks)
}

// joinCoordinationHandler handles POST /api/v1/coordination/join: it
// creates the continuation task and registers the join; the actual
// merge-and-inject happens asynchronously once every source task
// completes (pkg/coordination.SynthesisService).
func (s *Server) joinCoordinationHandler(c *echo.Context) error {
	var req JoinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.JoinID == "" || len(req.SourceTaskIDs) == 0 {
		return mapServiceError(errs.NewValidationError("join_id/source_task_ids", "join_id and at least one source_task_id are required"))
	}

	continuation, err := s.coordinator.JoinTasks(c.Request().Context(), req.JoinID, req.SourceTaskIDs, req.Continuation)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, &TaskResponse{Task: continuation})
}
