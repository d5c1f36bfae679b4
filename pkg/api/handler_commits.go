package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// getCommitHandler handles GET /api/v1/commits/{sha}.
func (s *Server) getCommitHandler(c *echo.Context) error {
	link, err := s.store.GetCommitLinkBySHA(c.Request().Context(), c.Param("sha"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, link)
}

// listTicketCommitsHandler handles GET /api/v1/commits/ticket/{id}.
func (s *Server) listTicketCommitsHandler(c *echo.Context) error {
	links, err := s.store.ListCommitLinksByTicket(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, links)
}

// linkTicketCommitHandler handles POST /api/v1/commits/ticket/{id}/link,
// an operator-driven manual link for commits a push webhook's ticket-
// token scan missed (e.g. a rebase that dropped the token, or a
// commit pushed before the ticket existed).
func (s *Server) linkTicketCommitHandler(c *echo.Context) error {
	var req LinkCommitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SHA == "" {
		return mapServiceError(errs.NewValidationError("sha", "sha is required"))
	}

	link, err := s.store.CreateCommitLink(c.Request().Context(), &store.CommitLink{
		TicketID: c.Param("id"),
		SHA:      req.SHA,
		Branch:   req.Branch,
		Message:  req.Message,
		Author:   req.Author,
		Repo:     req.Repo,
		URL:      req.URL,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, link)
}
