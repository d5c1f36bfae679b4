package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// getAgentHandler handles GET /api/v1/agents/:id.
func (s *Server) getAgentHandler(c *echo.Context) error {
	agent, err := s.store.GetAgent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, agent)
}

// searchAgentsHandler handles GET /api/v1/agents?phase=...&capabilities=a,b.
func (s *Server) searchAgentsHandler(c *echo.Context) error {
	phase := c.QueryParam("phase")
	var caps []string
	if raw := c.QueryParam("capabilities"); raw != "" {
		caps = strings.Split(raw, ",")
	}

	results, err := s.registry.SearchAgents(c.Request().Context(), phase, caps, 50, false)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, results)
}
