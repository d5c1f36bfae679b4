package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/r3e-conductor/conductor/pkg/events"
)

// listAlertsHandler handles GET /api/v1/alerts.
func (s *Server) listAlertsHandler(c *echo.Context) error {
	alerts, err := s.store.ListActiveAlerts(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, alerts)
}

// acknowledgeAlertHandler handles POST /api/v1/alerts/{id}/acknowledge.
func (s *Server) acknowledgeAlertHandler(c *echo.Context) error {
	by := extractAuthor(c)
	alertID := c.Param("id")
	if err := s.store.AcknowledgeAlert(c.Request().Context(), alertID, by); err != nil {
		return mapServiceError(err)
	}
	s.publish(c.Request().Context(), events.TypeAlertAcknowledged, events.GlobalChannel, map[string]interface{}{
		"alert_id": alertID,
		"by":       by,
	})
	return c.NoContent(http.StatusOK)
}

// resolveAlertHandler handles POST /api/v1/alerts/{id}/resolve.
func (s *Server) resolveAlertHandler(c *echo.Context) error {
	by := extractAuthor(c)
	alertID := c.Param("id")
	if err := s.store.ResolveAlert(c.Request().Context(), alertID, by); err != nil {
		return mapServiceError(err)
	}
	s.publish(c.Request().Context(), events.TypeAlertResolved, events.GlobalChannel, map[string]interface{}{
		"alert_id": alertID,
		"by":       by,
	})
	return c.NoContent(http.StatusOK)
}

// extractAuthor identifies the caller from reverse-proxy auth headers.
// Priority: X-Forwarded-User > X-Forwarded-Email > "api-client", the
// standard oauth2-proxy header precedence.
func extractAuthor(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return "api-client"
}
