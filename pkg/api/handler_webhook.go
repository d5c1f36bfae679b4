package api

import (
	"io"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/r3e-conductor/conductor/pkg/webhook"
)

// webhookHandler handles POST /api/v1/webhooks/vcs, the VCS-host
// ingestion point spec §6 describes: signature-verified push and
// pull_request deliveries. The event kind is carried in the
// X-GitHub-Event header (the convention every major host's webhook
// delivery follows); unrecognized kinds are acknowledged and ignored
// so a host's evolving event catalog never turns into 4xx noise in
// its delivery log.
func (s *Server) webhookHandler(c *echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	signature := c.Request().Header.Get("X-Hub-Signature-256")
	if !webhook.VerifySignature(s.cfg.API.WebhookSigningSecret, body, signature) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook signature")
	}

	switch c.Request().Header.Get("X-GitHub-Event") {
	case "push":
		linked, err := s.webhooks.HandlePush(c.Request().Context(), body)
		if err != nil {
			slog.Error("push webhook processing failed", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to process push event")
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"linked_commits": linked})
	case "pull_request":
		if err := s.webhooks.HandlePullRequest(c.Request().Context(), body); err != nil {
			slog.Error("pull_request webhook processing failed", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to process pull_request event")
		}
		return c.NoContent(http.StatusOK)
	default:
		return c.NoContent(http.StatusOK)
	}
}
