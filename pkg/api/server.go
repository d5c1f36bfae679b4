// Package api provides the conductor's HTTP/WebSocket surface: a thin
// adapter over the store, registry, coordination, cost, and sandbox
// packages (spec §6). Handlers do not contain domain logic; they
// validate the request shape, call into the core, and translate the
// result or error into a response.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/coordination"
	"github.com/r3e-conductor/conductor/pkg/cost"
	"github.com/r3e-conductor/conductor/pkg/database"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/ingest"
	"github.com/r3e-conductor/conductor/pkg/registry"
	"github.com/r3e-conductor/conductor/pkg/sandbox"
	"github.com/r3e-conductor/conductor/pkg/store"
	"github.com/r3e-conductor/conductor/pkg/webhook"
)

// Server is the conductor's HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg         *config.Config
	dbClient    *database.Client
	store       *store.Store
	registry    *registry.Registry
	coordinator *coordination.Service
	cost        *cost.Engine
	gateway     sandbox.Gateway
	events      *events.Manager
	publisher   *events.Publisher
	webhooks    *webhook.Handler
	ingest      *ingest.Handler
}

// NewServer wires an echo.Echo instance with every route the
// conductor exposes and returns a Server ready for Start.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	st *store.Store,
	reg *registry.Registry,
	coord *coordination.Service,
	costEngine *cost.Engine,
	gateway sandbox.Gateway,
	mgr *events.Manager,
	publisher *events.Publisher,
	webhooks *webhook.Handler,
	ingestHandler *ingest.Handler,
) *Server {
	e := echo.New()

	s := &Server{
		echo:        e,
		cfg:         cfg,
		dbClient:    dbClient,
		store:       st,
		registry:    reg,
		coordinator: coord,
		cost:        costEngine,
		gateway:     gateway,
		events:      mgr,
		publisher:   publisher,
		webhooks:    webhooks,
		ingest:      ingestHandler,
	}

	e.Use(securityHeaders())
	e.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/api/v1/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")

	v1.POST("/tickets", s.createTicketHandler)
	v1.GET("/tickets/:id", s.getTicketHandler)
	v1.GET("/tickets/:id/tasks", s.listTicketTasksHandler)

	v1.GET("/tasks", s.listTasksHandler)
	v1.POST("/tasks", s.createTaskHandler)
	v1.PATCH("/tasks/:id", s.patchTaskHandler)

	v1.POST("/sandboxes/spawn", s.spawnSandboxHandler)
	v1.GET("/sandboxes/:sandbox_id/events", s.listSandboxEventsHandler)
	v1.POST("/sandboxes/:sandbox_id/events", s.reportSandboxEventHandler)
	v1.POST("/sandboxes/:sandbox_id/messages", s.sendSandboxMessageHandler)

	v1.GET("/agents/:id", s.getAgentHandler)
	v1.GET("/agents", s.searchAgentsHandler)

	v1.GET("/alerts", s.listAlertsHandler)
	v1.POST("/alerts/:id/acknowledge", s.acknowledgeAlertHandler)
	v1.POST("/alerts/:id/resolve", s.resolveAlertHandler)

	v1.POST("/coordination/split", s.splitCoordinationHandler)
	v1.POST("/coordination/join", s.joinCoordinationHandler)

	v1.GET("/commits/:sha", s.getCommitHandler)
	v1.GET("/commits/ticket/:id", s.listTicketCommitsHandler)
	v1.POST("/commits/ticket/:id/link", s.linkTicketCommitHandler)

	v1.POST("/webhooks/vcs", s.webhookHandler)

	v1.GET("/ws/events", s.wsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  s.cfg.API.ReadTimeout,
		WriteTimeout: s.cfg.API.WriteTimeout,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener,
// for tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.dbClient.DB().PingContext(reqCtx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: "unhealthy"})
	}

	stats := s.cfg.Stats()
	return c.JSON(http.StatusOK, &HealthResponse{
		Status: "healthy",
		Configuration: ConfigurationStats{
			WorkerCount:         stats.WorkerCount,
			MaxConcurrentAgents: stats.MaxConcurrentAgents,
			ValidationEnabled:   stats.ValidationEnabled,
		},
	})
}
