// Command conductor is the control-plane server: it wires the task
// queue, agent registry, cost engine, sandbox/LLM clients, validator
// pipeline, coordination/synthesis, the monitoring loop, the retention
// cleanup sweep, and the HTTP/WebSocket API into one process and runs
// until SIGTERM/SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/r3e-conductor/conductor/pkg/api"
	"github.com/r3e-conductor/conductor/pkg/cleanup"
	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/coordination"
	"github.com/r3e-conductor/conductor/pkg/cost"
	"github.com/r3e-conductor/conductor/pkg/database"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/guardian"
	"github.com/r3e-conductor/conductor/pkg/ingest"
	"github.com/r3e-conductor/conductor/pkg/llm"
	"github.com/r3e-conductor/conductor/pkg/orchestrator"
	"github.com/r3e-conductor/conductor/pkg/registry"
	"github.com/r3e-conductor/conductor/pkg/sandbox"
	"github.com/r3e-conductor/conductor/pkg/store"
	"github.com/r3e-conductor/conductor/pkg/trajectory"
	"github.com/r3e-conductor/conductor/pkg/validator"
	"github.com/r3e-conductor/conductor/pkg/webhook"
)

// trajectoryCacheTTL bounds how long an assembled trajectory.Context
// is reused across repeated Guardian/Conductor reads before being
// recomputed from the underlying reasoning events.
const trajectoryCacheTTL = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	if err := run(); err != nil {
		slog.Error("conductor exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded, continuing with existing environment", "path", envPath, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	configPath := getEnv("CONFIG_FILE", filepath.Join(*configDir, "conductor.yaml"))
	if _, err := os.Stat(configPath); err != nil {
		configPath = ""
	}
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database", "database", cfg.Database.Database)

	st := store.New(dbClient)
	publisher := events.NewPublisher(dbClient.DB())

	eventsManager := events.NewManager(st, 5*time.Second)
	listener := events.NewListener(cfg.Database.DSN(), eventsManager)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("start event listener: %w", err)
	}
	eventsManager.SetListener(listener)
	defer listener.Stop(context.Background())

	agents := registry.New(st, publisher)
	pricing := cost.DefaultPricingTable()
	costs := cost.New(st, pricing, publisher)

	gateway := newSandboxGateway(cfg.Sandbox)
	llmClient := newLLMClient(cfg.LLM)

	coordinator := coordination.NewService(st, publisher)
	synthesis := coordination.NewSynthesisService(st, coordinator, publisher)
	synthesis.Attach(listener)
	if err := listener.Subscribe(ctx, events.GlobalChannel); err != nil {
		return fmt.Errorf("listen on %s: %w", events.GlobalChannel, err)
	}

	validators := validator.New(st, publisher, cfg.Validator)

	trajectoryProvider := trajectory.NewProvider(st, trajectoryCacheTTL)
	guardianAnalyzer := guardian.NewAnalyzer(st, trajectoryProvider, llmClient, publisher, cfg.LLM.Model)
	conductorAnalyzer := guardian.NewConductorAnalyzer(st, trajectoryProvider, llmClient, publisher, cfg.LLM.Model, cfg.Monitoring.DuplicateSimilarityThreshold)
	monitoringLoop := guardian.NewLoop(guardianAnalyzer, conductorAnalyzer, st, agents, publisher, cfg.Monitoring)
	monitoringLoop.Start(ctx)
	defer monitoringLoop.Stop(context.Background())

	cleanupService := cleanup.New(st, cfg.Retention)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	pool := newOrchestratorPool(cfg, st, agents, gateway, llmClient, costs, publisher)
	pool.Start(ctx)
	defer pool.Stop()

	ingestHandler := ingest.New(st, agents, costs, validators, publisher, cfg.LLM.Model)
	webhooks := webhook.New(st, publisher)

	server := api.NewServer(cfg, dbClient, st, agents, coordinator, costs, gateway, eventsManager, publisher, webhooks, ingestHandler)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP API server", "addr", cfg.API.ListenAddr)
		if err := server.Start(cfg.API.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down HTTP server", "error", err)
	}

	return nil
}

// newSandboxGateway picks the real HTTP-backed sandbox gateway unless
// no gateway URL is configured, in which case it falls back to the
// in-memory fake so the process can still run end to end (e.g. a
// Legacy-only deployment that never spawns sandboxes).
func newSandboxGateway(cfg *config.SandboxConfig) sandbox.Gateway {
	if cfg.GatewayURL == "" {
		slog.Warn("no sandbox gateway URL configured, using in-memory fake gateway")
		return sandbox.NewFakeGateway()
	}
	return sandbox.NewHTTPGateway(cfg.GatewayURL, cfg.RequestTimeout)
}

// newLLMClient picks the real HTTP-backed LLM client unless no
// provider base URL is configured, in which case it falls back to a
// fake client that never calls out (spec §4.16: LLM.BaseURL unset
// means no provider is configured and the analyzers degrade rather
// than fail startup).
func newLLMClient(cfg *config.LLMConfig) llm.Client {
	if cfg.BaseURL == "" {
		slog.Warn("no LLM provider configured, using degraded fake client")
		return llm.NewFakeClient()
	}
	return llm.NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout)
}

// newOrchestratorPool assembles one Worker per configured
// worker_count, all operating in the same configured execution mode
// across every phase (phase="" leaves GetNextTask/SearchAgents
// unfiltered, since task phases are free-form tags rather than a
// fixed enumeration), plus the Idle Sandbox Monitor when running in
// Sandbox mode and the timeout Reaper in every mode.
func newOrchestratorPool(
	cfg *config.Config,
	st *store.Store,
	agents *registry.Registry,
	gateway sandbox.Gateway,
	llmClient llm.Client,
	costs *cost.Engine,
	publisher *events.Publisher,
) *orchestrator.Pool {
	mode := orchestrator.ExecutionMode(cfg.Queue.ExecutionMode)

	deps := orchestrator.WorkerDeps{
		Tasks:      st,
		Agents:     agents,
		Gateway:    gateway,
		LLMClient:  llmClient,
		Costs:      costs,
		Publisher:  publisher,
		QueueCfg:   cfg.Queue,
		SandboxCfg: cfg.Sandbox,
		DefaultTpl: orchestrator.AgentTemplate{
			AgentType:    "implementer",
			Capabilities: nil,
			Capacity:     1,
			Runtime:      "default",
		},
		ValidatorTpl: orchestrator.AgentTemplate{
			AgentType:    "validator",
			Capabilities: []string{"validate"},
			Capacity:     1,
			Runtime:      "default",
		},
		LLMModel: cfg.LLM.Model,
	}

	workers := make([]*orchestrator.Worker, 0, cfg.Queue.WorkerCount)
	for i := 0; i < cfg.Queue.WorkerCount; i++ {
		id := fmt.Sprintf("orchestrator-worker-%d", i)
		workers = append(workers, orchestrator.NewWorker(id, "", mode, deps))
	}

	var idleMonitor *orchestrator.IdleMonitor
	if mode == orchestrator.ModeSandbox {
		idleMonitor = orchestrator.NewIdleMonitor(st, gateway, publisher, cfg.Monitoring)
	}

	reaper := orchestrator.NewReaperFromConfig(st, cfg.Queue, publisher)

	return orchestrator.NewPool(workers, idleMonitor, reaper)
}
