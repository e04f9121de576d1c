// Taskpilot server — drives autonomous coding sessions over an LLM backend
// and exposes the HTTP API plus the observer WebSocket feed.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/taskpilot-ai/taskpilot/pkg/analyzer"
	"github.com/taskpilot-ai/taskpilot/pkg/api"
	"github.com/taskpilot-ai/taskpilot/pkg/autopilot"
	"github.com/taskpilot-ai/taskpilot/pkg/backend"
	"github.com/taskpilot-ai/taskpilot/pkg/config"
	"github.com/taskpilot-ai/taskpilot/pkg/coordinator"
	"github.com/taskpilot-ai/taskpilot/pkg/driver"
	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
	"github.com/taskpilot-ai/taskpilot/pkg/journal"
	"github.com/taskpilot-ai/taskpilot/pkg/observer"
	"github.com/taskpilot-ai/taskpilot/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// newBackend builds the configured backend driver.
func newBackend(cfg *config.BackendConfig) (backend.Backend, func() error, error) {
	switch cfg.Driver {
	case config.DriverGRPC:
		// Note: grpc.NewClient uses lazy dialing; the actual connection
		// happens on the first RPC call.
		b, err := backend.NewGRPCBackend(cfg.GRPCTarget)
		if err != nil {
			return nil, nil, err
		}
		b.Model = cfg.Model
		return b, b.Close, nil
	default:
		b := backend.NewCLIBackend(cfg.Command)
		b.Model = cfg.Model
		return b, func() error { return nil }, nil
	}
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting taskpilot",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Open the session journal
	j, err := journal.Open(cfg.Journal.Dir)
	if err != nil {
		slog.Error("Failed to open session journal", "dir", cfg.Journal.Dir, "error", err)
		os.Exit(1)
	}
	slog.Info("Session journal opened", "dir", cfg.Journal.Dir)

	// 3. Build the LLM backend and readiness probe
	b, closeBackend, err := newBackend(cfg.Backend)
	if err != nil {
		slog.Error("Failed to initialize backend", "driver", cfg.Backend.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeBackend(); err != nil {
			slog.Error("Error closing backend", "error", err)
		}
	}()
	probe := backend.NewCachedProbe(b, cfg.Backend.ProbeTTL)
	slog.Info("Backend initialized", "driver", cfg.Backend.Driver)

	// 4. Hook bus and session drivers
	bus := hookbus.New()
	loop := autopilot.New(b, probe, j, bus, analyzer.New(analyzer.Options{}), autopilot.Config{
		MaxConsecutiveErrors: cfg.Loop.MaxConsecutiveErrors,
		ContextTailChars:     cfg.Loop.ContextTailChars,
		PublishVerdicts:      cfg.Loop.PublishVerdicts,
		LogicBackoff:         cfg.Loop.LogicBackoff,
		NetworkBackoff:       cfg.Loop.NetworkBackoff,
		QuotaBackoff:         cfg.Loop.QuotaBackoff,
	})
	coord := coordinator.New(loop, coordinator.Config{
		MaxCycles:              cfg.Dual.MaxCycles,
		QualityGateThreshold:   cfg.Dual.QualityGateThreshold,
		ExecutorBudgetPerCycle: cfg.Dual.ExecutorBudgetPerCycle,
		RetryPerStep:           cfg.Dual.RetryPerStep,
		PlannerModel:           cfg.Dual.PlannerModel,
		ExecutorModel:          cfg.Dual.ExecutorModel,
	})
	d := driver.New(loop, coord)
	slog.Info("Session drivers initialized")

	// 5. Observer pool for live session streaming
	pool, err := observer.NewPool(bus, *cfg.Observer)
	if err != nil {
		slog.Error("Failed to create observer pool", "error", err)
		os.Exit(1)
	}
	pool.Start(ctx)
	slog.Info("Observer pool started", "max_connections", cfg.Observer.MaxConnections)

	// 6. HTTP server
	httpServer := api.NewServer(d, j, probe, pool)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := httpServer.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Taskpilot started successfully")

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop accepting requests, then drain observers.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	pool.Stop()
	slog.Info("Observer pool stopped")

	slog.Info("Shutdown complete")
}
