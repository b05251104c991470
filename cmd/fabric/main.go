// Fabric orchestrator server — hosts the event bus, the workflow engine,
// the aggregator tools, and the HTTP/MCP surface of the suite.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-suite/fabric/pkg/aggregate"
	"github.com/mcp-suite/fabric/pkg/api"
	"github.com/mcp-suite/fabric/pkg/bus"
	"github.com/mcp-suite/fabric/pkg/config"
	"github.com/mcp-suite/fabric/pkg/database"
	"github.com/mcp-suite/fabric/pkg/dispatch"
	"github.com/mcp-suite/fabric/pkg/mcp"
	"github.com/mcp-suite/fabric/pkg/version"
	"github.com/mcp-suite/fabric/pkg/workflow"
)

func main() {
	stdio := flag.Bool("stdio", false,
		"Serve the MCP surface over stdio instead of starting the HTTP server")
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	slog.Info("Starting fabric", "version", version.Full())

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbClient, err := database.NewClient(ctx, database.Config{Path: cfg.DBPath})
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "path", cfg.DBPath)

	// 3. Event bus with the fabric event catalog
	registry := bus.NewRegistry()
	workflow.RegisterFabricEvents(registry)
	eventBus := bus.New(registry)

	// 4. Client pool over the peer inventory
	pool := mcp.NewPool()
	entries, err := config.LoadServers(cfg.ServersFile)
	if err != nil {
		slog.Warn("No peer inventory loaded, starting without peers",
			"path", cfg.ServersFile, "error", err)
	} else if err := pool.RegisterMany(entries); err != nil {
		slog.Error("Failed to register peer servers", "error", err)
		os.Exit(1)
	}
	slog.Info("Peer servers registered", "servers", pool.RegisteredServers())

	// 5. Workflow engine
	store := workflow.NewStore(dbClient.DB())
	engine := workflow.NewEngine(store, pool, eventBus)
	if err := engine.Start(ctx); err != nil {
		slog.Error("Failed to start workflow engine", "error", err)
		os.Exit(1)
	}

	// 6. Aggregator
	cache := aggregate.NewCache(dbClient.DB())
	aggregator := aggregate.NewAggregator(cache)

	// 7. MCP surface
	dispatcher := dispatch.New("fabric", eventBus)
	workflow.RegisterTools(dispatcher, store, engine)
	aggregate.RegisterTools(dispatcher, aggregator, pool)

	if *stdio {
		// Stdio mode: serve MCP on stdin/stdout, no HTTP. Blocks until the
		// client closes the pipe.
		err := dispatcher.Run(ctx, &mcpsdk.StdioTransport{})
		engine.Stop()
		if derr := pool.DisconnectAll(); derr != nil {
			slog.Error("Error disconnecting peers", "error", derr)
		}
		if err != nil {
			slog.Error("MCP stdio server error", "error", err)
			os.Exit(1)
		}
		return
	}

	mcpHandler := mcpsdk.NewStreamableHTTPHandler(
		func(*http.Request) *mcpsdk.Server { return dispatcher.Server() }, nil)

	// 8. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg.HTTPPort, dbClient, pool, store, mcpHandler, slog.Default())
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Fabric started", "http_port", cfg.HTTPPort)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: engine first so runs record terminal state,
	// then peers, then the HTTP listener.
	engineDone := make(chan struct{})
	go func() {
		engine.Stop()
		close(engineDone)
	}()
	select {
	case <-engineDone:
		slog.Info("Workflow engine stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Workflow engine shutdown timeout exceeded")
	}

	if err := pool.DisconnectAll(); err != nil {
		slog.Error("Error disconnecting peers", "error", err)
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
