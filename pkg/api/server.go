// Package api serves the fabric's HTTP surface: health, a read-only REST
// view of workflows and runs, and the streamable MCP endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mcp-suite/fabric/pkg/database"
	"github.com/mcp-suite/fabric/pkg/mcp"
	"github.com/mcp-suite/fabric/pkg/workflow"
)

// Server is the fabric HTTP server.
type Server struct {
	db     *database.Client
	pool   *mcp.Pool
	store  *workflow.Store
	logger *slog.Logger

	httpServer *http.Server
}

// NewServer creates the HTTP server. mcpHandler serves the streamable MCP
// endpoint and is mounted at /mcp.
func NewServer(port int, db *database.Client, pool *mcp.Pool, store *workflow.Store, mcpHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:     db,
		pool:   pool,
		store:  store,
		logger: logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)
	if mcpHandler != nil {
		router.Any("/mcp", gin.WrapH(mcpHandler))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/workflows", s.listWorkflows)
	v1.GET("/workflows/:id/runs", s.listRuns)
	v1.GET("/workflow-runs/:id", s.getRun)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	servers := make(map[string]any)
	for _, name := range s.pool.RegisteredServers() {
		servers[name] = gin.H{"connected": s.pool.IsConnected(name)}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
		"servers":  servers,
	})
}

func (s *Server) listWorkflows(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	workflows, err := s.store.ListWorkflows(c.Request.Context(), activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

func (s *Server) listRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.store.ListRuns(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, workflow.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}
