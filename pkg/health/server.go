// Package health serves the per-worker operational endpoints: a liveness
// probe backed by a database ping and the Prometheus metrics scrape.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civicgrid/grievance-pipeline/pkg/version"
)

// Pinger is the database surface the health probe needs.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Server exposes /healthz and /metrics for one worker process.
type Server struct {
	worker string
	db     Pinger
	http   *http.Server
	logger *slog.Logger
}

// NewServer creates the health server for the named worker.
func NewServer(worker string, db Pinger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		worker: worker,
		db:     db,
		logger: slog.With("component", "health_server", "worker", worker),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", s.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.http = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"worker":  s.worker,
			"version": version.Full(),
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"worker":  s.worker,
		"version": version.Full(),
	})
}

// Start serves on addr until Shutdown. Blocks; run it in a goroutine.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.logger.Info("Health server listening", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
