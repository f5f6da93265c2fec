// Package httpapi exposes the read-side HTTP surface: health and readiness
// probes, Prometheus metrics, and the dashboard's JSON API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/KhaiMinhVo/rainvision-backend/internal/domain"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Repository is the read-side store surface the API serves from.
type Repository interface {
	Jobs(ctx context.Context, status string, limit, offset int) ([]domain.ScanJob, int64, error)
	Job(ctx context.Context, jobID uuid.UUID) (*domain.ScanJob, error)
	Cameras(ctx context.Context) ([]domain.Camera, error)
	LatestObservation(ctx context.Context, cameraID string) (*domain.ObservationLog, error)
}

// Server is the HTTP front of the service.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	repo       Repository
}

// NewServer builds the router and wraps it in an http.Server. imageDir may be
// empty when no local image store is configured.
func NewServer(addr string, repo Repository, ready ReadinessChecker, imageDir string, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
		repo:   repo,
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/readyz", handleReady(ready))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.GET("/jobs", s.handleJobs)
	api.GET("/jobs/:id", s.handleJob)
	api.GET("/cameras", s.handleCameras)
	api.GET("/cameras/:id/latest", s.handleLatestObservation)

	if imageDir != "" {
		router.Static("/images", imageDir)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the router, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func (s *Server) handleJobs(c *gin.Context) {
	limit := intQuery(c, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := intQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.repo.Jobs(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		s.logger.Error("list jobs failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list scan jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := s.repo.Job(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("load job failed", "job_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scan job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCameras(c *gin.Context) {
	cameras, err := s.repo.Cameras(c.Request.Context())
	if err != nil {
		s.logger.Error("list cameras failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list cameras"})
		return
	}
	c.JSON(http.StatusOK, cameras)
}

func (s *Server) handleLatestObservation(c *gin.Context) {
	obs, err := s.repo.LatestObservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("load latest observation failed", "camera_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load observation"})
		return
	}
	if obs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no observations for camera"})
		return
	}
	c.JSON(http.StatusOK, obs)
}

func intQuery(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
