// Package api exposes the batch trigger over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-promos/models"
)

const allowHeaders = "authorization, x-client-info, apikey, content-type"

// BatchRunner runs one scrape batch.
type BatchRunner interface {
	Run(ctx context.Context) (*models.BatchReport, error)
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	*models.BatchReport
}

// Server serves the scrape trigger. Batches never overlap: a trigger that
// arrives during a run waits for it to finish.
type Server struct {
	runner   BatchRunner
	registry *prometheus.Registry
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewServer builds a Server. registry may be nil to disable /metrics.
func NewServer(runner BatchRunner, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{runner: runner, registry: registry, logger: logger}
}

// Router returns the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(CORSMiddleware())

	router.GET("/health", s.health)
	router.POST("/scrape", s.scrape)
	if s.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
	return router
}

// CORSMiddleware allows any origin and answers preflight requests.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) scrape(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.runner.Run(c.Request.Context())
	if err != nil {
		s.logger.Error("batch failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, scrapeResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, scrapeResponse{Success: true, Message: "Scraping completed", BatchReport: report})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
