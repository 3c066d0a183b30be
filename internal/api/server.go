// Package api exposes the HTTP surface: screenshot CRUD, semantic
// search and query history. Identity arrives pre-authenticated in the
// X-User-ID header; this service trusts its gateway.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/screenvault/screenvault/internal/config"
	"github.com/screenvault/screenvault/internal/ingest"
	"github.com/screenvault/screenvault/internal/observability"
	"github.com/screenvault/screenvault/internal/search"
)

// Server wires the HTTP router over the ingest coordinator and search
// engine.
type Server struct {
	router *gin.Engine
	srv    *http.Server
	cfg    config.APIConfig
	logger observability.Logger
}

// NewServer builds the router and handlers.
func NewServer(
	cfg config.APIConfig,
	coordinator *ingest.Coordinator,
	engine *search.Engine,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *Server {
	if logger == nil {
		logger = observability.NewLogger("api")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.LogRequests {
		router.Use(RequestLogger(logger))
	}
	if cfg.MaxUploadSize > 0 {
		router.MaxMultipartMemory = cfg.MaxUploadSize
	}

	h := &handlers{
		coordinator:   coordinator,
		engine:        engine,
		logger:        logger,
		metrics:       metrics,
		maxUploadSize: cfg.MaxUploadSize,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	base := router.Group(cfg.BasePath)
	base.Use(RequireUser())
	{
		base.POST("/screenshots", h.submitScreenshot)
		base.GET("/screenshots", h.listScreenshots)
		base.GET("/screenshots/:id", h.getScreenshot)
		base.DELETE("/screenshots/:id", h.deleteScreenshot)
		base.POST("/screenshots/:id/reprocess", h.reprocessScreenshot)
		base.GET("/search", h.search)
		base.GET("/queries", h.queryHistory)
	}

	return &Server{
		router: router,
		cfg:    cfg,
		logger: logger,
		srv: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{
		"address": s.cfg.ListenAddress,
	})
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
