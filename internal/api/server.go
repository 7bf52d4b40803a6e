// Package api exposes ingestion, reconciliation and reporting over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"settlement-reconciler/internal/ingest"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/pkg/logger"
)

// Config holds HTTP settings. RateLimit is in requests per second across all
// clients; zero turns throttling off.
type Config struct {
	Addr            string
	CORSOrigins     []string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
	RateLimit       float64
	RateBurst       int
}

// DefaultConfig returns settings for local use.
func DefaultConfig() Config {
	return Config{
		Addr:            ":3001",
		MaxUploadBytes:  ingest.DefaultMaxUploadBytes,
		ShutdownTimeout: 15 * time.Second,
		RateLimit:       10,
		RateBurst:       30,
	}
}

// Server wires the HTTP handlers to the domain services.
type Server struct {
	cfg        Config
	store      store.Store
	ingest     *ingest.Service
	engine     *reconciler.Engine
	aggregator *reconciler.Aggregator
	logger     logger.Logger
	clock      func() time.Time
}

// NewServer creates a Server. The services must share st.
func NewServer(cfg Config, st store.Store, ing *ingest.Service, engine *reconciler.Engine, agg *reconciler.Aggregator, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = ingest.DefaultMaxUploadBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	registerValidators()
	return &Server{
		cfg:        cfg,
		store:      st,
		ingest:     ing,
		engine:     engine,
		aggregator: agg,
		logger:     log.WithComponent("api"),
		clock:      time.Now,
	}
}

// Router builds the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = 32 << 20

	r.Use(correlationID())
	r.Use(cors.New(s.corsConfig()))
	r.Use(requestLogger(s.logger))
	r.Use(gin.Recovery())
	if s.cfg.RateLimit > 0 {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)))
	}

	api := r.Group("/api")
	api.GET("/health", s.health)

	api.GET("/upload/status", s.uploadStatus)
	api.POST("/upload/:type", s.upload)

	api.POST("/reconcile", s.reconcile)
	api.GET("/summary", s.summary)
	api.GET("/reconciliation-table", s.reconciliationTable)
	api.GET("/periods", s.periods)
	api.GET("/export/excel", s.exportExcel)

	api.DELETE("/clear", s.clearAll)
	api.DELETE("/clear/staging", s.clearStaging)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	origins := make([]string, 0, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AddAllowMethods("GET", "POST", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", correlationHeader)
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition", correlationHeader)
	return cfg
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.cfg.Addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
