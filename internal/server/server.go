package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/username/session-planner/internal/draft"
	"github.com/username/session-planner/internal/planner"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPurgeInterval = time.Hour
	shutdownTimeout      = 10 * time.Second
)

// Config represents the HTTP server configuration
type Config struct {
	Addr          string
	EnableCORS    bool
	Origins       []string // empty means any origin
	Debug         bool
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	PurgeInterval time.Duration
	Planning      planner.Options // defaults for fields the form leaves out
}

// Server serves the recurrence, duplication and draft API
type Server struct {
	planner       *planner.Planner
	drafts        *draft.Manager
	defaults      planner.Options
	metrics       *Metrics
	engine        *gin.Engine
	httpServer    *http.Server
	purgeInterval time.Duration
	logger        *zap.Logger
	startTime     time.Time

	mu           sync.Mutex // protects purgeRunning
	purgeRunning bool
}

// NewServer creates the HTTP server. Metrics are registered on reg and served from it.
func NewServer(cfg Config, p *planner.Planner, drafts *draft.Manager, reg *prometheus.Registry, logger *zap.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = defaultPurgeInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		planner:       p,
		drafts:        drafts,
		defaults:      cfg.Planning,
		metrics:       MustNewMetrics(reg),
		purgeInterval: cfg.PurgeInterval,
		logger:        logger,
		startTime:     time.Now(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestLogger())

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		if len(cfg.Origins) > 0 {
			corsConfig.AllowOrigins = cfg.Origins
		} else {
			corsConfig.AllowAllOrigins = true
		}
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		engine.Use(cors.New(corsConfig))
	}

	s.engine = engine
	s.routes(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *Server) routes(metricsHandler http.Handler) {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metricsHandler))

	api := s.engine.Group("/api/v1")

	rec := api.Group("/recurrence")
	rec.POST("/validate", s.handleValidate)
	rec.POST("/preview", s.handlePreview)
	rec.POST("/describe", s.handleDescribe)
	rec.POST("/export", s.handleExport)

	api.POST("/sessions/:id/duplicate", s.handleDuplicate)

	cal := api.Group("/calendar")
	cal.GET("/days/:date", s.handleDayInfo)
	cal.DELETE("/cache", s.handleClearCalendarCache)

	drafts := api.Group("/drafts")
	drafts.GET("", s.handleListDrafts)
	drafts.GET("/:key", s.handleGetDraft)
	drafts.PUT("/:key", s.handleSaveDraft)
	drafts.DELETE("/:key", s.handleDeleteDraft)
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// requestLogger logs every request with zap and records its duration
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		s.metrics.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), elapsed)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if status >= http.StatusInternalServerError {
			s.logger.Error("Request failed", fields...)
			return
		}
		s.logger.Debug("Request served", fields...)
	}
}

// Run serves HTTP and purges expired drafts until ctx is done or SIGINT/SIGTERM is received
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			s.logger.Info("Received signal, shutting down",
				zap.String("signal", sig.String()))
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		s.logger.Info("HTTP server stopped")
		return nil
	})

	g.Go(func() error {
		s.purgeLoop(gctx)
		return nil
	})

	return g.Wait()
}

// purgeLoop periodically deletes expired drafts
func (s *Server) purgeLoop(ctx context.Context) {
	s.logger.Info("Draft purge loop started",
		zap.Duration("interval", s.purgeInterval))

	s.PurgeNow(ctx)

	ticker := time.NewTicker(s.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Draft purge loop stopped")
			return
		case <-ticker.C:
			s.PurgeNow(ctx)
		}
	}
}

// PurgeNow deletes expired drafts unless a purge is already running
func (s *Server) PurgeNow(ctx context.Context) int64 {
	s.mu.Lock()
	if s.purgeRunning {
		s.mu.Unlock()
		s.logger.Warn("Draft purge already running, skipping")
		return 0
	}
	s.purgeRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.purgeRunning = false
		s.mu.Unlock()
	}()

	n, err := s.drafts.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("Failed to purge drafts", zap.Error(err))
		return 0
	}
	s.metrics.AddDraftsPurged(n)
	return n
}
