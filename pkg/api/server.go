// Package api serves the gateway over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pario-ai/querygate/pkg/config"
	"github.com/pario-ai/querygate/pkg/gateway"
	"github.com/pario-ai/querygate/pkg/logging"
	"github.com/pario-ai/querygate/pkg/policy"
)

// Options configures a Server.
type Options struct {
	Listen string
	Admin  config.AdminConfig
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is the querygate HTTP API.
type Server struct {
	gw     *gateway.Gateway
	listen string
	auth   *authenticator
	logger *zap.Logger
	engine *gin.Engine
	// overrides is shared by every request served by this process.
	overrides *policy.OverrideScope
}

// New creates a Server backed by gw.
func New(gw *gateway.Gateway, opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		gw:        gw,
		listen:    opts.Listen,
		auth:      newAuthenticator(opts.Admin),
		logger:    logging.OrNop(opts.Logger).Named("api"),
		engine:    gin.New(),
		overrides: policy.NewOverrideScope(),
	}

	s.engine.Use(gin.Recovery(), s.requestLogger(), s.withOverrides())
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/v1")
	v1.POST("/query", s.handleQuery)
	v1.GET("/cost/status", s.handleStatus)
	v1.GET("/cost/history", s.handleHistory)
	v1.GET("/cost/forecast", s.handleForecast)
	v1.GET("/cost/export", s.handleExport)
	v1.GET("/alerts", s.handleAlerts)
	v1.GET("/cache/stats", s.handleCacheStats)

	admin := v1.Group("", s.auth.middleware())
	admin.POST("/cost/reset", s.handleReset)
	admin.DELETE("/cost/override", s.handleClearOverride)
	admin.DELETE("/cache", s.handleClearCache)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// ListenAndServe starts the API server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("querygate listening", zap.String("addr", s.listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) withOverrides() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(policy.WithOverride(c.Request.Context(), s.overrides))
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
