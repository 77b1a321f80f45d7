// Package backtesthttp exposes candle jobs, runs and margin tables over HTTP.
package backtesthttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"futuresim/internal/backtest"
	"futuresim/internal/logger"
	"futuresim/internal/margin"

	"github.com/gin-gonic/gin"
)

const (
	defaultAddr     = ":9991"
	shutdownTimeout = 5 * time.Second
)

// Config lists the Server dependencies. Simulator, Results and Margins are
// optional; their routes answer 503 when missing.
type Config struct {
	Addr      string
	Svc       *backtest.Service
	Simulator *backtest.Simulator
	Results   *backtest.ResultStore
	Margins   margin.Provider
}

// Server serves the backtest API.
type Server struct {
	cfg    Config
	router *gin.Engine
}

// NewServer builds the router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Svc == nil {
		return nil, errors.New("backtest http: candle service is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, router: gin.New()}
	s.router.Use(gin.Recovery(), accessLog)
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api/backtest")
	api.POST("/fetch", s.submitFetch)
	api.GET("/fetch/:id", s.fetchStatus)
	api.GET("/jobs", s.listJobs)
	api.GET("/data", s.manifest)
	api.GET("/candles", s.candles)

	runs := api.Group("/runs", s.require(s.cfg.Results != nil, "result store disabled"))
	runs.POST("", s.require(s.cfg.Simulator != nil, "simulator disabled"), s.startRun)
	runs.GET("", s.listRuns)
	runs.GET("/:id", s.runDetail)
	runs.GET("/:id/fills", s.runFills)
	runs.GET("/:id/snapshots", s.runSnapshots)

	api.GET("/margin/:pair", s.require(s.cfg.Margins != nil, "margin tables disabled"), s.marginTable)
}

// require aborts with 503 when an optional dependency is not wired.
func (s *Server) require(ok bool, reason string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ok {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": reason})
		}
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	failed := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()
	logger.Infof("[http] backtest api listening on %s", s.cfg.Addr)

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(stopCtx); err != nil {
		logger.Warnf("[http] shutdown: %v", err)
	}
	return nil
}

func accessLog(c *gin.Context) {
	began := time.Now()
	c.Next()
	logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
		c.Request.Method, c.Request.URL.RequestURI(), c.Writer.Status(), c.ClientIP(), time.Since(began))
}

func fail(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
