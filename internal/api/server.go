// Package api exposes stored snapshots and APR series over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/ingestion"
	"pair-apr-lab/internal/metrics"
	"pair-apr-lab/internal/observability"
	"pair-apr-lab/internal/storage"
)

// Ingester runs one ingestion pass over all tracked pairs.
type Ingester interface {
	RunOnce(ctx context.Context) []ingestion.Result
}

// Options contains configuration for creating a Server.
type Options struct {
	Store    storage.SnapshotStore
	Ingester Ingester        // optional; /api/ingest is not routed when nil
	Feed     gin.HandlerFunc // optional; /ws is not routed when nil

	Logger         logrus.FieldLogger     // Default: logrus.StandardLogger()
	Metrics        *observability.Metrics // Default: observability.DefaultMetrics
	MetricsHandler http.Handler           // Default: observability.Handler()
}

// Server is the HTTP query surface.
type Server struct {
	engine     *gin.Engine
	store      storage.SnapshotStore
	aggregator *metrics.Aggregator
	ingester   Ingester
	logger     logrus.FieldLogger
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.DefaultMetrics
	}
	if opts.MetricsHandler == nil {
		opts.MetricsHandler = observability.Handler()
	}

	s := &Server{
		engine:     gin.New(),
		store:      opts.Store,
		aggregator: metrics.NewAggregator(opts.Store),
		ingester:   opts.Ingester,
		logger:     opts.Logger.WithField("component", "api"),
	}

	s.engine.Use(gin.Recovery(), requestLogger(s.logger, opts.Metrics))

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	if opts.Feed != nil {
		s.engine.GET("/ws", opts.Feed)
	}

	api := s.engine.Group("/api", securityHeaders(), cors())
	api.GET("/metrics", s.handleMetrics)
	api.GET("/pair-metrics", s.handlePairMetrics)
	api.GET("/snapshots", s.handleSnapshots)
	if s.ingester != nil {
		api.GET("/ingest", s.handleIngest)
		api.POST("/ingest", s.handleIngest)
	}
	// Preflight for any /api path
	api.OPTIONS("/*path", func(*gin.Context) {})

	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	if p, ok := s.store.(storage.Pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			s.logger.WithError(err).Warn("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleMetrics serves the time-windowed APR series.
func (s *Server) handleMetrics(c *gin.Context) {
	p, err := parseSeriesParams(c)
	if err != nil {
		s.fail(c, err, "Failed to fetch metrics")
		return
	}

	points, err := s.aggregator.Series(c.Request.Context(), p.pair, p.from, p.to, metrics.HoursWindow(p.ma))
	if err != nil {
		s.fail(c, err, "Failed to fetch metrics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pair": p.pair, "metrics": nonNil(points)})
}

// handlePairMetrics serves the count-windowed APR series.
func (s *Server) handlePairMetrics(c *gin.Context) {
	p, err := parseSeriesParams(c)
	if err != nil {
		s.fail(c, err, "Failed to fetch metrics")
		return
	}

	points, err := s.aggregator.Series(c.Request.Context(), p.pair, p.from, p.to, metrics.CountWindow(p.ma))
	if err != nil {
		s.fail(c, err, "Failed to fetch metrics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": nonNil(points)})
}

// handleSnapshots lists raw snapshots, newest first.
func (s *Server) handleSnapshots(c *gin.Context) {
	p, err := parseListParams(c)
	if err != nil {
		s.fail(c, err, "Failed to fetch snapshots")
		return
	}
	if p.limit == 0 {
		c.JSON(http.StatusOK, []*domain.Snapshot{})
		return
	}

	snapshots, err := s.store.Query(c.Request.Context(), storage.SnapshotQuery{
		PairID: p.pair,
		Limit:  p.limit,
		Offset: p.offset,
		Desc:   true,
	})
	if err != nil {
		s.fail(c, err, "Failed to fetch snapshots")
		return
	}
	if snapshots == nil {
		snapshots = []*domain.Snapshot{}
	}
	c.JSON(http.StatusOK, snapshots)
}

// handleIngest runs one ingestion pass. It fails only when every pair failed.
func (s *Server) handleIngest(c *gin.Context) {
	// Writes finish even if the caller disconnects
	results := s.ingester.RunOnce(context.WithoutCancel(c.Request.Context()))

	ok, failed := ingestion.Summarize(results)
	if ok == 0 && failed > 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ingestion failed", "results": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ingestion completed", "results": results})
}

// fail maps validation errors to 400 with their message and everything else
// to 500 with a generic message.
func (s *Server) fail(c *gin.Context, err error, internalMsg string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": reqErr.msg})
	case errors.Is(err, metrics.ErrInvalidWindow), errors.Is(err, storage.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.WithError(err).WithField("route", c.FullPath()).Error(internalMsg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalMsg})
	}
}

func nonNil(points []domain.AprPoint) []domain.AprPoint {
	if points == nil {
		return []domain.AprPoint{}
	}
	return points
}
