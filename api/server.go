// Package api serves a Sequence over HTTP.
//
// Routes:
//
//	GET  /health              liveness
//	GET  /readiness           503 while the worker is not running
//	GET  /metrics             Prometheus scrape endpoint
//	GET  /v1/sequence?k=N     last N elements (default: history window)
//	GET  /v1/sequence/last    last element
//	POST /v1/sequence/next    submit the tail to the worker (rate limited)
//	POST /v1/sequence/reset   reset to the initial element
//	GET  /v1/stats            sequence, mailbox, worker and notifier stats
//	GET  /v1/stream           websocket, one JSON event per append
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/e7canasta/antiprimes"
	"github.com/e7canasta/antiprimes/config"
	"github.com/e7canasta/antiprimes/telemetry"
)

// Options configures a Server.
type Options struct {
	Server config.ServerConfig

	// HistoryWindow is the default k for GET /v1/sequence.
	HistoryWindow int

	// SubscriberBuffer is the event channel capacity per websocket session.
	SubscriberBuffer int

	// ServiceName names the server in traces.
	ServiceName string
}

// Server exposes a Sequence over HTTP and websocket.
type Server struct {
	seq     antiprimes.Sequence
	opts    Options
	limiter *rate.Limiter
	router  *gin.Engine
}

// NewServer builds the router. Call Run to listen, or use Handler directly.
func NewServer(seq antiprimes.Sequence, opts Options) *Server {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "antiprimes"
	}
	if opts.Server.ShutdownTimeout <= 0 {
		opts.Server.ShutdownTimeout = 5 * time.Second
	}

	limit, burst := computeLimit(opts.Server.ComputeRate, opts.Server.ComputeBurst)

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(opts.ServiceName), requestLogger())

	s := &Server{
		seq:     seq,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		router:  router,
	}
	s.routes()

	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/readiness", s.readiness)
	s.router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := s.router.Group("/v1")
	{
		seq := v1.Group("/sequence")
		{
			seq.GET("", s.listSequence)
			seq.GET("/last", s.lastElement)
			seq.POST("/next", s.computeNext)
			seq.POST("/reset", s.reset)
		}
		v1.GET("/stats", s.stats)
		v1.GET("/stream", s.stream)
	}
}

// SetComputeRate changes the POST /v1/sequence/next rate limit in place.
func (s *Server) SetComputeRate(perSecond float64, burst int) {
	limit, b := computeLimit(perSecond, burst)
	s.limiter.SetLimit(limit)
	s.limiter.SetBurst(b)

	slog.Info("compute rate limit updated", "component", "api", "rate", perSecond, "burst", b)
}

// computeLimit maps config values to limiter settings; a non-positive rate
// disables limiting.
func computeLimit(perSecond float64, burst int) (rate.Limit, int) {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return limit, burst
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address until ctx is done, then shuts down
// gracefully within the configured timeout.
//
// Request contexts derive from ctx, so open websocket streams end with it.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "component", "api", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("http server shutting down", "component", "api")
	return srv.Shutdown(shutdownCtx)
}

// requestLogger logs one line per request at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.Debug("http request",
			"component", "api",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
