// Package server exposes the scheduler over HTTP: JSON endpoints for
// submission and status, a websocket watch stream and Prometheus metrics.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/reelqueue/internal/scheduler"
)

const defaultWatchInterval = time.Second

// Scheduler is the part of the scheduler the API needs.
type Scheduler interface {
	scheduler.Registry
	Submit(req scheduler.SubmitRequest) (string, error)
}

// Options configures a Server.
type Options struct {
	Logger *slog.Logger
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// WatchInterval is how often watch streams push an update.
	WatchInterval time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	sched         Scheduler
	logger        *slog.Logger
	gatherer      prometheus.Gatherer
	watchInterval time.Duration
}

// New creates a server over sched.
func New(sched Scheduler, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = defaultWatchInterval
	}
	return &Server{
		sched:         sched,
		logger:        opts.Logger,
		gatherer:      opts.Gatherer,
		watchInterval: opts.WatchInterval,
	}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/projects", s.handleSubmit)
	mux.HandleFunc("GET /v1/projects", s.handleListProjects)
	mux.HandleFunc("GET /v1/projects/{id}", s.handleProject)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/watch", s.handleWatch)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return LoggingMiddleware(s.logger)(mux)
}

// HTTPServer returns an http.Server serving Handler on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: watch streams stay open.
		IdleTimeout: 120 * time.Second,
	}
}
