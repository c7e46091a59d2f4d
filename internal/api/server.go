// Package api exposes the scorer and the account tracker over HTTP/JSON.
//
// Callers identify themselves with the X-User-ID header; authentication is
// delegated to whatever sits in front of the service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"bot-scorer/internal/metrics"
	"bot-scorer/internal/ml"
	"bot-scorer/internal/tracker"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	UserHeader      = "X-User-ID"
	RequestIDHeader = "X-Request-ID"

	requestTimeout = 30 * time.Second
)

// Server serves the HTTP API.
type Server struct {
	svc      *tracker.Service
	model    ml.Info
	feed     http.Handler
	metrics  *metrics.Metrics
	recorder *metrics.MetricsWrapper
	gatherer prometheus.Gatherer
	router   *mux.Router
	server   *http.Server
}

type Option func(*Server)

// WithFeed mounts h at /ws.
func WithFeed(h http.Handler) Option { return func(s *Server) { s.feed = h } }

// WithMetrics records request and error counts and serves gatherer at /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.recorder = metrics.NewWrapper(m)
		s.gatherer = gatherer
	}
}

// NewServer creates the API server listening on addr.
func NewServer(addr string, svc *tracker.Service, model ml.Info, opts ...Option) *Server {
	s := &Server{svc: svc, model: model}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.observe)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/model/info", s.handleModelInfo).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if s.feed != nil {
		r.Handle("/ws", s.feed).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/score", s.handleScore).Methods(http.MethodPost)
	api.HandleFunc("/snapshots/single", s.handleLookup).Methods(http.MethodGet)

	user := api.NewRoute().Subrouter()
	user.Use(requireUser)
	user.HandleFunc("/accounts", s.handleListAccounts).Methods(http.MethodGet)
	user.HandleFunc("/accounts", s.handleTrack).Methods(http.MethodPost)
	user.HandleFunc("/accounts/{id:[0-9]+}", s.handleUntrack).Methods(http.MethodDelete)
	user.HandleFunc("/accounts/{id:[0-9]+}/snapshots", s.handleSnapshots).Methods(http.MethodGet)
	user.HandleFunc("/snapshots/{id:[0-9]+}", s.handleSnapshot).Methods(http.MethodGet)
	user.HandleFunc("/snapshots/{id:[0-9]+}/change", s.handleChange).Methods(http.MethodGet)
	user.HandleFunc("/users/me", s.handleRemoveUser).Methods(http.MethodDelete)

	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
