// Package httpapi is Component E: a thin translation from HTTP
// requests/params to Push and Store operations, exposed over a fixed
// URL surface (spec §4.5) under configurable comet/store prefixes.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/calfeld/heron/internal/monitoring"
	"github.com/calfeld/heron/internal/push"
	"github.com/calfeld/heron/internal/store"
)

// Server wires Push and Store onto chi's router.
type Server struct {
	push   *push.Push
	store  *store.Store
	metrics *monitoring.Metrics
	logger zerolog.Logger
	router *chi.Mux
}

// Config configures the HTTP adapter. CometPrefix/StorePrefix default
// to "/comet" and "/dictionary" per spec §6 if left empty.
type Config struct {
	CometPrefix string
	StorePrefix string
	Push        *push.Push
	Store       *store.Store
	Metrics     *monitoring.Metrics
	Logger      zerolog.Logger
}

// New builds a Server and its route table.
func New(cfg Config) *Server {
	cometPrefix := cfg.CometPrefix
	if cometPrefix == "" {
		cometPrefix = "/comet"
	}
	storePrefix := cfg.StorePrefix
	if storePrefix == "" {
		storePrefix = "/dictionary"
	}

	s := &Server{
		push:    cfg.Push,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	s.setupRouter(cometPrefix, storePrefix)
	return s
}

func (s *Server) setupRouter(cometPrefix, storePrefix string) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Route(cometPrefix, func(r chi.Router) {
		r.Get("/connect", s.handleConnect)
		r.Get("/disconnect", s.handleDisconnect)
		r.Get("/receive", s.handleReceive)
		r.Get("/flush", s.handleFlush)
	})

	r.Route(storePrefix, func(r chi.Router) {
		r.Post("/subscribe", s.handleSubscribe)
		r.Post("/messages", s.handleMessages)
	})

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	s.router = r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		next.ServeHTTP(w, r)
	})
}
