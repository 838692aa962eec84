package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/caption-engine/internal/config"
	"github.com/snarg/caption-engine/internal/metrics"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions holds the collaborators the HTTP surface is built from.
type ServerOptions struct {
	Config       *config.Config
	Pipeline     Transcriber
	Availability AvailabilitySource
	Stats        StatsSource
	Version      string
	StartTime    time.Time
	Log          zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	r := NewRouter(opts)
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// NewRouter builds the routes without binding a listener.
func NewRouter(opts ServerOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)

	health := NewHealthHandler(opts.Availability, opts.Stats, opts.Version, opts.StartTime)
	r.Get("/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	var maxUpload int64
	if opts.Config != nil {
		maxUpload = opts.Config.MaxUploadBytes()
	}
	NewTranscribeHandler(opts.Pipeline, maxUpload, opts.Log).Routes(r)

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
