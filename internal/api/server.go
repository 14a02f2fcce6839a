package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/ephemera/internal/auth"
	"github.com/org/ephemera/pkg/models"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	// BaseURL prefixes the links returned to senders.
	BaseURL string
}

// MessageService is the relay as seen by the HTTP layer.
type MessageService interface {
	Send(ctx context.Context, plaintext []byte, views int) (string, error)
	Receive(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Pending(ctx context.Context) (int64, error)
	MaxMessageBytes() int
	DefaultViews() int
	MaxViews() int
}

// AuditLogger is the interface the server needs from an audit logger.
type AuditLogger interface {
	LogRequest(ctx context.Context, entry *models.AuditEntry)
}

// Server is the API server.
type Server struct {
	relay   MessageService
	admin   *auth.AdminGuard
	auditor AuditLogger
	cfg     Config
	httpSrv *http.Server
}

// NewServer creates a Server around an already wired relay.
func NewServer(relay MessageService, admin *auth.AdminGuard, auditor AuditLogger, cfg Config) *Server {
	return &Server{
		relay:   relay,
		admin:   admin,
		auditor: auditor,
		cfg:     cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(auditMiddleware(s.auditor))

	r.Handle("/metrics", MetricsHandler())
	r.Get("/v1/sys/health", s.HealthHandler)

	r.Route("/v1/messages", func(r chi.Router) {
		r.Post("/", s.SendHandler)
		r.Get("/{id}", s.ReceiveHandler)
		r.With(adminMiddleware(s.admin)).Delete("/{id}", s.DeleteHandler)
	})

	// Plain send/receive routes for older clients.
	r.Post("/send", s.LegacySendHandler)
	r.Get("/receive/{id}", s.LegacyReceiveHandler)

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
