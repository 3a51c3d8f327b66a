// Package api provides the HTTP surface of the GIF converter: sessions,
// estimates, suggestions, conversions and asynchronous jobs.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amillerrr/gif-pipeline/internal/auth"
	"github.com/amillerrr/gif-pipeline/internal/config"
	"github.com/amillerrr/gif-pipeline/internal/health"
	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/session"
)

// Server configuration constants
const (
	ReadTimeout       = 60 * time.Second
	ReadHeaderTimeout = 10 * time.Second
	WriteTimeout      = 300 * time.Second
	IdleTimeout       = 120 * time.Second
	MaxHeaderBytes    = 1 << 20 // 1 MB
)

// Server represents the HTTP server for the API.
type Server struct {
	httpServer  *http.Server
	cfg         *config.Config
	log         *slog.Logger
	sessions    *session.Store
	rateLimiter *auth.RateLimiter
}

// ServerConfig holds dependencies for the server.
type ServerConfig struct {
	Config        *config.Config
	Logger        *slog.Logger
	Engine        Engine
	Sessions      *session.Store
	JWTService    *auth.JWTService
	RateLimiter   *auth.RateLimiter
	HealthChecker *health.Checker
	Objects       ObjectStorage
	Jobs          JobRepository
	Queue         JobQueue
}

// NewServer creates a new API server.
func NewServer(cfg *ServerConfig) *Server {
	handlers := NewHandlers(&HandlersConfig{
		Config:      cfg.Config,
		Logger:      cfg.Logger,
		Engine:      cfg.Engine,
		Sessions:    cfg.Sessions,
		JWTService:  cfg.JWTService,
		RateLimiter: cfg.RateLimiter,
		Objects:     cfg.Objects,
		Jobs:        cfg.Jobs,
		Queue:       cfg.Queue,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Config.API.Port,
		Handler:           NewRouter(cfg, handlers),
		ReadTimeout:       ReadTimeout,
		ReadHeaderTimeout: ReadHeaderTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
		MaxHeaderBytes:    MaxHeaderBytes,
	}

	return &Server{
		httpServer:  httpServer,
		cfg:         cfg.Config,
		log:         logger.OrDefault(cfg.Logger),
		sessions:    cfg.Sessions,
		rateLimiter: cfg.RateLimiter,
	}
}

// NewRouter registers every route on a new mux.
func NewRouter(cfg *ServerConfig, h *Handlers) http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, handler http.HandlerFunc) {
		mux.Handle(pattern, instrument(pattern, handler))
	}

	// Public endpoints
	if cfg.HealthChecker != nil {
		route("/health", cfg.HealthChecker.Handler())
		route("/health/deep", cfg.HealthChecker.DeepHandler())
	}
	route("/login", h.LoginHandler)
	route("/v1/gif/optimize", h.OptimizeGIFHandler)

	// Protected endpoints
	authMiddleware := cfg.JWTService.Middleware(cfg.RateLimiter)
	route("/v1/session", authMiddleware(h.SessionHandler))
	route("/v1/session/reset", authMiddleware(h.ResetSessionHandler))
	route("/v1/videos", authMiddleware(h.UploadVideoHandler))
	route("/v1/estimate", authMiddleware(h.EstimateHandler))
	route("/v1/suggestions", authMiddleware(h.SuggestionsHandler))
	route("/v1/convert", authMiddleware(h.ConvertHandler))
	route("/v1/jobs/init", authMiddleware(h.InitJobHandler))
	route("/v1/jobs", authMiddleware(h.JobsHandler))
	route("/v1/jobs/{id}", authMiddleware(h.GetJobHandler))

	// Metrics endpoint (internal only)
	mux.Handle("/metrics", internalOnlyMiddleware(promhttp.Handler()))

	return CORSMiddleware(cfg.Config.CORS.AllowedOrigins)(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("Starting API server", "port", s.cfg.API.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and drops every session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down API server...")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	err := s.httpServer.Shutdown(ctx)
	if s.sessions != nil {
		s.sessions.Stop()
	}
	return err
}

// Private networks for internal-only middleware
var privateNetworks = []net.IPNet{
	{IP: net.ParseIP("10.0.0.0"), Mask: net.CIDRMask(8, 32)},
	{IP: net.ParseIP("172.16.0.0"), Mask: net.CIDRMask(12, 32)},
	{IP: net.ParseIP("192.168.0.0"), Mask: net.CIDRMask(16, 32)},
	{IP: net.ParseIP("127.0.0.0"), Mask: net.CIDRMask(8, 32)},
}

// internalOnlyMiddleware restricts access to internal networks.
func internalOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deny if X-Forwarded-For is present (came through load balancer)
		if r.Header.Get("X-Forwarded-For") != "" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if isInternalRequest(r.RemoteAddr) {
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

// isInternalRequest checks if the request is from an internal network.
func isInternalRequest(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return ip.IsLoopback()
}
