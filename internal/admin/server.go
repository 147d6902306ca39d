package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/patrol/internal/admin/api"
	"github.com/rs/zerolog"
)

// Config holds the admin server configuration.
type Config struct {
	ListenAddr string
	// Token is the bearer token required on /api routes. Empty disables
	// authentication.
	Token           string
	RateLimit       int
	RateLimitWindow time.Duration
}

// Server represents the admin HTTP server.
type Server struct {
	config      Config
	tracker     api.Tracker
	rateLimiter *RateLimiter
	server      *http.Server
	mux         *http.ServeMux
	listener    net.Listener
	logger      zerolog.Logger
}

// NewServer creates a new admin server.
func NewServer(cfg Config, tracker api.Tracker, logger zerolog.Logger) *Server {
	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 100 // Default: 100 requests per minute
	}
	rateLimitWindow := cfg.RateLimitWindow
	if rateLimitWindow == 0 {
		rateLimitWindow = time.Minute
	}

	s := &Server{
		config:      cfg,
		tracker:     tracker,
		rateLimiter: NewRateLimiter(rateLimit, rateLimitWindow),
		mux:         http.NewServeMux(),
		logger:      logger.With().Str("component", "admin").Logger(),
	}

	s.setupRoutes()

	var handler http.Handler = s.mux
	handler = RateLimitMiddleware(s.rateLimiter)(handler)
	handler = LoggingMiddleware(s.logger)(handler)

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	auth := TokenMiddleware(s.config.Token)
	route := func(pattern string, h http.HandlerFunc) {
		s.mux.Handle(pattern, auth(h))
	}

	presence := api.NewPresenceHandler(s.tracker, s.logger)
	route("GET /api/guilds", presence.ListGuilds)
	route("GET /api/guilds/{guild}/active", presence.Active)
	route("GET /api/guilds/{guild}/leaderboard", presence.Leaderboard)
	route("GET /api/guilds/{guild}/users/{user}/total", presence.AllTimeTotal)
	route("GET /api/guilds/{guild}/users/{user}/months/{year}/{month}", presence.MonthTotal)
	route("POST /api/guilds/{guild}/users/{user}/adjust", presence.Adjust)

	// Pause control
	route("GET /api/guilds/{guild}/pause", presence.PauseState)
	route("POST /api/guilds/{guild}/pause", presence.PauseGuild)
	route("POST /api/guilds/{guild}/unpause", presence.UnpauseGuild)
	route("POST /api/guilds/{guild}/users/{user}/pause", presence.PauseUser)
	route("POST /api/guilds/{guild}/users/{user}/unpause", presence.UnpauseUser)

	// Resets
	route("POST /api/guilds/{guild}/reset", presence.ResetGuild)
	route("POST /api/guilds/{guild}/users/{user}/reset", presence.ResetUser)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the admin HTTP server.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.config.ListenAddr).
		Bool("auth", s.config.Token != "").
		Msg("Starting admin server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated admin listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Admin server error")
		}
	}()

	return nil
}

// Stop gracefully stops the admin HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping admin server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}
