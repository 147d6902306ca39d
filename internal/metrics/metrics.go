package metrics

import (
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tracking metrics
	TrackedSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "patrol_tracked_sessions",
			Help: "Number of sessions currently being timed",
		},
		[]string{"guild"},
	)

	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patrol_transitions_total",
			Help: "Presence transitions processed, by outcome",
		},
		[]string{"outcome"},
	)

	SessionsDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patrol_sessions_discarded_total",
			Help: "Finalized sessions that were not credited",
		},
		[]string{"reason"},
	)

	// Accrual metrics
	AccruedSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patrol_accrued_seconds_total",
			Help: "Total presence seconds credited to durable totals",
		},
		[]string{"guild"},
	)

	// Storage metrics
	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patrol_storage_errors_total",
			Help: "Failed storage operations",
		},
		[]string{"operation"},
	)

	// Gateway metrics
	GatewayEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patrol_gateway_events_total",
			Help: "Gateway events received",
		},
		[]string{"type"},
	)

	GatewayQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "patrol_gateway_queue_depth",
			Help: "Voice state transitions waiting to be processed",
		},
	)

	ChannelCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patrol_channel_cache_hits_total",
			Help: "Channel parent lookups served from cache",
		},
	)

	ChannelCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patrol_channel_cache_misses_total",
			Help: "Channel parent lookups that went to the gateway",
		},
	)

	// Admin API metrics
	AdminRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "patrol_admin_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TrackedSessions,
		Transitions,
		SessionsDiscarded,
		AccruedSeconds,
		StorageErrors,
		GatewayEvents,
		GatewayQueueDepth,
		ChannelCacheHits,
		ChannelCacheMisses,
		AdminRequestDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server. /health reports 503 until ready
// is closed; a nil ready channel is always healthy.
func NewServer(addr string, ready <-chan struct{}, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			select {
			case <-ready:
			default:
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("STARTING"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the HTTP handler serving /metrics and /health.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
