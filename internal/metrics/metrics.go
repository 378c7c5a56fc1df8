package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Usage gauges, refreshed on every tick
	UsageCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacewatch_usage_current",
			Help: "Current usage value for the active cycle",
		},
	)

	UsageLimit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacewatch_usage_limit",
			Help: "Configured usage limit for the active cycle (0 when unset)",
		},
	)

	UsagePercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacewatch_usage_percent",
			Help: "Percentage of the limit used so far",
		},
	)

	UsageProjected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacewatch_usage_projected",
			Help: "Projected end-of-cycle usage at the current daily average",
		},
	)

	UsageDailyAverage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacewatch_usage_daily_average",
			Help: "Average usage per day in the active cycle",
		},
	)

	// Cycle gauges
	CycleDay = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacewatch_cycle_day",
			Help: "Current day of the active cycle, starting at 1",
		},
	)

	CycleDaysRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacewatch_cycle_days_remaining",
			Help: "Days left before the cycle resets",
		},
	)

	StatusTier = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacewatch_status_tier",
			Help: "Pace status tier: 0 on track, 1 warning, 2 overpace",
		},
	)

	// Counters
	RefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pacewatch_refreshes_total",
			Help: "Total metric refresh ticks",
		},
	)

	RolloversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pacewatch_rollovers_total",
			Help: "Total automatic cycle rollovers",
		},
	)

	StoreErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pacewatch_store_errors_total",
			Help: "Total storage read/write failures",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		UsageCurrent,
		UsageLimit,
		UsagePercent,
		UsageProjected,
		UsageDailyAverage,
		CycleDay,
		CycleDaysRemaining,
		StatusTier,
		RefreshesTotal,
		RolloversTotal,
		StoreErrorsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
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
