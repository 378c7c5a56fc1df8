package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/pacewatch/internal/storage"
	"github.com/goodtune/pacewatch/internal/tracker"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// valueRequest is the body of the mutation endpoints.
type valueRequest struct {
	Value float64 `json:"value"`
}

// resetRequest optionally carries the cycle start date. An empty date resets
// at today.
type resetRequest struct {
	Date string `json:"date,omitempty"`
}

// Server is the local status API consumed by desktop widgets and scripts.
// It exposes the current projection and the same mutations the CLI offers.
type Server struct {
	tracker  *tracker.Tracker
	server   *http.Server
	router   *mux.Router
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new status API server.
func NewServer(addr string, tr *tracker.Tracker, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		tracker: tr,
		router:  router,
		logger:  logger.With().Str("component", "statusapi").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/usage", s.handleSetUsage).Methods("POST")
	s.router.HandleFunc("/api/percentage", s.handleSetPercentage).Methods("POST")
	s.router.HandleFunc("/api/limit", s.handleSetLimit).Methods("POST")
	s.router.HandleFunc("/api/reset", s.handleReset).Methods("POST")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the status API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting status API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Status API server error")
		}
	}()
	return nil
}

// Stop gracefully stops the status API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping status API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("status api shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m, err := s.refresh(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to compute metrics")
		writeError(w, http.StatusInternalServerError, "Failed to compute metrics")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// refresh rolls an expired cycle before deriving the projection, so no
// response ever reports a cycle past its boundary.
func (s *Server) refresh(ctx context.Context) (*tracker.Metrics, error) {
	if _, err := s.tracker.CheckRollover(ctx); err != nil {
		return nil, err
	}
	return s.tracker.GetMetrics(ctx)
}

func (s *Server) handleSetUsage(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(ctx context.Context, value float64) error {
		return s.tracker.SetUsage(ctx, value)
	})
}

func (s *Server) handleSetPercentage(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(ctx context.Context, value float64) error {
		return s.tracker.SetPercentage(ctx, value)
	})
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(ctx context.Context, value float64) error {
		return s.tracker.SetLimit(ctx, value)
	})
}

// mutate decodes a value body, settles any due rollover, applies the mutation,
// and responds with the refreshed projection. Rejected values map to 400 and
// leave state untouched.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, apply func(context.Context, float64) error) {
	ctx := r.Context()

	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	// Roll an expired cycle first so the write lands in the current cycle
	// instead of being zeroed by the next rollover check.
	if _, err := s.tracker.CheckRollover(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to check rollover")
		writeError(w, http.StatusInternalServerError, "Failed to apply update")
		return
	}

	if err := apply(ctx, req.Value); err != nil {
		if errors.Is(err, tracker.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Failed to apply update")
		writeError(w, http.StatusInternalServerError, "Failed to apply update")
		return
	}

	m, err := s.tracker.GetMetrics(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to compute metrics")
		writeError(w, http.StatusInternalServerError, "Failed to compute metrics")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	start := s.tracker.Now()
	if req.Date != "" {
		parsed, err := time.Parse(storage.DateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (expected YYYY-MM-DD)")
			return
		}
		start = parsed
	}

	// Settle any due rollover before re-anchoring.
	if _, err := s.tracker.CheckRollover(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to check rollover")
		writeError(w, http.StatusInternalServerError, "Failed to reset cycle")
		return
	}

	if err := s.tracker.ResetCycle(ctx, start); err != nil {
		s.logger.Error().Err(err).Msg("Failed to reset cycle")
		writeError(w, http.StatusInternalServerError, "Failed to reset cycle")
		return
	}

	m, err := s.tracker.GetMetrics(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to compute metrics")
		writeError(w, http.StatusInternalServerError, "Failed to compute metrics")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"mode":   s.tracker.Mode(),
	})
}
