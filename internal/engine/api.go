package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"forex-trade-engine-go/internal/models"
	"forex-trade-engine-go/internal/valuation"
	"go.uber.org/zap"
)

// APIServer exposes the engine to surrounding UI/admin code over HTTP.
type APIServer struct {
	server *http.Server
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer.
func NewAPIServer(engine *Engine, logger *zap.Logger) *APIServer {
	addr := fmt.Sprintf(":%d", engine.cfg.Server.Port)

	s := &APIServer{
		engine: engine,
		logger: logger.Named("api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/positions", s.positionsHandler)
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		UUID          string `json:"uuid"`
		StartTime     string `json:"start_time"`
		Uptime        string `json:"uptime"`
		FeedConnected bool   `json:"feed_connected"`
		OpenPositions int    `json:"open_positions"`
	}{
		UUID:          s.engine.UUID,
		StartTime:     s.engine.StartTime.Format(time.RFC3339),
		Uptime:        time.Since(s.engine.StartTime).String(),
		FeedConnected: s.engine.feed.Connected(),
		OpenPositions: len(s.engine.ListOpen()),
	}

	s.writeJSON(w, status)
}

// positionEntry pairs a position with its live valuation. Valuation is
// omitted, not fabricated, when no fresh price exists for the symbol.
type positionEntry struct {
	Position  models.Position   `json:"position"`
	Valuation *valuation.Result `json:"valuation,omitempty"`
	FeedState string            `json:"feed_state"`
}

func (s *APIServer) positionsHandler(w http.ResponseWriter, r *http.Request) {
	open := s.engine.ListOpen()
	entries := make([]positionEntry, 0, len(open))

	for i := range open {
		entry := positionEntry{Position: open[i], FeedState: "live"}
		result, err := s.engine.Valuate(open[i].ID)
		if err != nil {
			if !errors.Is(err, valuation.ErrFeedUnavailable) {
				s.logger.Error("Failed to valuate position",
					zap.String("id", open[i].ID), zap.Error(err))
			}
			entry.FeedState = "unavailable"
		} else {
			entry.Valuation = &result
		}
		entries = append(entries, entry)
	}

	s.writeJSON(w, entries)
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
