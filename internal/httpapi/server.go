// Package httpapi exposes the relay's read-side HTTP surface: quote
// history, latest prices, the websocket stream, health, and debug
// counters.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sameerk/feedrelay/internal/hub"
	"github.com/sameerk/feedrelay/internal/model"
	"github.com/sameerk/feedrelay/internal/pipeline"
	"github.com/sameerk/feedrelay/internal/poller"
	"github.com/sameerk/feedrelay/internal/store"
	"github.com/sameerk/feedrelay/internal/upstream"
)

const defaultHistoryLimit = 100

// QuoteReader is the subset of the store the API reads from.
type QuoteReader interface {
	Ping(ctx context.Context) error
	Recent(ctx context.Context, limit int) ([]model.QuoteRecord, error)
	History(ctx context.Context, symbol string, limit int) ([]model.QuoteRecord, error)
	LatestPerSymbol(ctx context.Context) ([]model.QuoteRecord, error)
}

// StatsSources collects the components whose counters /debug/stats reports.
// Nil fields are skipped.
type StatsSources struct {
	Connector *upstream.Connector
	Pipeline  *pipeline.Pipeline
	Hub       *hub.Hub
	Writer    *store.QuoteWriter
	Poller    *poller.Poller
}

// Server wires the HTTP routes.
type Server struct {
	reader QuoteReader
	hub    *hub.Hub
	stats  StatsSources
	logger *slog.Logger
}

// NewServer creates the API server around its data sources.
func NewServer(reader QuoteReader, h *hub.Hub, stats StatsSources, logger *slog.Logger) *Server {
	return &Server{
		reader: reader,
		hub:    h,
		stats:  stats,
		logger: logger.With("component", "httpapi"),
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/market-data", s.handleRecent)
	mux.HandleFunc("GET /api/market-data/{symbol}", s.handleHistory)
	mux.HandleFunc("GET /api/latest-prices", s.handleLatest)
	mux.HandleFunc("GET /debug/stats", s.handleStats)
	mux.Handle("GET /ws", hub.Handler(s.hub, s.logger))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	if err := s.reader.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.Components["database"] = map[string]string{
			"status": "disconnected",
			"error":  err.Error(),
		}
	} else {
		health.Components["database"] = "connected"
	}

	if s.stats.Connector != nil {
		state := s.stats.Connector.State()
		health.Components["upstream"] = state.String()
		switch state {
		case upstream.StateFailed:
			health.Status = "unhealthy"
		case upstream.StateStreaming:
		default:
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}
	}

	if s.hub != nil {
		health.Components["subscribers"] = s.hub.Stats().Subscribers
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultHistoryLimit)

	recs, err := s.reader.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, "querying market data", err)
		return
	}
	s.ok(w, recs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	limit := queryLimit(r, defaultHistoryLimit)

	recs, err := s.reader.History(r.Context(), symbol, limit)
	if err != nil {
		s.fail(w, "querying symbol history", err)
		return
	}
	if len(recs) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": "no data for symbol " + symbol,
		})
		return
	}
	s.ok(w, recs)
}

// handleLatest serves the in-memory cache when the relay is streaming,
// falling back to the database so the endpoint works across restarts.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.hub != nil {
		if recs := s.hub.Snapshot(); len(recs) > 0 {
			s.ok(w, recs)
			return
		}
	}

	recs, err := s.reader.LatestPerSymbol(r.Context())
	if err != nil {
		s.fail(w, "querying latest prices", err)
		return
	}
	s.ok(w, recs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any)

	if s.stats.Connector != nil {
		out["upstream"] = s.stats.Connector.Stats()
	}
	if s.stats.Pipeline != nil {
		out["pipeline"] = s.stats.Pipeline.Stats()
	}
	if s.stats.Hub != nil {
		out["hub"] = s.stats.Hub.Stats()
	}
	if s.stats.Writer != nil {
		out["writer"] = s.stats.Writer.Stats()
	}
	if s.stats.Poller != nil {
		out["poller"] = s.stats.Poller.Stats()
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"message": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		return fallback
	}
	return n
}
