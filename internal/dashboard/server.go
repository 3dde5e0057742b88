// Package dashboard serves a small read-only JSON API over the ledger.
//
// Endpoints:
// - GET /api/positions - open positions
// - GET /api/trades    - recent settled trades
// - GET /api/stats     - aggregate P&L statistics
// - GET /health        - liveness probe
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/polyneko/polyneko/internal/ledger"
)

// Store is the read side of the ledger the dashboard serves
type Store interface {
	OpenPositions() ([]ledger.PositionRecord, error)
	RecentTrades(limit int) ([]ledger.TradeRecord, error)
	Stats() (map[string]interface{}, error)
}

// Server exposes the ledger over HTTP
type Server struct {
	store Store
	srv   *http.Server
}

// NewServer builds the dashboard on the given port
func NewServer(store Store, port int) *Server {
	s := &Server{store: store}

	router := mux.NewRouter()
	router.HandleFunc("/api/positions", s.handlePositions).Methods("GET")
	router.HandleFunc("/api/trades", s.handleTrades).Methods("GET")
	router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("📊 Dashboard listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Dashboard server failed")
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions, err := s.store.OpenPositions()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"positions": positions, "count": len(positions)})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	trades, err := s.store.RecentTrades(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"trades": trades, "count": len(trades)})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Dashboard response encode failed")
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
