// Package httpserver exposes read-only engine state and Prometheus metrics.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

// LedgerReader is the read side of the portfolio ledger.
type LedgerReader interface {
	Wallet(ctx context.Context) (*domain.WalletState, error)
	Positions(ctx context.Context) ([]*domain.Position, error)
	Journal(ctx context.Context, limit int) ([]*domain.LedgerEntry, error)
}

// SignalReader lists stored signals, newest first.
type SignalReader interface {
	Signals(ctx context.Context, symbol string, limit int) ([]*domain.Signal, error)
}

// PairReader lists the latest state of every evaluated pair.
type PairReader interface {
	LatestPairStates(ctx context.Context) ([]domain.PairState, error)
}

// ParameterReader exposes the live parameter sets.
type ParameterReader interface {
	Snapshot() map[string]domain.ParameterSet
}

// Config holds server configuration. Any reader may be nil; its routes then
// answer 503.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       ports.Logger
	Ledger       LedgerReader
	Signals      SignalReader
	Pairs        PairReader
	Parameters   ParameterReader
}

// Server is the read-only HTTP API.
type Server struct {
	router *mux.Router
	server *http.Server
	cfg    Config
	logger ports.Logger
}

// New builds the server and its routes without listening.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for http server")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	s := &Server{router: mux.NewRouter(), cfg: cfg, logger: cfg.Logger}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/wallet", s.wallet).Methods(http.MethodGet)
	api.HandleFunc("/positions", s.positions).Methods(http.MethodGet)
	api.HandleFunc("/journal", s.journal).Methods(http.MethodGet)
	api.HandleFunc("/signals", s.signals).Methods(http.MethodGet)
	api.HandleFunc("/signals/{symbol}", s.signals).Methods(http.MethodGet)
	api.HandleFunc("/parameters", s.parameters).Methods(http.MethodGet)
	api.HandleFunc("/pairs", s.pairs).Methods(http.MethodGet)
}

// Start listens until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "Starting HTTP server", map[string]interface{}{"addr": s.cfg.Addr})
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

type ctxKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, requestID)))
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.logger.Debug(r.Context(), "HTTP request", map[string]interface{}{
			"request_id": r.Context().Value(ctxKey{}),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     wrapper.statusCode,
			"duration":   time.Since(start).String(),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrInvalidRequest), errors.Is(err, ports.ErrInvalidSymbol), errors.Is(err, ports.ErrInvalidParameters):
		status = http.StatusBadRequest
	case errors.Is(err, ports.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ports.ErrConfigurationError):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error(r.Context(), err, "HTTP handler failed", map[string]interface{}{"path": r.URL.Path})
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var errNotConfigured = fmt.Errorf("%w: source not configured", ports.ErrConfigurationError)

func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		return 0, fmt.Errorf("%w: limit must be in [1, 1000]", ports.ErrInvalidRequest)
	}
	return n, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

type walletResponse struct {
	*domain.WalletState
	OpenPositions int `json:"open_positions"`
}

func (s *Server) wallet(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ledger == nil {
		s.writeError(w, r, errNotConfigured)
		return
	}
	wallet, err := s.cfg.Ledger.Wallet(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	positions, err := s.cfg.Ledger.Positions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{WalletState: wallet, OpenPositions: len(positions)})
}

func (s *Server) positions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ledger == nil {
		s.writeError(w, r, errNotConfigured)
		return
	}
	positions, err := s.cfg.Ledger.Positions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if positions == nil {
		positions = []*domain.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) journal(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ledger == nil {
		s.writeError(w, r, errNotConfigured)
		return
	}
	limit, err := limitParam(r, 50)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.cfg.Ledger.Journal(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) signals(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Signals == nil {
		s.writeError(w, r, errNotConfigured)
		return
	}
	symbol := mux.Vars(r)["symbol"]
	if symbol != "" && !domain.ValidSymbol(symbol) {
		s.writeError(w, r, fmt.Errorf("%w: %q", ports.ErrInvalidSymbol, symbol))
		return
	}
	limit, err := limitParam(r, 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sigs, err := s.cfg.Signals.Signals(r.Context(), symbol, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sigs == nil {
		sigs = []*domain.Signal{}
	}
	writeJSON(w, http.StatusOK, sigs)
}

func (s *Server) parameters(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Parameters == nil {
		s.writeError(w, r, errNotConfigured)
		return
	}
	snap := s.cfg.Parameters.Snapshot()
	out := make([]domain.ParameterSet, 0, len(snap))
	for _, p := range snap {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) pairs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Pairs == nil {
		s.writeError(w, r, errNotConfigured)
		return
	}
	states, err := s.cfg.Pairs.LatestPairStates(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if states == nil {
		states = []domain.PairState{}
	}
	writeJSON(w, http.StatusOK, states)
}
