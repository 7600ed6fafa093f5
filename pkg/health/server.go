package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedrun-hq/linkrunner/pkg/circuitbreaker"
	"github.com/speedrun-hq/linkrunner/pkg/feecache"
	"github.com/speedrun-hq/linkrunner/pkg/logger"
)

// FeeCache is the part of the fee cache the admin endpoints touch
type FeeCache interface {
	Clear()
	Invalidate(asset string) bool
	Assets() []string
	Stats() feecache.Stats
}

// ReadyFunc reports whether the service can take requests
type ReadyFunc func(ctx context.Context) error

// Server represents a health check HTTP server
type Server struct {
	breakers      *circuitbreaker.Group
	fees          FeeCache
	ready         ReadyFunc
	metricsAPIKey string
	logger        logger.Logger
	srv           *http.Server
}

// NewServer creates a new health check server listening on port
func NewServer(port string, breakers *circuitbreaker.Group, fees FeeCache, ready ReadyFunc, metricsAPIKey string, logger logger.Logger) *Server {
	s := &Server{
		breakers:      breakers,
		fees:          fees,
		ready:         ready,
		metricsAPIKey: metricsAPIKey,
		logger:        logger,
	}
	s.srv = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       3 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	return s
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	// Expose Prometheus metrics with API key authentication
	r.Handle("/metrics", s.authMiddleware(promhttp.Handler())).Methods(http.MethodGet)

	r.Handle("/circuit/reset", s.authMiddleware(http.HandlerFunc(s.handleCircuitReset))).Methods(http.MethodPost)
	r.Handle("/admin/fees/clear", s.authMiddleware(http.HandlerFunc(s.handleFeesClear))).Methods(http.MethodPost)
	return r
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting health and metrics server on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// authMiddleware checks for a valid API key when one is configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("Not ready: %v", err)))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

type feeCacheStatus struct {
	feecache.Stats
	Assets []string `json:"assets"`
}

type status struct {
	Circuits []circuitbreaker.State `json:"circuits"`
	FeeCache feeCacheStatus         `json:"fee_cache"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := status{
		Circuits: s.breakers.States(),
		FeeCache: feeCacheStatus{Stats: s.fees.Stats(), Assets: s.fees.Assets()},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		s.logger.Error("Error encoding status JSON: %v", err)
	}
}

// handleCircuitReset closes the breaker of one asset
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing asset parameter"))
		return
	}

	if !s.breakers.Reset(asset) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for asset %s", asset)))
		return
	}

	s.logger.Notice("Circuit breaker for %s reset through the admin endpoint", asset)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for asset %s reset", asset)))
}

// handleFeesClear drops one cached fee, or all of them without an asset parameter
func (s *Server) handleFeesClear(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		s.fees.Clear()
		s.logger.Notice("Fee cache cleared through the admin endpoint")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Fee cache cleared"))
		return
	}

	if !s.fees.Invalidate(asset) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No cached fee for asset %s", asset)))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Cached fee for asset %s cleared", asset)))
}
