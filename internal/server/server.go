package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/canaryops/rollout-agent/internal/analysis"
	"github.com/canaryops/rollout-agent/internal/config"
	"github.com/canaryops/rollout-agent/internal/middleware"
)

// Version is reported by the health endpoints.
const Version = "1.0.0"

// Server hosts the agent's HTTP surface.
type Server struct {
	config       *config.Config
	logger       *zap.Logger
	orchestrator *analysis.Orchestrator

	httpServer  *http.Server
	rateLimiter *middleware.RateLimiter

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer wires a server around an orchestrator.
func NewServer(cfg *config.Config, logger *zap.Logger, orch *analysis.Orchestrator) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:       cfg,
		logger:       logger,
		orchestrator: orch,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins serving. It returns once the listener goroutine is up.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// Analyses can outlive typical write timeouts; sessions enforce
		// their own deadline instead.
		WriteTimeout: 2 * s.config.Models.SessionTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("starting HTTP server",
			zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("error shutting down HTTP server", zap.Error(err))
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.cancel()
	s.wg.Wait()

	s.logger.Info("server stopped")
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/a2a/health", s.handleA2AHealth)

	analyze := http.HandlerFunc(s.handleAnalyze)
	analyzeWS := http.HandlerFunc(s.handleAnalyzeWS)
	if s.config.Server.RateLimitPerMinute > 0 {
		s.rateLimiter = middleware.NewRateLimiter(s.config.Server.RateLimitPerMinute)
		analyze = s.rateLimiter.Middleware(analyze)
		analyzeWS = s.rateLimiter.Middleware(analyzeWS)
	}
	mux.HandleFunc("/a2a/analyze", analyze)
	mux.HandleFunc("/a2a/analyze/ws", analyzeWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	ready := s.running
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}
