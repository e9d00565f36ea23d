// Package server exposes the admission pipeline and generation lifecycle
// over HTTP to the BrightReel route layer.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"brightreel-ai/reelgate/pkg/admission"
	"brightreel-ai/reelgate/pkg/config"
	"brightreel-ai/reelgate/pkg/generation"
)

// CompletionFunc performs a synchronous text generation call, returning
// the response payload and its billed cost.
type CompletionFunc func(ctx context.Context, prompt string) ([]byte, float64, error)

// Server is the HTTP API server.
type Server struct {
	config     *config.ServerConfig
	gate       *admission.Gate
	jobs       *generation.Service
	complete   CompletionFunc
	logger     *slog.Logger
	httpServer *http.Server

	mu        sync.Mutex
	isRunning bool
}

// NewServer creates the API server over the gate and job service.
// complete may be nil, in which case the synchronous completion endpoint
// reports 501.
func NewServer(cfg *config.ServerConfig, gate *admission.Gate, jobs *generation.Service, complete CompletionFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   cfg,
		gate:     gate,
		jobs:     jobs,
		complete: complete,
		logger:   logger.With("component", "server"),
	}
}

// Start starts the HTTP server and blocks until the context is cancelled
// or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.routes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return fmt.Errorf("api server failed: %w", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning || s.httpServer == nil {
		return nil
	}
	s.isRunning = false
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/admission/check", s.handleAdmissionCheck)
	mux.HandleFunc("POST /v1/completions", s.handleCompletion)
	mux.HandleFunc("POST /v1/generations", s.handleSubmit)
	mux.HandleFunc("GET /v1/generations/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/generations", s.handleListJobs)
	mux.HandleFunc("POST /v1/generations/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /v1/generations/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /v1/generations/{id}/fail", s.handleFail)

	return mux
}
