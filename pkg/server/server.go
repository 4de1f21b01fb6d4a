// Package server exposes the runtime over HTTP: request execution as a
// Server-Sent Events stream, session cancellation, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/striderlabs/strider/pkg/agent"
	"github.com/striderlabs/strider/pkg/events"
	"github.com/striderlabs/strider/pkg/logger"
	"github.com/striderlabs/strider/pkg/observability"
)

// EngineFactory builds the engine backing a session the first time the
// session is seen.
type EngineFactory func(sessionID string) (*agent.Engine, error)

// Config holds the listen address.
type Config struct {
	Host string
	Port int
}

// Server is the HTTP front of the runtime.
type Server struct {
	config  Config
	factory EngineFactory
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	engines map[string]*agent.Engine
}

// New creates a server. metrics may be nil to disable instrumentation.
func New(cfg Config, factory EngineFactory, metrics *observability.Metrics) *Server {
	return &Server{
		config:  cfg,
		factory: factory,
		metrics: metrics,
		logger:  logger.GetLogger(),
		engines: make(map[string]*agent.Engine),
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Route("/v1/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Delete("/", s.handleStop)
	})
	return r
}

// ListenAndServe runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) engineFor(sessionID string) (*agent.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if engine, ok := s.engines[sessionID]; ok {
		return engine, nil
	}
	engine, err := s.factory(sessionID)
	if err != nil {
		return nil, err
	}
	s.engines[sessionID] = engine
	return engine, nil
}

type executeRequest struct {
	Request string `json:"request"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Request == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"request\": \"...\"}")
		return
	}

	engine, err := s.engineFor(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stream, err := engine.Execute(r.Context(), req.Request)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev := range stream {
		s.record(ev)
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

// record feeds stream events into the metrics.
func (s *Server) record(ev events.Event) {
	if s.metrics == nil {
		return
	}
	switch ev.Type {
	case events.TypeToolResult:
		tool, _ := ev.Payload["tool_name"].(string)
		success, _ := ev.Payload["success"].(bool)
		s.metrics.ToolCall(tool, success)
	case events.TypeStatus:
		if phase, _ := ev.Payload["phase"].(string); phase == "three_strike" {
			s.metrics.ThreeStrike()
		}
	case events.TypeTaskComplete:
		if ms, ok := ev.Payload["duration"].(int64); ok {
			s.metrics.TaskDuration(time.Duration(ms) * time.Millisecond)
		}
	case events.TypeTaskFailed:
		failureType, _ := ev.Payload["failureType"].(string)
		if failureType == "" {
			failureType = "unknown"
		}
		s.metrics.Failure(failureType)
	case events.TypePlanRevised:
		s.metrics.Replan()
	case events.TypeDone:
		status, _ := ev.Payload["status"].(string)
		path := "agent"
		if _, viaSkill := ev.Payload["skill"]; viaSkill {
			path = "skill"
		}
		s.metrics.SessionFinished(path, status)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	s.mu.Lock()
	engine, ok := s.engines[sessionID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	engine.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
