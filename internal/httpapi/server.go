// Package httpapi exposes the bridge hub over HTTP for out-of-process views.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/raumlabs/hostbridge/internal/bridge"
	"github.com/raumlabs/hostbridge/internal/observability"
)

const (
	maxBodyBytes      = 1 << 20
	requestTimeout    = 60 * time.Second
	defaultHeartbeat  = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server provides HTTP API endpoints with chi router
type Server struct {
	hub           *bridge.Hub
	logger        *zap.SugaredLogger
	router        *chi.Mux
	observability *observability.Manager
	heartbeat     time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithObservability adds metrics/tracing middleware and the /metrics endpoint.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) { s.observability = obs }
}

// WithHeartbeat sets the SSE ping interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// NewServer creates a new HTTP API server
func NewServer(hub *bridge.Hub, logger *zap.SugaredLogger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		hub:       hub,
		logger:    logger,
		router:    chi.NewRouter(),
		heartbeat: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Infow("HTTP API listening", "address", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("HTTP API shutdown incomplete", "error", err)
		_ = srv.Close()
	}
	return nil
}

func (s *Server) setupRoutes() {
	if s.observability != nil {
		if metrics := s.observability.Metrics(); metrics != nil {
			s.router.Use(metrics.HTTPMiddleware())
		}
		s.router.Use(s.observability.Tracing().HTTPMiddleware())
	}
	s.router.Use(s.httpLoggingMiddleware())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.observability != nil {
		if metrics := s.observability.Metrics(); metrics != nil {
			s.router.Handle("/metrics", metrics.Handler())
		}
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Get("/channels", s.handleListChannels)
			r.Post("/invoke/{channel}", s.handleInvoke)
			r.Get("/views", s.handleListViews)
			r.Post("/views/{id}/messages/{channel}", s.handlePostMessage)
		})
		// streaming, no timeout
		r.Get("/views/{id}/events", s.handleViewEvents)
	})
}

// httpLoggingMiddleware logs each request at debug level
func (s *Server) httpLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			s.logger.Debugw("HTTP API Request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, Response{Success: false, Error: message})
}

func (s *Server) writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	s.writeJSON(w, status, Response{Success: true, Data: data})
}

// readPayload returns the request body as JSON. An empty body becomes null.
func readPayload(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("body is not valid JSON")
	}
	return body, nil
}

func (s *Server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, http.StatusOK, s.hub.Channels())
}

func (s *Server) handleListViews(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, http.StatusOK, s.hub.Views())
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	payload, err := readPayload(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.hub.Invoke(r.Context(), channel, payload)
	switch {
	case errors.Is(err, bridge.ErrNoHandler):
		s.writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeSuccess(w, http.StatusOK, result)
	}
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	viewID := chi.URLParam(r, "id")
	channel := chi.URLParam(r, "channel")
	payload, err := readPayload(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n := s.hub.Post(viewID, channel, payload)
	s.writeSuccess(w, http.StatusAccepted, map[string]int{"listeners": n})
}

// handleViewEvents streams a view's pushes as server-sent events. A view that is
// not attached yet is attached for the lifetime of the stream.
func (s *Server) handleViewEvents(w http.ResponseWriter, r *http.Request) {
	viewID := chi.URLParam(r, "id")

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	view, ok := s.hub.View(viewID)
	if !ok {
		var err error
		view, err = s.hub.Attach(viewID)
		if err != nil {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		defer s.hub.Detach(viewID)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected %s\nretry: 5000\n\n", viewID)
	flusher.Flush()

	s.logger.Debugw("SSE stream opened", "view", viewID)
	defer s.logger.Debugw("SSE stream closed", "view", viewID)

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	messages := view.Messages()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := writeSSEEvent(w, flusher, "ping", map[string]int64{"timestamp": time.Now().Unix()}); err != nil {
				return
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, msg.Channel, msg.Payload); err != nil {
				s.logger.Warnw("Failed to write SSE event", "view", viewID, "error", err)
				return
			}
		}
	}
}

func writeSSEEvent(w io.Writer, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
