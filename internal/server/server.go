// Package server provides the local control API of signlink.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/signlink/internal/app"
	"github.com/ayusman/signlink/internal/server/api"
)

// Controller is the translation session exposed over HTTP.
type Controller interface {
	api.Controller
	Subscribe(fn func(app.View)) (unsubscribe func())
}

// Config holds the server configuration.
type Config struct {
	StaticDir  string
	Controller Controller
	Preview    FrameEncoder
	Logger     *zap.Logger
}

// Server represents the HTTP server for the signlink control API.
type Server struct {
	config      Config
	mux         *http.ServeMux
	hub         *Hub
	log         *zap.Logger
	start       time.Time
	unsubscribe func()
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	log := config.Logger.Named("server")
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		hub:    NewHub(log),
		log:    log,
		start:  time.Now(),
	}
	s.setupRoutes()

	if config.Controller != nil {
		s.unsubscribe = config.Controller.Subscribe(s.hub.BroadcastView)
	}
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Controller != nil {
		sessionHandler := api.NewSessionHandler(s.config.Controller)
		s.mux.Handle("/api/session", sessionHandler)
		s.mux.Handle("/api/session/context", sessionHandler)
		s.mux.Handle("/api/history", sessionHandler)
		s.mux.Handle("/api/services/health", sessionHandler)
		s.mux.Handle("/api/translation/", api.NewTranslationHandler(s.config.Controller))
		s.mux.Handle("/api/events", NewEventsHandler(s.hub, s.config.Controller.View, s.log))
	}

	if s.config.Preview != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Preview))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Hub returns the events hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		// Long-lived streams end with ctx.
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close detaches the server from the controller.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}
