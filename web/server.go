// Package web serves the settings form, upload history and a live feed of
// activations on the loopback interface.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"markestedt/clipkb/config"
	"markestedt/clipkb/notify"
	"markestedt/clipkb/storage"
)

//go:embed static/*
var staticFiles embed.FS

const listenHost = "127.0.0.1"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameHost,
}

// sameHost accepts connections from pages served by this server
func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host
}

// loopbackOnly rejects requests addressed to any host name other than the
// loopback one, so a page on a rebound DNS name cannot reach the API
func (s *Server) loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allowedHost(r.Host) {
			slog.Warn("Rejected request for foreign host", "host", r.Host, "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedHost(hostport string) bool {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = hostport, ""
	}
	switch host {
	case listenHost, "localhost", "::1":
	default:
		return false
	}
	// port 0 means an ephemeral listener owned by the caller
	return s.port == 0 || port == strconv.Itoa(s.port)
}

// Server represents the web server
type Server struct {
	db     *storage.DB
	port   int
	hub    *Hub
	status func() any

	mu             sync.RWMutex
	config         *config.Config
	onConfigChange func(*config.Config)

	httpServer *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithStatus sets the provider for GET /api/status
func WithStatus(fn func() any) Option {
	return func(s *Server) {
		s.status = fn
	}
}

// WithConfigChange registers a callback run after the config is saved from the UI
func WithConfigChange(fn func(*config.Config)) Option {
	return func(s *Server) {
		s.onConfigChange = fn
	}
}

// NewServer creates a new web server. db may be nil when history is disabled.
func NewServer(db *storage.DB, cfg *config.Config, port int, opts ...Option) *Server {
	hub := NewHub()
	go hub.Run()

	s := &Server{
		db:     db,
		config: cfg,
		port:   port,
		hub:    hub,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("GET /api/history", s.handleGetHistory)
	mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistory)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Static files
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to load static files: %w", err)
	}
	mux.Handle("/", http.FileServer(http.FS(staticFS)))

	return s.loopbackOnly(mux), nil
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(listenHost, strconv.Itoa(s.port))
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	slog.Info("Starting web server", "port", s.port, "url", s.URL())

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve web UI: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and disconnects websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()

	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// URL returns the dashboard address
func (s *Server) URL() string {
	return fmt.Sprintf("http://localhost:%d", s.port)
}

// GetConfig returns the current configuration (thread-safe)
func (s *Server) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// UpdateConfig updates the configuration (thread-safe)
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
}

// BroadcastStatus broadcasts a status update to all connected clients
func (s *Server) BroadcastStatus(status string) {
	s.hub.BroadcastMessage(Message{
		Type: MessageTypeStatus,
		Data: StatusMessage{Status: status},
	})
}

// BroadcastUpload broadcasts a new history record to all connected clients
func (s *Server) BroadcastUpload(u *storage.Upload) {
	s.hub.BroadcastMessage(Message{
		Type: MessageTypeUpload,
		Data: u,
	})
}

// Notify forwards notifications to the dashboard
func (s *Server) Notify(n notify.Notification) {
	s.hub.BroadcastMessage(Message{
		Type: MessageTypeNotification,
		Data: n,
	})
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}
