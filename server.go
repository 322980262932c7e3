package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/oszuidwest/zwfm-loopback/internal/config"
	"github.com/oszuidwest/zwfm-loopback/internal/loop"
	"github.com/oszuidwest/zwfm-loopback/internal/notify"
	"github.com/oszuidwest/zwfm-loopback/internal/server"
	"github.com/oszuidwest/zwfm-loopback/internal/types"
)

// Server exposes the WebSocket command plane and a small REST surface
// for the loopback daemon.
type Server struct {
	config       *config.Config
	machine      *loop.Machine
	commands     *server.CommandHandler
	version      *VersionChecker
	secretExpiry *notify.SecretExpiryChecker
	logPath      string
	startedAt    time.Time
}

// NewServer returns a Server wired to the given config and machine.
func NewServer(cfg *config.Config, machine *loop.Machine, notifier *notify.Notifier, logPath string) *Server {
	email := cfg.NotificationSettings().Email

	return &Server{
		config:       cfg,
		machine:      machine,
		commands:     server.NewCommandHandler(cfg, machine, notifier, logPath),
		logPath:      logPath,
		version:      NewVersionChecker(),
		secretExpiry: notify.NewSecretExpiryChecker(&email),
		startedAt:    time.Now(),
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Create buffered send channel for thread-safe writes.
	// Only the writer goroutine writes to the connection, preventing race conditions.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	// Writer goroutine - sole writer to the connection
	go s.runWebSocketWriter(conn, send)

	// Reader goroutine - handles incoming commands
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes status snapshots periodically and on
// demand after a command.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	statusTicker := time.NewTicker(3 * time.Second)
	defer statusTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	// Send initial status
	if !trySend(s.buildWSStatus()) {
		close(send)
		return
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		}
	}
}

// wsStatus is the periodic status frame pushed over the WebSocket.
type wsStatus struct {
	Type              string                  `json:"type"` // "status"
	State             loop.State              `json:"state"`
	UptimeMs          int64                   `json:"uptime_ms"`
	Platform          string                  `json:"platform"`
	Audio             config.AudioConfig      `json:"audio"`
	Probe             config.ProbeConfig      `json:"probe"`
	StartThreshold    float64                 `json:"start_threshold"`
	StopThreshold     float64                 `json:"stop_threshold"`
	GraphSecretExpiry notify.SecretExpiryInfo `json:"graph_secret_expiry"`
	Version           types.VersionInfo       `json:"version"`
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() wsStatus {
	status := s.machine.Status()

	return wsStatus{
		Type:              "status",
		State:             status.State,
		UptimeMs:          time.Since(s.startedAt).Milliseconds(),
		Platform:          runtime.GOOS,
		Audio:             s.config.AudioSettings(),
		Probe:             s.config.ProbeSettings(),
		StartThreshold:    status.Thresholds.Start,
		StopThreshold:     status.Thresholds.Stop,
		GraphSecretExpiry: s.secretExpiry.GetInfo(),
		Version:           s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)

	// REST surface, see api.go
	mux.HandleFunc("/api/status", s.handleAPIStatus)
	mux.HandleFunc("/api/config", s.handleAPIConfig)
	mux.HandleFunc("/api/probe", s.handleAPIProbe)
	mux.HandleFunc("/api/events", s.handleAPIEvents)
	mux.HandleFunc("/api/loop/", s.handleAPILoop)

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// handleHealth reports liveness. The daemon is healthy in every state
// but killed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.machine.State()
	status := http.StatusOK
	if state == loop.StateKilled {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{"state": state})
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	system := s.config.SystemSettings()
	addr := net.JoinHostPort(system.Bind, fmt.Sprintf("%d", system.Port))
	slog.Info("starting control server", "addr", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.SetupRoutes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
