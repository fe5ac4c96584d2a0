package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avkit/streamcore/internal/config"
	"github.com/avkit/streamcore/internal/engine"
	"github.com/avkit/streamcore/internal/notify"
	"github.com/avkit/streamcore/internal/server"
	"github.com/avkit/streamcore/internal/util"
)

// Server is the HTTP server exposing control and monitoring for the
// streaming engine: a WebSocket for real-time levels and commands, plus
// JSON status endpoints.
type Server struct {
	config   *config.Config
	engine   *engine.Engine
	sessions *server.SessionManager
	commands *server.CommandHandler
	version  *VersionChecker
	logBuf   *util.BoundedBuffer
}

// NewServer returns a new Server wired to the provided config and engine.
func NewServer(cfg *config.Config, eng *engine.Engine, logBuf *util.BoundedBuffer) *Server {
	sessions := server.NewSessionManager()
	commands := server.NewCommandHandler(
		cfg,
		server.EngineControls{
			Running:      func() bool { return eng.State() == engine.StateRunning },
			StartOutput:  eng.StartOutput,
			StopOutput:   eng.StopOutput,
			RemoveOutput: eng.RemoveOutput,
			SetVolumeDB:  eng.Fader().SetDB,
			SetMuted:     eng.SetMuted,
		},
		map[string]func() error{
			"webhook": func() error { return notify.SendTestWebhook(cfg.Snapshot().WebhookURL) },
			"log":     func() error { return notify.WriteTestLog(cfg.Snapshot().LogPath) },
			"email": func() error {
				snap := cfg.Snapshot()
				return notify.SendTestEmail(&notify.EmailConfig{
					Host:       snap.EmailSMTPHost,
					Port:       snap.EmailSMTPPort,
					FromName:   snap.EmailFromName,
					Username:   snap.EmailUsername,
					Password:   snap.EmailPassword,
					Recipients: snap.EmailRecipients,
				})
			},
		},
	)

	return &Server{
		config:   cfg,
		engine:   eng,
		sessions: sessions,
		commands: commands,
		version:  NewVersionChecker(),
		logBuf:   logBuf,
	}
}

// statusPayload builds the full status document sent over the WebSocket
// and the /api/status endpoint.
func (s *Server) statusPayload() map[string]any {
	snap := s.config.Snapshot()
	return map[string]any{
		"type":            "status",
		"state":           s.engine.State(),
		"muted":           s.engine.Muted(),
		"fader_db":        s.engine.Fader().DB(),
		"fader_def":       s.engine.Fader().Deflection(),
		"outputs":         snap.Outputs,
		"output_status":   s.engine.Outputs().Statuses(),
		"meter_update_ms": snap.MeterUpdateMS,
		"peak_hold_ms":    snap.PeakHoldMS,
		"fader_curve":     snap.FaderCurve,
		"retry_base_sec":  int(snap.RetryBase.Seconds()),
		"max_retries":     snap.MaxRetries,
		"webhook_url":     snap.WebhookURL,
		"log_path":        snap.LogPath,
		"email_smtp_host": snap.EmailSMTPHost,
		"email_smtp_port": snap.EmailSMTPPort,
		"email_username":  snap.EmailUsername,
		"version":         s.version.GetInfo(),
	}
}

// handleWebSocket streams real-time status and audio levels to the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer util.SafeCloseFunc(conn, "WebSocket connection")()

	// Channel to signal status update needed
	statusUpdate := make(chan bool, 1)
	done := make(chan bool)

	// Goroutine to read and process commands from client
	go func() {
		for {
			var cmd server.WSCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				close(done)
				return
			}
			s.commands.Handle(cmd, conn, func() {
				select {
				case statusUpdate <- true:
				default:
				}
			})
		}
	}()

	levelsTicker := time.NewTicker(100 * time.Millisecond) // 10 fps for the level meter
	statusTicker := time.NewTicker(3 * time.Second)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	sendStatus := func() error {
		return conn.WriteJSON(s.statusPayload())
	}

	// Send initial status
	if err := sendStatus(); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-statusUpdate:
			if err := sendStatus(); err != nil {
				return
			}
		case <-levelsTicker.C:
			if err := conn.WriteJSON(map[string]any{
				"type":   "levels",
				"levels": s.engine.Levels(),
			}); err != nil {
				return
			}
		case <-statusTicker.C:
			if err := sendStatus(); err != nil {
				return
			}
		}
	}
}

// handleLogin validates credentials posted as JSON and sets a session cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	snap := s.config.Snapshot()
	if !s.sessions.Login(w, r, creds.Username, creds.Password, snap.WebUser, snap.WebPassword) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	writeJSON(w, map[string]any{"ok": true})
}

// handleLogout clears the session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(w, r)
	writeJSON(w, map[string]any{"ok": true})
}

// handleStatus returns the full status document.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.statusPayload())
}

// handleLevels returns the most recent meter reading.
func (s *Server) handleLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.engine.Levels())
}

// handleLogs returns the recent application log tail.
func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(s.logBuf.String())); err != nil {
		slog.Error("failed to write log tail", "error", err)
	}
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.sessions.AuthMiddleware()

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	// WebSocket for all real-time communication (session protected)
	mux.HandleFunc("/ws", auth(s.handleWebSocket))

	// JSON API (also protected)
	mux.HandleFunc("/api/status", auth(s.handleStatus))
	mux.HandleFunc("/api/levels", auth(s.handleLevels))
	mux.HandleFunc("/api/logs", auth(s.handleLogs))

	return mux
}

// Start begins listening and serving HTTP requests on the configured port.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

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
