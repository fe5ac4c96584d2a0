package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/avkit/streamcore/internal/config"
	"github.com/avkit/streamcore/internal/notify"
	"github.com/avkit/streamcore/internal/util"
	"github.com/gorilla/websocket"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WSTestResult reports the outcome of a notification test to the client.
type WSTestResult struct {
	Type     string `json:"type"`
	TestType string `json:"test_type"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// WSStreamLogResult carries stream log entries back to the client.
type WSStreamLogResult struct {
	Type    string                  `json:"type"`
	Success bool                    `json:"success"`
	Error   string                  `json:"error,omitempty"`
	Path    string                  `json:"path,omitempty"`
	Entries []notify.StreamLogEntry `json:"entries,omitempty"`
}

// EngineControls are the engine operations the command handler drives.
type EngineControls struct {
	Running      func() bool
	StartOutput  func(id string) error
	StopOutput   func(id string) error
	RemoveOutput func(id string) error
	SetVolumeDB  func(db float64) bool
	SetMuted     func(muted bool)
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg          *config.Config
	engine       EngineControls
	testTriggers map[string]func() error
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, engine EngineControls, testTriggers map[string]func() error) *CommandHandler {
	return &CommandHandler{
		cfg:          cfg,
		engine:       engine,
		testTriggers: testTriggers,
	}
}

// Handle processes a WebSocket command and performs the requested action.
func (h *CommandHandler) Handle(cmd WSCommand, conn *websocket.Conn, triggerStatusUpdate func()) {
	switch cmd.Type {
	case "add_output":
		h.handleAddOutput(cmd)
	case "delete_output":
		h.handleDeleteOutput(cmd)
	case "start_output":
		h.handleStartOutput(cmd)
	case "stop_output":
		h.handleStopOutput(cmd)
	case "set_volume":
		h.handleSetVolume(cmd)
	case "set_mute":
		h.handleSetMute(cmd)
	case "update_settings":
		h.handleUpdateSettings(cmd)
	case "test_webhook", "test_log", "test_email":
		h.handleTest(conn, cmd.Type)
	case "view_stream_log":
		h.handleViewStreamLog(conn)
	default:
		slog.Warn("unknown WebSocket command type", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// maxOutputs caps the configured destinations.
const maxOutputs = 10

func (h *CommandHandler) handleAddOutput(cmd WSCommand) {
	var out config.Output
	if err := json.Unmarshal(cmd.Data, &out); err != nil {
		slog.Warn("add_output: invalid JSON data", "error", err)
		return
	}
	if err := util.ValidateRequired("url", out.URL); err != nil {
		slog.Warn("add_output: validation failed", "error", err.Message)
		return
	}
	if err := util.ValidateMaxLength("url", out.URL, 1024); err != nil {
		slog.Warn("add_output: validation failed", "error", err.Message)
		return
	}
	if len(h.cfg.ConfiguredOutputs()) >= maxOutputs {
		slog.Warn("add_output: maximum number of outputs reached", "max", maxOutputs)
		return
	}
	if err := h.cfg.AddOutput(&out); err != nil {
		slog.Error("add_output: failed to add", "error", err)
		return
	}
	slog.Info("add_output: added output", "output_id", out.ID, "url", out.URL)
	if h.engine.Running() {
		if err := h.engine.StartOutput(out.ID); err != nil {
			slog.Error("add_output: failed to start output", "error", err)
		}
	}
}

func (h *CommandHandler) handleDeleteOutput(cmd WSCommand) {
	if cmd.ID == "" {
		slog.Warn("delete_output: no ID provided")
		return
	}
	slog.Info("delete_output: deleting", "output_id", cmd.ID)
	if err := h.engine.RemoveOutput(cmd.ID); err != nil {
		slog.Error("delete_output: failed to stop", "error", err)
	}
	if err := h.cfg.RemoveOutput(cmd.ID); err != nil {
		slog.Error("delete_output: failed to remove from config", "error", err)
	} else {
		slog.Info("delete_output: removed from config", "output_id", cmd.ID)
	}
}

func (h *CommandHandler) handleStartOutput(cmd WSCommand) {
	if cmd.ID == "" {
		slog.Warn("start_output: no ID provided")
		return
	}
	if err := h.engine.StartOutput(cmd.ID); err != nil {
		slog.Error("start_output: failed", "output_id", cmd.ID, "error", err)
	}
}

func (h *CommandHandler) handleStopOutput(cmd WSCommand) {
	if cmd.ID == "" {
		slog.Warn("stop_output: no ID provided")
		return
	}
	if err := h.engine.StopOutput(cmd.ID); err != nil {
		slog.Error("stop_output: failed", "output_id", cmd.ID, "error", err)
	}
}

func (h *CommandHandler) handleSetVolume(cmd WSCommand) {
	var vol struct {
		DB *float64 `json:"db"`
	}
	if err := json.Unmarshal(cmd.Data, &vol); err != nil {
		slog.Warn("set_volume: invalid JSON data", "error", err)
		return
	}
	if vol.DB == nil {
		slog.Warn("set_volume: no value provided")
		return
	}
	if !h.engine.SetVolumeDB(*vol.DB) {
		slog.Info("set_volume: value clamped", "db", *vol.DB)
	}
}

func (h *CommandHandler) handleSetMute(cmd WSCommand) {
	var mute struct {
		Muted bool `json:"muted"`
	}
	if err := json.Unmarshal(cmd.Data, &mute); err != nil {
		slog.Warn("set_mute: invalid JSON data", "error", err)
		return
	}
	h.engine.SetMuted(mute.Muted)
	slog.Info("set_mute", "muted", mute.Muted)
}

func (h *CommandHandler) handleUpdateSettings(cmd WSCommand) {
	var settings struct {
		MeterUpdateMS   *int    `json:"meter_update_ms"`
		PeakHoldMS      *int    `json:"peak_hold_ms"`
		FaderCurve      *string `json:"fader_curve"`
		RetryBaseSec    *int    `json:"retry_base_sec"`
		MaxRetries      *int    `json:"max_retries"`
		WebhookURL      *string `json:"webhook_url"`
		LogPath         *string `json:"log_path"`
		EmailSMTPHost   *string `json:"email_smtp_host"`
		EmailSMTPPort   *int    `json:"email_smtp_port"`
		EmailFromName   *string `json:"email_from_name"`
		EmailUsername   *string `json:"email_username"`
		EmailPassword   *string `json:"email_password"`
		EmailRecipients *string `json:"email_recipients"`
	}
	if err := json.Unmarshal(cmd.Data, &settings); err != nil {
		slog.Warn("update_settings: invalid JSON data", "error", err)
		return
	}

	if settings.MeterUpdateMS != nil || settings.PeakHoldMS != nil || settings.FaderCurve != nil {
		updateMS := h.cfg.MeterUpdateInterval()
		peakHoldMS := h.cfg.PeakHold()
		curve := h.cfg.FaderCurve()
		if settings.MeterUpdateMS != nil {
			updateMS = *settings.MeterUpdateMS
		}
		if settings.PeakHoldMS != nil {
			peakHoldMS = *settings.PeakHoldMS
		}
		if settings.FaderCurve != nil {
			curve = *settings.FaderCurve
		}
		slog.Info("update_settings: updating meter settings",
			"update_ms", updateMS, "peak_hold_ms", peakHoldMS, "curve", curve)
		if err := h.cfg.SetMeterSettings(updateMS, peakHoldMS, curve); err != nil {
			slog.Error("update_settings: failed to save meter settings", "error", err)
		}
	}

	if settings.RetryBaseSec != nil || settings.MaxRetries != nil {
		baseSec := int(h.cfg.RetryBase().Seconds())
		maxRetries := h.cfg.MaxRetries()
		if settings.RetryBaseSec != nil {
			baseSec = *settings.RetryBaseSec
		}
		if settings.MaxRetries != nil {
			maxRetries = *settings.MaxRetries
		}
		slog.Info("update_settings: updating reconnect settings",
			"retry_base_sec", baseSec, "max_retries", maxRetries)
		if err := h.cfg.SetReconnectSettings(baseSec, maxRetries); err != nil {
			slog.Error("update_settings: failed to save reconnect settings", "error", err)
		}
	}

	updateStringSetting(settings.WebhookURL, "webhook URL", h.cfg.SetWebhookURL)
	updateStringSetting(settings.LogPath, "log path", h.cfg.SetLogPath)

	if settings.EmailSMTPHost != nil || settings.EmailSMTPPort != nil ||
		settings.EmailFromName != nil || settings.EmailUsername != nil ||
		settings.EmailPassword != nil || settings.EmailRecipients != nil {
		// Get current values for fields not being updated
		snap := h.cfg.Snapshot()
		host := snap.EmailSMTPHost
		port := snap.EmailSMTPPort
		fromName := snap.EmailFromName
		username := snap.EmailUsername
		password := snap.EmailPassword
		recipients := snap.EmailRecipients
		if settings.EmailSMTPHost != nil {
			host = *settings.EmailSMTPHost
		}
		if settings.EmailSMTPPort != nil {
			port = max(1, min(*settings.EmailSMTPPort, 65535))
		}
		if settings.EmailFromName != nil {
			fromName = *settings.EmailFromName
		}
		if settings.EmailUsername != nil {
			username = *settings.EmailUsername
		}
		if settings.EmailPassword != nil {
			password = *settings.EmailPassword
		}
		if settings.EmailRecipients != nil {
			recipients = *settings.EmailRecipients
		}

		slog.Info("update_settings: updating email configuration")
		if err := h.cfg.SetEmailConfig(host, port, fromName, username, password, recipients); err != nil {
			slog.Error("update_settings: failed to save email config", "error", err)
		}
	}
}

// updateStringSetting updates a string setting.
func updateStringSetting(value *string, name string, setter func(string) error) {
	if value == nil {
		return
	}
	slog.Info("update_settings: changing setting", "setting", name)
	if err := setter(*value); err != nil {
		slog.Error("update_settings: failed to save", "error", err)
	}
}

// handleTest executes a notification test and sends the result to the client.
// testCmd should be in format "test_<type>" (e.g., "test_email", "test_webhook").
func (h *CommandHandler) handleTest(conn *websocket.Conn, testCmd string) {
	testType := strings.TrimPrefix(testCmd, "test_")
	trigger, ok := h.testTriggers[testType]
	if !ok {
		slog.Warn("unknown test type", "command", testCmd)
		return
	}

	go func() {
		result := WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := trigger(); err != nil {
			slog.Error("test failed", "command", testCmd, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "command", testCmd)
		}

		if wsErr := conn.WriteJSON(result); wsErr != nil {
			slog.Error("failed to send test response", "command", testCmd, "error", wsErr)
		}
	}()
}

// handleViewStreamLog reads and returns the stream log file contents.
func (h *CommandHandler) handleViewStreamLog(conn *websocket.Conn) {
	go func() {
		result := WSStreamLogResult{
			Type:    "stream_log_result",
			Success: true,
		}

		logPath := h.cfg.Snapshot().LogPath
		if logPath == "" {
			result.Success = false
			result.Error = "Log file path not configured"
			if wsErr := conn.WriteJSON(result); wsErr != nil {
				slog.Error("failed to send stream log response", "error", wsErr)
			}
			return
		}

		entries, err := readStreamLog(logPath, 100)
		if err != nil {
			result.Success = false
			result.Error = err.Error()
		} else {
			result.Entries = entries
			result.Path = logPath
		}

		if wsErr := conn.WriteJSON(result); wsErr != nil {
			slog.Error("failed to send stream log response", "error", wsErr)
		}
	}()
}

// readStreamLog reads the last N entries from the stream log file.
func readStreamLog(logPath string, maxEntries int) ([]notify.StreamLogEntry, error) {
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return []notify.StreamLogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return []notify.StreamLogEntry{}, nil
	}

	start := max(0, len(lines)-maxEntries)
	lines = lines[start:]

	entries := make([]notify.StreamLogEntry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var entry notify.StreamLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // Skip malformed entries
		}
		entries = append(entries, entry)
	}

	// Reverse to show newest first
	slices.Reverse(entries)

	return entries, nil
}
