package notify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/avkit/streamcore/internal/util"
)

// StreamLogEntry is one JSON line in the outage log file.
type StreamLogEntry struct {
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event"`
	Output     string `json:"output,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// LogDisconnect records the beginning of a stream outage.
func LogDisconnect(logPath, outputName string) error {
	return appendLogEntry(logPath, StreamLogEntry{
		Timestamp: util.RFC3339Now(),
		Event:     "stream_disconnected",
		Output:    outputName,
	})
}

// LogRecovered records the end of a stream outage.
func LogRecovered(logPath, outputName string) error {
	return appendLogEntry(logPath, StreamLogEntry{
		Timestamp: util.RFC3339Now(),
		Event:     "stream_recovered",
		Output:    outputName,
	})
}

// LogGiveUp records an output stopping after exhausting its retry budget.
func LogGiveUp(logPath, outputName string, maxRetries int) error {
	return appendLogEntry(logPath, StreamLogEntry{
		Timestamp:  util.RFC3339Now(),
		Event:      "stream_gave_up",
		Output:     outputName,
		MaxRetries: maxRetries,
	})
}

// WriteTestLog writes a test entry to verify log file configuration.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, StreamLogEntry{
		Timestamp: util.RFC3339Now(),
		Event:     "test",
	})
}

// appendLogEntry appends a JSON log entry to the file.
func appendLogEntry(logPath string, entry StreamLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(jsonData); err != nil {
		return util.WrapError("write log entry", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return util.WrapError("write newline", err)
	}

	return nil
}
