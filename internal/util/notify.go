package util

import "log/slog"

// LogNotifyResult executes a notification function and logs the outcome.
// Errors are logged internally, so no error is returned.
func LogNotifyResult(fn func() error, notifyType string, logSuccess bool) {
	if err := fn(); err != nil {
		slog.Error("notification failed", "type", notifyType, "error", err)
	} else if logSuccess {
		slog.Info("notification sent", "type", notifyType)
	}
}
