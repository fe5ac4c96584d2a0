package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avkit/streamcore/internal/util"
)

const webhookAttempts = 3

// SendDisconnectWebhook sends a POST request when a stream output drops.
func SendDisconnectWebhook(webhookURL, outputName string, retryWaitSec float64) error {
	return sendWebhook(webhookURL, map[string]any{
		"event":          "stream_disconnected",
		"output":         outputName,
		"retry_wait_sec": retryWaitSec,
		"timestamp":      util.RFC3339Now(),
	})
}

// SendRecoveredWebhook sends a POST request when a stream output reconnects.
func SendRecoveredWebhook(webhookURL, outputName string) error {
	return sendWebhook(webhookURL, map[string]any{
		"event":     "stream_recovered",
		"output":    outputName,
		"timestamp": util.RFC3339Now(),
	})
}

// SendGiveUpWebhook sends a POST request when an output exhausts its retry budget.
func SendGiveUpWebhook(webhookURL, outputName string, maxRetries int) error {
	return sendWebhook(webhookURL, map[string]any{
		"event":       "stream_gave_up",
		"output":      outputName,
		"max_retries": maxRetries,
		"timestamp":   util.RFC3339Now(),
	})
}

// SendTestWebhook sends a test POST request to verify webhook configuration.
func SendTestWebhook(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, map[string]any{
		"event":     "test",
		"message":   "This is a test notification from streamcore",
		"timestamp": util.RFC3339Now(),
	})
}

// sendWebhook sends a POST request with JSON payload to the webhook URL.
// Transient failures are retried with exponential backoff.
func sendWebhook(webhookURL string, payload map[string]any) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	backoff := util.NewBackoff(time.Second, 10*time.Second)
	var lastErr error
	for attempt := 0; attempt < webhookAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff.Next())
		}
		if lastErr = postWebhook(webhookURL, jsonData); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func postWebhook(webhookURL string, jsonData []byte) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
