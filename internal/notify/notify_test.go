package notify

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avkit/streamcore/internal/config"
	"github.com/avkit/streamcore/internal/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamLogRoundTrip(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "stream.log")

	require.NoError(t, LogDisconnect(logPath, "main"))
	require.NoError(t, LogRecovered(logPath, "main"))
	require.NoError(t, LogGiveUp(logPath, "backup", 20))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "stream_disconnected")
	assert.Contains(t, lines[1], "stream_recovered")
	assert.Contains(t, lines[2], "stream_gave_up")
	assert.Contains(t, lines[2], "backup")
}

func TestLogSkipsWhenUnconfigured(t *testing.T) {
	t.Parallel()
	require.NoError(t, LogDisconnect("", "main"))
}

func TestWriteTestLogRequiresPath(t *testing.T) {
	t.Parallel()
	require.Error(t, WriteTestLog(""))
}

func TestSendWebhook(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, SendDisconnectWebhook(srv.URL, "main", 2))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendWebhookSkipsWhenUnconfigured(t *testing.T) {
	t.Parallel()
	require.NoError(t, SendRecoveredWebhook("", "main"))
}

func TestSendTestWebhookRequiresURL(t *testing.T) {
	t.Parallel()
	require.Error(t, SendTestWebhook(""))
}

func TestNotifierDeduplicatesOutage(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "stream.log")
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetLogPath(logPath))

	n := NewStreamNotifier(cfg)

	reconnect := output.Event{Kind: output.EventReconnect, Output: "main", Timeout: 2 * time.Second}
	n.HandleEvent("main", reconnect)
	n.HandleEvent("main", reconnect)
	n.HandleEvent("main", reconnect)

	require.Eventually(t, func() bool {
		return countLogLines(t, logPath, "stream_disconnected") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Still one disconnect entry after the retry storm.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, countLogLines(t, logPath, "stream_disconnected"))

	n.HandleEvent("main", output.Event{Kind: output.EventReconnectSuccess, Output: "main"})
	require.Eventually(t, func() bool {
		return countLogLines(t, logPath, "stream_recovered") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifierRecoveryOnlyAfterOutage(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "stream.log")
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetLogPath(logPath))

	n := NewStreamNotifier(cfg)
	n.HandleEvent("main", output.Event{Kind: output.EventReconnectSuccess, Output: "main"})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, countLogLines(t, logPath, "stream_recovered"))
}

func TestNotifierGiveUp(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "stream.log")
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetLogPath(logPath))

	n := NewStreamNotifier(cfg)
	n.HandleEvent("main", output.Event{Kind: output.EventReconnect, Output: "main", Timeout: time.Second})
	n.HandleEvent("main", output.Event{Kind: output.EventStop, Output: "main", Code: output.StopDisconnected})

	require.Eventually(t, func() bool {
		return countLogLines(t, logPath, "stream_gave_up") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifierIgnoresCleanStop(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "stream.log")
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetLogPath(logPath))

	n := NewStreamNotifier(cfg)
	n.HandleEvent("main", output.Event{Kind: output.EventStop, Output: "main", Code: output.StopSuccess})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, countLogLines(t, logPath, "stream_gave_up"))
}

func countLogLines(t *testing.T, path, needle string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)

	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, needle) {
			count++
		}
	}
	return count
}
