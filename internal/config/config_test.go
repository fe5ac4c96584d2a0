package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "config.json"))
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	_, err := os.Stat(path)
	require.NoError(t, err)

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultWebPort, snap.WebPort)
	assert.Equal(t, DefaultSampleRate, snap.SampleRate)
	assert.Equal(t, DefaultChannels, snap.Channels)
	assert.Equal(t, DefaultMeterUpdateMS, snap.MeterUpdateMS)
	assert.Equal(t, DefaultPeakHoldMS, snap.PeakHoldMS)
	assert.Equal(t, DefaultFaderCurve, snap.FaderCurve)
	assert.Equal(t, time.Duration(DefaultRetryBaseSec)*time.Second, snap.RetryBase)
	assert.Equal(t, DefaultMaxRetries, snap.MaxRetries)
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	require.NoError(t, cfg.SetMeterSettings(100, 2000, "iec"))
	require.NoError(t, cfg.SetReconnectSettings(5, 7))
	require.NoError(t, cfg.SetWebhookURL("https://example.com/hook"))

	reloaded := New(path)
	require.NoError(t, reloaded.Load())

	assert.Equal(t, 100, reloaded.MeterUpdateInterval())
	assert.Equal(t, 2000, reloaded.PeakHold())
	assert.Equal(t, "iec", reloaded.FaderCurve())
	assert.Equal(t, 5*time.Second, reloaded.RetryBase())
	assert.Equal(t, 7, reloaded.MaxRetries())
	assert.Equal(t, "https://example.com/hook", reloaded.Snapshot().WebhookURL)
}

func TestAddAndRemoveOutput(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, cfg.Load())

	out := &Output{URL: "/tmp/stream-a.bin"}
	require.NoError(t, cfg.AddOutput(out))
	require.NotEmpty(t, out.ID)
	require.NotZero(t, out.CreatedAt)

	got := cfg.Output(out.ID)
	require.NotNil(t, got)
	assert.Equal(t, "/tmp/stream-a.bin", got.URL)
	assert.Len(t, cfg.ConfiguredOutputs(), 1)

	require.NoError(t, cfg.RemoveOutput(out.ID))
	assert.Nil(t, cfg.Output(out.ID))
	assert.Empty(t, cfg.ConfiguredOutputs())
}

func TestAddOutputRequiresURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, cfg.Load())

	err := cfg.AddOutput(&Output{})
	require.Error(t, err)
	assert.Empty(t, cfg.ConfiguredOutputs())
}

func TestRemoveOutputNotFound(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, cfg.Load())
	require.Error(t, cfg.RemoveOutput("missing"))
}

func TestSetMeterSettingsValidation(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, cfg.Load())

	require.Error(t, cfg.SetMeterSettings(5, 1500, "cubic"))
	require.Error(t, cfg.SetMeterSettings(50, -1, "cubic"))
	require.NoError(t, cfg.SetMeterSettings(50, 1500, "log"))
}

func TestSetReconnectSettingsValidation(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, cfg.Load())

	require.Error(t, cfg.SetReconnectSettings(0, 20))
	require.Error(t, cfg.SetReconnectSettings(2, -1))
	require.NoError(t, cfg.SetReconnectSettings(2, 0))
}

func TestSnapshotHelpers(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.False(t, snap.HasWebhook())
	assert.False(t, snap.HasEmail())
	assert.False(t, snap.HasLogPath())

	require.NoError(t, cfg.SetWebhookURL("https://example.com/hook"))
	require.NoError(t, cfg.SetLogPath("/tmp/stream.log"))
	require.NoError(t, cfg.SetEmailConfig("smtp.example.com", 587, "", "user", "pass", "ops@example.com"))

	snap = cfg.Snapshot()
	assert.True(t, snap.HasWebhook())
	assert.True(t, snap.HasEmail())
	assert.True(t, snap.HasLogPath())
	assert.Equal(t, DefaultEmailFromName, snap.EmailFromName)
}
