package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avkit/streamcore/internal/config"
)

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())
	return cfg, dir
}

func TestEngineStartAndStop(t *testing.T) {
	t.Parallel()

	cfg, dir := testConfig(t)
	sinkPath := filepath.Join(dir, "out.bin")
	require.NoError(t, cfg.AddOutput(&config.Output{ID: "main", URL: sinkPath}))

	eng := New(cfg)
	assert.Equal(t, StateStopped, eng.State())

	require.NoError(t, eng.Start())
	assert.Equal(t, StateRunning, eng.State())

	// The signal loop should deliver packets to the sink.
	require.Eventually(t, func() bool {
		info, err := os.Stat(sinkPath)
		return err == nil && info.Size() > 0
	}, 2*time.Second, 20*time.Millisecond)

	// Meter levels follow from the same loop.
	require.Eventually(t, func() bool {
		l := eng.Levels()
		return l.Magnitude > 0 && l.Level > 0
	}, 2*time.Second, 20*time.Millisecond)

	eng.Stop()
	assert.Equal(t, StateStopped, eng.State())
}

func TestEngineStartIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg, _ := testConfig(t)
	eng := New(cfg)

	require.NoError(t, eng.Start())
	require.NoError(t, eng.Start())
	eng.Stop()
	eng.Stop()
}

func TestEngineStartOutputUnknown(t *testing.T) {
	t.Parallel()

	cfg, _ := testConfig(t)
	eng := New(cfg)

	err := eng.StartOutput("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestEngineStartOutputAtRuntime(t *testing.T) {
	t.Parallel()

	cfg, dir := testConfig(t)
	eng := New(cfg)
	require.NoError(t, eng.Start())
	defer eng.Stop()

	sinkPath := filepath.Join(dir, "late.bin")
	require.NoError(t, cfg.AddOutput(&config.Output{ID: "late", URL: sinkPath}))

	require.NoError(t, eng.StartOutput("late"))
	require.Eventually(t, func() bool {
		info, err := os.Stat(sinkPath)
		return err == nil && info.Size() > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, eng.StopOutput("late"))
	require.NoError(t, eng.RemoveOutput("late"))
	assert.Nil(t, eng.Outputs().Output("late"))
}

func TestEngineRemoveOutputUnmanaged(t *testing.T) {
	t.Parallel()

	cfg, _ := testConfig(t)
	eng := New(cfg)

	require.NoError(t, eng.RemoveOutput("never-added"))
}

func TestEngineMuteSilencesPayload(t *testing.T) {
	t.Parallel()

	cfg, dir := testConfig(t)
	sinkPath := filepath.Join(dir, "muted.bin")
	require.NoError(t, cfg.AddOutput(&config.Output{ID: "main", URL: sinkPath}))

	eng := New(cfg)
	eng.SetMuted(true)
	assert.True(t, eng.Muted())

	require.NoError(t, eng.Start())
	require.Eventually(t, func() bool {
		info, err := os.Stat(sinkPath)
		return err == nil && info.Size() > 0
	}, 2*time.Second, 20*time.Millisecond)
	eng.Stop()

	data, err := os.ReadFile(sinkPath)
	require.NoError(t, err)

	// Every payload byte past each record header must be zero.
	for _, b := range data[len(data)-16:] {
		assert.Zero(t, b)
	}
}
