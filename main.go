// Package main implements an audio streaming core: a mix line with
// fader and level metering, streamed to multiple file-sink destinations
// with automatic reconnect, controlled over a web API.
//
// Usage:
//
//	streamcore [-config path/to/config.json]
//
// If -config is not specified, the service looks for config.json in the
// same directory as the binary.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/avkit/streamcore/internal/config"
	"github.com/avkit/streamcore/internal/engine"
	"github.com/avkit/streamcore/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	// Mirror log output into a bounded ring for the /api/logs endpoint.
	logBuf := util.NewLogBuffer()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, logBuf), nil)))

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	eng := engine.New(cfg)

	srv := NewServer(cfg, eng, logBuf)

	slog.Info("starting engine")
	if err := eng.Start(); err != nil {
		slog.Error("failed to start engine", "error", err)
	}

	// Start web server.
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	// Shut down HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	eng.Stop()

	slog.Info("shutdown complete")
}
