// Command voxloop runs the voice-conversation engine: it serves the
// WebSocket host bridge and assembles one engine session per connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxkit/voxloop/internal/app"
	"github.com/voxkit/voxloop/internal/config"
	"github.com/voxkit/voxloop/internal/observe"
	"github.com/voxkit/voxloop/pkg/audio/wsbridge"
)

const defaultListenAddr = ":8090"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxloop: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		}
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	slog.Info("voxloop starting",
		"config", *configPath,
		"listen_addr", addr,
		"platform", cfg.Audio.Platform,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxloop"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	manager := app.NewSessionManager(cfg, observe.DefaultMetrics())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/bridge", func(w http.ResponseWriter, r *http.Request) {
		bridge, err := wsbridge.Accept(w, r)
		if err != nil {
			slog.Warn("bridge accept failed", "err", err, "remote", r.RemoteAddr)
			return
		}
		if _, err := manager.Start(r.Context(), bridge); err != nil {
			slog.Warn("session start failed", "err", err, "remote", r.RemoteAddr)
			_ = bridge.Close()
			return
		}
		slog.Info("host connected", "remote", r.RemoteAddr)
		<-bridge.Done()
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("server ready")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	slog.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if manager.IsActive() {
		if err := manager.Stop(shutdownCtx); err != nil {
			slog.Warn("session stop error", "err", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
