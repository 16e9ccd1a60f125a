package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, logCloser, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if code := run(cfg, logger); code != 0 {
		_ = logCloser.Close()
		os.Exit(code)
	}
}

func run(cfg config.Config, logger *slog.Logger) int {
	logger.Info("starting aero-ws-peer-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"config_file", cfg.ConfigFile,
		"allowed_origins", cfg.AllowedOrigins,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"max_queued_messages", cfg.MaxQueuedMessages,
		"ws_ping_interval", cfg.WSPingInterval,
		"ws_idle_timeout", cfg.WSIdleTimeout,
	)
	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()
	registry := hub.NewRegistryWithOptions(hub.RegistryOptions{
		MaxQueuedMessages: cfg.MaxQueuedMessages,
		Metrics:           m,
	})
	h := hub.New(registry, m, logger, hub.Options{MaxMessagesPerSecond: cfg.MaxMessagesPerSecond})

	ws, err := signaling.NewWebSocketServer(cfg, h, m, logger)
	if err != nil {
		logger.Error("failed to configure websocket server", "err", err)
		return 2
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		return 1
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, m)
	// Every path that is not an operational endpoint is a relay connection.
	srv.Mux().Handle("/", ws)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			return 1
		}
		return 0
	case <-ctx.Done():
		logger.Info("shutdown signal received", "peers", registry.Len())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		return 1
	}
	return 0
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
