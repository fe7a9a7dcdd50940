// wsbridge maintains a persistent connection to a WebSocket endpoint,
// logging inbound traffic and periodic connection statistics.
// Usage: wsbridge --config configs/bridge.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftlock/wsbridge/internal/auth"
	"github.com/driftlock/wsbridge/internal/config"
	"github.com/driftlock/wsbridge/internal/connection"
	"github.com/driftlock/wsbridge/internal/message"
	"github.com/driftlock/wsbridge/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/bridge.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting wsbridge",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"endpoint", cfg.Endpoint.URL,
	)

	// Resolve credentials
	creds, err := auth.Resolve(cfg.Endpoint.AuthToken, cfg.Endpoint.AuthTokenFile)
	if err != nil {
		logger.Error("failed to resolve credentials", "error", err)
		os.Exit(1)
	}
	if creds.IsAnonymous() {
		logger.Warn("no auth token configured, connecting anonymously")
	}

	// Create connection manager
	mgr, err := connection.NewManager(cfg.Manager(creds.Token), logger)
	if err != nil {
		logger.Error("failed to create connection manager", "error", err)
		os.Exit(1)
	}

	// Log inbound traffic
	mgr.Subscribe(message.KindText, func(msg *message.Message) {
		logger.Info("text message",
			"id", msg.ID,
			"sender", msg.Text.Sender,
			"content", msg.Text.Content,
		)
	})
	mgr.Subscribe(message.KindBinary, func(msg *message.Message) {
		logger.Info("binary message",
			"id", msg.ID,
			"encoding", msg.Binary.Encoding,
			"bytes", len(msg.Binary.Data),
		)
	})
	mgr.Subscribe(message.KindControl, func(msg *message.Message) {
		logger.Debug("control message",
			"id", msg.ID,
			"command", msg.Control.Command,
		)
	})

	// Handle shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := mgr.Connect(ctx); err != nil {
		// The manager keeps retrying in the background; only bail out
		// when it has already given up.
		logger.Error("initial connect failed", "error", err)
		if mgr.State() == connection.StateFailed {
			os.Exit(1)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Periodic status report
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				info := mgr.Info()
				stats := mgr.Metrics().Snapshot()
				logger.Info("status",
					"state", info.State.String(),
					"queue_depth", info.QueueDepth,
					"pending", info.PendingCount,
					"reconnect_attempts", info.ReconnectAttempts,
					"sent", stats.MessagesSent,
					"received", stats.MessagesReceived,
					"decode_failures", stats.DecodeFailures,
					"avg_latency", stats.AvgLatency,
				)
			}
		}
	})

	// Terminal-failure watchdog
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if mgr.State() == connection.StateFailed {
					return fmt.Errorf("connection failed permanently after %d attempts",
						mgr.Info().ReconnectAttempts)
				}
			}
		}
	})

	logger.Info("wsbridge running - press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		logger.Error("bridge stopped", "error", err)
		mgr.Disconnect()
		os.Exit(1)
	}

	logger.Info("shutting down...")
	mgr.Disconnect()
	logger.Info("wsbridge stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
