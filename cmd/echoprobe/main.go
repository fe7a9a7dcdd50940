// echoprobe sends request messages to a WebSocket endpoint and prints the
// correlated replies with round-trip timings. Useful for smoke-testing an
// endpoint that echoes or answers the envelope format.
// Usage: echoprobe --endpoint wss://events.example.com/stream --count 5
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

	"github.com/driftlock/wsbridge/internal/auth"
	"github.com/driftlock/wsbridge/internal/connection"
	"github.com/driftlock/wsbridge/internal/message"
)

func main() {
	endpoint := flag.String("endpoint", "", "WebSocket endpoint (ws:// or wss://)")
	token := flag.String("token", "", "bearer token (or set via --token-file)")
	tokenFile := flag.String("token-file", "", "path to a file holding the bearer token")
	text := flag.String("message", "ping from echoprobe", "text payload to send")
	count := flag.Int("count", 3, "number of probes to send")
	interval := flag.Duration("interval", time.Second, "delay between probes")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	compress := flag.Bool("compress", false, "zstd-compress outbound messages")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if *endpoint == "" {
		fmt.Fprintln(os.Stderr, "usage: echoprobe --endpoint wss://host/path [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	creds, err := auth.Resolve(*token, *tokenFile)
	if err != nil {
		logger.Error("failed to resolve credentials", "error", err)
		os.Exit(1)
	}

	cfg := connection.DefaultConfig()
	cfg.Endpoint = *endpoint
	cfg.AuthToken = creds.Token
	cfg.RequestTimeout = *timeout
	cfg.Compression = *compress
	cfg.HeartbeatInterval = 0 // probes are the traffic

	mgr, err := connection.NewManager(cfg, logger)
	if err != nil {
		logger.Error("failed to create connection manager", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := mgr.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer mgr.Disconnect()

	fmt.Printf("connected to %s\n", *endpoint)

	failures := 0
	for i := 1; i <= *count; i++ {
		msg := message.NewText(*text, "echoprobe", map[string]string{
			"seq": fmt.Sprintf("%d", i),
		})

		start := time.Now()
		reply, err := mgr.SendAndWait(ctx, msg)
		if err != nil {
			failures++
			fmt.Printf("[%d/%d] FAILED: %v\n", i, *count, err)
		} else {
			fmt.Printf("[%d/%d] reply id=%s kind=%s rtt=%s\n",
				i, *count, reply.ID, reply.Kind, time.Since(start).Round(time.Microsecond))
		}

		if i < *count {
			select {
			case <-ctx.Done():
			case <-time.After(*interval):
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	stats := mgr.Metrics().Snapshot()
	fmt.Printf("\nsent=%d received=%d bytes_out=%d bytes_in=%d avg_latency=%s errors=%d\n",
		stats.MessagesSent, stats.MessagesReceived,
		stats.BytesSent, stats.BytesReceived,
		stats.AvgLatency.Round(time.Microsecond), stats.Errors)

	if failures > 0 {
		os.Exit(1)
	}
}
