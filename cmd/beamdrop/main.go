// Command beamdrop runs the signaling relay: a WebSocket rendezvous that
// brokers session descriptions and candidates between two browsers until
// they establish a direct peer connection.
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
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beamdrop/beamdrop/internal/bus"
	"github.com/beamdrop/beamdrop/internal/config"
	"github.com/beamdrop/beamdrop/internal/httpd"
	"github.com/beamdrop/beamdrop/internal/relay"
	"github.com/beamdrop/beamdrop/internal/watchdog"
)

// drainWindow bounds graceful shutdown.
const drainWindow = 5 * time.Second

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

var (
	configPath  = flag.String("config", "", "path to optional YAML config file")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("beamdrop %s\n", appVersion)
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))

	metrics := relay.NewMetrics()
	events := relay.NewEventLog(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var b bus.Bus
	if cfg.BusEnabled() {
		rb, err := bus.NewRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, cfg.NodeID)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer rb.Close()
		b = rb
		slog.Info("cross-instance bus connected", "prefix", cfg.RedisPrefix, "node", cfg.NodeID)
	}

	rly := relay.New(cfg, metrics, events, b)
	surface := httpd.New(cfg, rly, metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           surface.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	started := time.Now()
	slog.Info("beamdrop listening",
		"addr", cfg.ListenAddr,
		"ws_path", cfg.WSPath,
		"metrics", cfg.MetricsEnabled,
		"bus", cfg.BusEnabled(),
		"version", appVersion,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return rly.Run(gctx)
	})

	g.Go(func() error {
		watchdog.Run(gctx, cfg.HeartbeatInterval, watchdog.Check{
			Name: "healthz",
			Probe: func() error {
				return probeHealthz(cfg.ListenAddr)
			},
		})
		return nil
	})

	if err := watchdog.Ready(); err != nil {
		slog.Warn("sd_notify ready failed", "err", err)
	}

	g.Go(func() error {
		<-gctx.Done()
		_ = watchdog.Stopping()

		drainCtx, cancel := context.WithTimeout(context.Background(), drainWindow)
		defer cancel()

		// Stop accepting first, then close supervisors with a
		// going-away code, then let in-flight HTTP requests drain.
		if err := rly.Shutdown(drainCtx); err != nil {
			slog.Warn("relay drain incomplete", "err", err)
		}
		if err := srv.Shutdown(drainCtx); err != nil {
			slog.Warn("http drain incomplete", "err", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("beamdrop stopped", "uptime", time.Since(started).Round(time.Second))
	return err
}

// probeHealthz asks the local HTTP surface whether it still answers.
func probeHealthz(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort(host, port) + "/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz status %d", resp.StatusCode)
	}
	return nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
