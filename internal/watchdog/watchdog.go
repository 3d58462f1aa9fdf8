// Package watchdog integrates the relay with a systemd service manager:
// readiness and stop notifications plus a periodic liveness heartbeat.
// Every notification is a no-op outside systemd (NOTIFY_SOCKET unset), so
// the binary behaves identically under docker, launchd, or a terminal; Run
// still executes and logs its checks there.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// Check probes one aspect of relay health. A non-nil error is logged but
// does not stop the heartbeat: the watchdog proves the process is alive,
// not that every subsystem is happy.
type Check struct {
	Name  string
	Probe func() error
}

// Run heartbeats systemd at the given interval, running the checks each
// tick. Blocks until ctx is cancelled.
func Run(ctx context.Context, interval time.Duration, checks ...Check) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range checks {
				if err := c.Probe(); err != nil {
					slog.Warn("health check failed", "check", c.Name, "err", err)
				}
			}
			_ = Heartbeat()
		}
	}
}

// Ready announces successful startup (READY=1).
func Ready() error { return notify("READY=1") }

// Heartbeat resets the service manager's watchdog timer (WATCHDOG=1).
func Heartbeat() error { return notify("WATCHDOG=1") }

// Stopping announces the beginning of graceful shutdown (STOPPING=1).
func Stopping() error { return notify("STOPPING=1") }

// notify writes one state string to the sd_notify datagram socket.
func notify(state string) error {
	socket := os.Getenv("NOTIFY_SOCKET")
	if socket == "" {
		return nil
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: socket, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("sd_notify dial: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("sd_notify write: %w", err)
	}
	return nil
}
