// Package systemd reports service state to the service manager. Every call
// is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages.
type Notifier struct {
	notify func(state string) (bool, error)
	logger *slog.Logger
}

// NewNotifier creates a notifier that writes to $NOTIFY_SOCKET.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		logger: logger,
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", "state", state)
	}
}

// Ready reports that the first session is recording.
func (n *Notifier) Ready(workers int) {
	n.send(daemon.SdNotifyReady + "\n" + statusLine(workers))
}

// Status updates the status line shown by systemctl.
func (n *Notifier) Status(workers int) {
	n.send(statusLine(workers))
}

// Stopping reports that shutdown has begun.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

// Watchdog pings the watchdog at half its interval until ctx ends. It
// returns immediately when the unit has no WatchdogSec.
func (n *Notifier) Watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}

func statusLine(workers int) string {
	if workers == 1 {
		return "STATUS=Recording 1 camera"
	}
	return fmt.Sprintf("STATUS=Recording %d cameras", workers)
}
