// Package systemd reports service state over sd_notify. Every call is a
// no-op when the process was not started by systemd with Type=notify.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "outreach/pkg/logx"
)

func notify(log logx.Logger, state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
	return sent
}

// Ready tells systemd startup finished.
func Ready(log logx.Logger) bool { return notify(log, daemon.SdNotifyReady) }

// Stopping tells systemd a graceful stop began.
func Stopping(log logx.Logger) bool { return notify(log, daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(log logx.Logger, text string) bool { return notify(log, "STATUS="+text) }

// Watchdog pings systemd at half the configured WatchdogSec until ctx is
// done. It returns at once when no watchdog is configured.
func Watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := interval / 2
	log.Info("systemd watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		notify(log, daemon.SdNotifyWatchdog)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
