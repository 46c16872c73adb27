package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "mcwatch/pkg/logx"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
	sdWatchdog = daemon.SdNotifyWatchdog
)

// sdNotify reports state to systemd. Outside a Type=notify unit it does
// nothing.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}

// watchdog pings the systemd watchdog at half its interval while the app is
// healthy. A stuck poll loop stops the pings and lets systemd restart us.
func (a *App) watchdog(ctx context.Context) error {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog misconfigured", logx.Err(err))
		return nil
	}
	if every <= 0 {
		return nil
	}
	every /= 2
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := a.Health(); err != nil {
				a.log.Warn("skipping watchdog ping", logx.Err(err))
				continue
			}
			sdNotify(a.log, sdWatchdog)
		}
	}
}
