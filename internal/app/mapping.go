package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mcwatch/internal/alert"
	"mcwatch/internal/config"
	"mcwatch/internal/notifier"
	"mcwatch/internal/observability/ops"
	"mcwatch/internal/poller"
	"mcwatch/internal/sink/discord"
	"mcwatch/internal/sink/telegram"
	"mcwatch/internal/storage"
	logx "mcwatch/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapPoller(cfg *config.Config) (poller.Config, error) {
	sch, err := poller.ParseSchedule(cfg.Poll.Interval)
	if err != nil {
		return poller.Config{}, fmt.Errorf("poll.interval: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("poll.probe_timeout", cfg.Poll.ProbeTimeout, poller.DefaultProbeTimeout)
	if err != nil {
		return poller.Config{}, err
	}
	// A probe must end before the next one is due.
	if period := poller.MinPeriod(sch, time.Now()); period > 0 && timeout >= period {
		timeout = period * 9 / 10
	}
	return poller.Config{
		Address:      strings.TrimSpace(cfg.Server.Address),
		Game:         alert.GameFor(cfg.Server.Kind),
		ProbeTimeout: timeout,
		Schedule:     sch,
		ScheduleSpec: scheduleSpec(cfg.Poll.Interval, sch),
	}, nil
}

// scheduleSpec is the display form of a schedule: the interval when it has
// one, the raw expression otherwise.
func scheduleSpec(raw string, sch cron.Schedule) string {
	if d := poller.IntervalOf(sch); d > 0 {
		return d.String()
	}
	return strings.TrimSpace(raw)
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	timeout, err := config.ParseDurationOrDefault("notifier.send_timeout", cfg.Notifier.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:  cfg.Notifier.RatePerSec,
		SendTimeout: timeout,
		HistorySize: cfg.Notifier.HistorySize,
	}, nil
}

// buildSinks returns every configured sink, Discord first.
func buildSinks(cfg *config.Config) ([]notifier.Sink, error) {
	var sinks []notifier.Sink
	if cfg.DiscordEnabled() {
		timeout, err := config.ParseDurationOrDefault("discord.timeout", cfg.Discord.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		username := strings.TrimSpace(cfg.Discord.Username)
		if username == "" {
			username = alert.SenderName
		}
		w, err := discord.New(discord.Config{
			WebhookURL: strings.TrimSpace(cfg.Discord.WebhookURL),
			Username:   username,
			AvatarURL:  strings.TrimSpace(cfg.Discord.AvatarURL),
			Timeout:    timeout,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, w)
	}
	if cfg.TelegramEnabled() {
		timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		t, err := telegram.New(telegram.Config{
			Token:    strings.TrimSpace(cfg.Telegram.Token),
			ChatID:   cfg.Telegram.ChatID,
			ThreadID: cfg.Telegram.ThreadID,
			APIURL:   strings.TrimSpace(cfg.Telegram.APIURL),
			Timeout:  timeout,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, t)
	}
	if len(sinks) == 0 {
		return nil, notifier.ErrNoSinks
	}
	return sinks, nil
}

func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, MaxRows: sc.MaxRows}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapOps(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationField("ops.read_timeout", oc.ReadTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	write, err := config.ParseDurationField("ops.write_timeout", oc.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationField("ops.idle_timeout", oc.IdleTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Addr:          config.OpsAddr(oc),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
