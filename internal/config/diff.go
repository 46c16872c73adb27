package config

import (
	"strings"

	logx "mcwatch/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists every changed top-level section.
	Sections []string
	// NeedsRestart lists changed sections that are only read at startup.
	NeedsRestart []string
	// Attrs are safe log fields for the new values. Secrets are reported
	// as set/unset only.
	Attrs []logx.Field
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Hot-reloadable sections. Everything else needs a restart.
var liveSections = map[string]bool{
	"logging":  true,
	"poll":     true,
	"notifier": true,
}

// SummarizeChange compares oldCfg and newCfg.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change
	mark := func(section string, attrs ...logx.Field) {
		c.Sections = append(c.Sections, section)
		if !liveSections[section] {
			c.NeedsRestart = append(c.NeedsRestart, section)
		}
		c.Attrs = append(c.Attrs, attrs...)
	}

	if oldCfg.Server != newCfg.Server {
		mark("server", logx.String("server.address", newCfg.Server.Address), logx.String("server.kind", newCfg.Server.Kind))
	}
	if oldCfg.Poll != newCfg.Poll {
		mark("poll", logx.String("poll.interval", newCfg.Poll.Interval), logx.String("poll.probe_timeout", newCfg.Poll.ProbeTimeout))
	}
	if oldCfg.Discord != newCfg.Discord {
		mark("discord", logx.Bool("discord.webhook_set", newCfg.DiscordEnabled()), logx.String("discord.username", newCfg.Discord.Username))
	}
	if oldCfg.Telegram != newCfg.Telegram {
		mark("telegram", logx.Bool("telegram.token_set", newCfg.TelegramEnabled()), logx.Any("telegram.chat_id", newCfg.Telegram.ChatID))
	}
	if oldCfg.Notifier != newCfg.Notifier {
		mark("notifier",
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.String("notifier.send_timeout", newCfg.Notifier.SendTimeout),
			logx.Int("notifier.history_size", newCfg.Notifier.HistorySize),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver), logx.String("storage.path", newCfg.Storage.Path))
	}
	if oldCfg.Ops != newCfg.Ops {
		mark("ops",
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}
	return c
}
