package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

// Validate checks cfg for missing and malformed values. All problems are
// reported at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, a ...any) { errs = append(errs, fmt.Errorf(format, a...)) }

	if trimmed(cfg.Server.Address) == "" {
		add("server.address is required (or set %s)", EnvServerAddress)
	}
	switch strings.ToLower(trimmed(cfg.Server.Kind)) {
	case "", "minecraft", "java", "quake3", "q3", "rtcw":
	default:
		add("server.kind: unknown kind %q", cfg.Server.Kind)
	}

	if !cfg.DiscordEnabled() && !cfg.TelegramEnabled() {
		add("no alert sink configured: set discord.webhook_url (or %s) or telegram.token + telegram.chat_id", EnvDiscordWebhookURL)
	}
	if cfg.DiscordEnabled() {
		u, err := url.Parse(trimmed(cfg.Discord.WebhookURL))
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			add("discord.webhook_url must be an http(s) URL")
		}
	}
	if cfg.TelegramEnabled() && cfg.Telegram.ChatID == 0 {
		add("telegram.chat_id is required when telegram.token is set")
	}

	if trimmed(cfg.Poll.Interval) == "" {
		add("poll.interval is required")
	}
	durations := map[string]string{
		"poll.probe_timeout":    cfg.Poll.ProbeTimeout,
		"discord.timeout":       cfg.Discord.Timeout,
		"telegram.timeout":      cfg.Telegram.Timeout,
		"notifier.send_timeout": cfg.Notifier.SendTimeout,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
		"ops.read_timeout":      cfg.Ops.ReadTimeout,
		"ops.write_timeout":     cfg.Ops.WriteTimeout,
		"ops.idle_timeout":      cfg.Ops.IdleTimeout,
	}
	for _, path := range sortedKeys(durations) {
		if _, err := ParseDurationField(path, durations[path]); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Notifier.RatePerSec < 0 {
		add("notifier.rate_per_sec must be >= 0")
	}
	if cfg.Notifier.HistorySize < 0 {
		add("notifier.history_size must be >= 0")
	}

	switch strings.ToLower(trimmed(cfg.Storage.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		add("storage.driver: unknown driver %q (use file or sqlite)", cfg.Storage.Driver)
	}
	if cfg.Storage.MaxRows < 0 {
		add("storage.max_rows must be >= 0")
	}

	if cfg.Ops.Enabled && trimmed(cfg.Ops.Token) == "" && !cfg.Ops.AllowInsecure && !IsLoopbackAddr(OpsAddr(cfg.Ops)) {
		add("ops.addr %q is not loopback; set ops.token or ops.allow_insecure", OpsAddr(cfg.Ops))
	}

	return errors.Join(errs...)
}

// OpsAddr returns the configured ops listen address or its default.
func OpsAddr(c OpsConfig) string {
	if a := trimmed(c.Addr); a != "" {
		return a
	}
	return "127.0.0.1:9310"
}

// IsLoopbackAddr reports whether addr (host:port) only listens on loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
