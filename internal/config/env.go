package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables that override file values.
const (
	EnvServerAddress     = "SERVER_ADDRESS"
	EnvDiscordWebhookURL = "DISCORD_WEBHOOK_URL"
	EnvPollIntervalSecs  = "POLL_INTERVAL_SECS"
	EnvLogLevel          = "LOG_LEVEL"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment values onto cfg. Unset or blank variables
// leave cfg untouched.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvServerAddress); ok {
		cfg.Server.Address = v
	}
	if v, ok := get(EnvDiscordWebhookURL); ok {
		cfg.Discord.WebhookURL = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvPollIntervalSecs); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: want a positive number of seconds, got %q", EnvPollIntervalSecs, v)
		}
		cfg.Poll.Interval = strconv.Itoa(n) + "s"
	}
	return nil
}

func trimmed(s string) string { return strings.TrimSpace(s) }
