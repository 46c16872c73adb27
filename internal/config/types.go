package config

// Config is the whole mcwatch configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Server   ServerConfig   `json:"server"`
	Poll     PollConfig     `json:"poll"`
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
	Notifier NotifierConfig `json:"notifier"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Ops      OpsConfig      `json:"ops"`
}

// ServerConfig names the monitored server. Changes need a restart.
type ServerConfig struct {
	// Address is "host" or "host:port".
	Address string `json:"address"`
	// Kind selects the status protocol: "minecraft" (default) or "quake3".
	Kind string `json:"kind,omitempty"`
}

// PollConfig controls the poll loop.
//
// Interval accepts a duration ("60s"), HH:MM ("00:05"), "@every 1m" or a
// cron expression. It is hot-reloadable.
type PollConfig struct {
	Interval     string `json:"interval"`
	ProbeTimeout string `json:"probe_timeout,omitempty"` // default 30s
}

// DiscordConfig configures the webhook sink. Empty WebhookURL disables it.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"` // secret, never logged
	Username   string `json:"username,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// TelegramConfig configures the bot sink. Empty Token disables it.
type TelegramConfig struct {
	Token    string `json:"token"` // secret, never logged
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// NotifierConfig tunes alert dispatch.
//
// Defaults (when fields are omitted/zero):
//   - rate_per_sec: 2
//   - send_timeout: "10s"
//   - history_size: 100
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional alert journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./mcwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "", "none", "file", "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxRows     int    `json:"max_rows,omitempty"`     // sqlite
}

// OpsConfig controls the optional ops HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9310").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9310"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Default returns the configuration used for omitted fields and when no
// config file is given.
func Default() *Config {
	return &Config{
		Poll:    PollConfig{Interval: "60s", ProbeTimeout: "30s"},
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// DiscordEnabled reports whether the webhook sink is configured.
func (c *Config) DiscordEnabled() bool { return trimmed(c.Discord.WebhookURL) != "" }

// TelegramEnabled reports whether the bot sink is configured.
func (c *Config) TelegramEnabled() bool { return trimmed(c.Telegram.Token) != "" }
