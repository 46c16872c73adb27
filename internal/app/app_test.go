package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mcwatch/internal/alert"
	"mcwatch/internal/config"
	"mcwatch/internal/notifier"
	"mcwatch/internal/sink/discord"
)

func envLookup(vars map[string]string) config.LookupFunc {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestMapStorage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{name: "empty", in: config.StorageConfig{}},
		{name: "none", in: config.StorageConfig{Driver: "none"}},
		{name: "file", in: config.StorageConfig{Driver: "file", Path: "alerts.jsonl"}, enabled: true},
		{name: "sqlite", in: config.StorageConfig{Driver: "SQLite", Path: "a.db", BusyTimeout: "2s"}, enabled: true},
		{name: "sqlite without path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "bad busy timeout", in: config.StorageConfig{Driver: "sqlite", Path: "a.db", BusyTimeout: "soon"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Storage = tt.in
			sc, enabled, err := mapStorage(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if enabled != tt.enabled {
				t.Fatalf("enabled = %v, want %v", enabled, tt.enabled)
			}
			if tt.name == "sqlite" && (sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second) {
				t.Fatalf("cfg = %+v", sc)
			}
		})
	}
}

func TestBuildSinks(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if _, err := buildSinks(cfg); !errors.Is(err, notifier.ErrNoSinks) {
		t.Fatalf("err = %v, want ErrNoSinks", err)
	}

	cfg.Discord.WebhookURL = "https://discord.example/api/webhooks/1/x"
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.ChatID = -100
	sinks, err := buildSinks(cfg)
	if err != nil {
		t.Fatalf("buildSinks: %v", err)
	}
	if len(sinks) != 2 || sinks[0].Name() != "discord" || sinks[1].Name() != "telegram" {
		t.Fatalf("sinks = %v", sinks)
	}
	if _, ok := sinks[0].(*discord.Webhook); !ok {
		t.Fatalf("first sink is %T", sinks[0])
	}
}

func TestMapPollerSpec(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.Address = "mc.example.net"
	pc, err := mapPoller(cfg)
	if err != nil {
		t.Fatalf("mapPoller: %v", err)
	}
	if pc.ScheduleSpec != "1m0s" || pc.ProbeTimeout != 30*time.Second {
		t.Fatalf("cfg = %+v", pc)
	}

	cfg.Poll.Interval = "cron:*/5 * * * *"
	pc, err = mapPoller(cfg)
	if err != nil {
		t.Fatalf("mapPoller cron: %v", err)
	}
	if pc.ScheduleSpec != "cron:*/5 * * * *" {
		t.Fatalf("spec = %q", pc.ScheduleSpec)
	}

	cfg.Poll.Interval = "whenever"
	if _, err := mapPoller(cfg); err == nil {
		t.Fatal("expected error for bad interval")
	}
}

func TestMapPollerKeepsTimeoutUnderPeriod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interval string
		timeout  string
		want     time.Duration
	}{
		{name: "default", want: 30 * time.Second},
		{name: "short interval clamps default", interval: "10s", want: 9 * time.Second},
		{name: "explicit under interval kept", interval: "10s", timeout: "5s", want: 5 * time.Second},
		{name: "equal to interval clamps", interval: "20s", timeout: "20s", want: 18 * time.Second},
		{name: "cron every 10s", interval: "*/10 * * * * *", want: 9 * time.Second},
		{name: "cron every 5m", interval: "*/5 * * * *", want: 30 * time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Server.Address = "mc.example.net"
			cfg.Poll.Interval = tt.interval
			cfg.Poll.ProbeTimeout = tt.timeout
			pc, err := mapPoller(cfg)
			if err != nil {
				t.Fatalf("mapPoller: %v", err)
			}
			if pc.ProbeTimeout != tt.want {
				t.Fatalf("ProbeTimeout = %v, want %v", pc.ProbeTimeout, tt.want)
			}
		})
	}
}

func TestMapPollerGame(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.Address = "q3.example.net"
	cfg.Server.Kind = "quake3"
	pc, err := mapPoller(cfg)
	if err != nil {
		t.Fatalf("mapPoller: %v", err)
	}
	if pc.Game != alert.Quake3 {
		t.Fatalf("Game = %+v, want Quake3", pc.Game)
	}
}

func TestAppStartStop(t *testing.T) {
	t.Parallel()

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hook.Close)

	cfgm := config.NewManager("")
	cfgm.SetEnv(envLookup(map[string]string{
		config.EnvServerAddress:     closedAddr(t),
		config.EnvDiscordWebhookURL: hook.URL,
		config.EnvLogLevel:          "error",
	}))
	cfg, err := cfgm.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, err := newApp(cfgm, cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if err := a.Health(); err == nil {
		t.Fatal("health before start should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for a.Status().Poller.Cycles == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no poll cycle ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
	st := a.Status()
	if st.Poller.LastError == "" {
		t.Fatalf("expected probe error against closed port, status = %+v", st.Poller)
	}
	if len(st.Sinks) != 1 || st.Sinks[0] != "discord" {
		t.Fatalf("sinks = %v", st.Sinks)
	}
	if err := a.Health(); err != nil {
		t.Fatalf("Health: %v", err)
	}

	next := *cfg
	next.Poll.Interval = "5m"
	next.Notifier.HistorySize = 10
	a.applyConfig(cfg, &next)
	deadline = time.Now().Add(2 * time.Second)
	for a.Status().Poller.Schedule != "5m0s" {
		if time.Now().After(deadline) {
			t.Fatalf("schedule = %q, want 5m0s", a.Status().Poller.Schedule)
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.Health(); err == nil {
		t.Fatal("health after stop should fail")
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestDefaultUsernameIsSenderName(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- body.Username
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hook.Close)

	cfg := config.Default()
	cfg.Discord.WebhookURL = hook.URL
	sinks, err := buildSinks(cfg)
	if err != nil {
		t.Fatalf("buildSinks: %v", err)
	}
	if err := sinks[0].Send(context.Background(), notifier.Alert{Title: "t"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if name := <-got; name != alert.SenderName {
		t.Fatalf("username = %q, want %q", name, alert.SenderName)
	}
}
