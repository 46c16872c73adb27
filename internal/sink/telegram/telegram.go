// Package telegram sends alerts to a Telegram chat through a bot account.
package telegram

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"mcwatch/internal/notifier"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int // forum topic; 0 for none
	// APIURL overrides the Bot API endpoint (tests, local bot API servers).
	APIURL  string
	Timeout time.Duration
}

// Sink is a notifier.Sink backed by the Telegram Bot API.
type Sink struct {
	cfg Config
	bot *tele.Bot
}

func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:    cfg.APIURL,
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.Timeout},
		// Send-only: skip the getMe round trip and never start a poller.
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Sink{cfg: cfg, bot: b}, nil
}

func (s *Sink) Name() string { return "telegram" }

func (s *Sink) Send(ctx context.Context, a notifier.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// telebot has no per-call context; bound the call so cancellation is
	// observed even if the HTTP client timeout is longer.
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(&tele.Chat{ID: s.cfg.ChatID}, Format(a), &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
			ThreadID:              s.cfg.ThreadID,
		})
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Format renders a as Telegram HTML.
func Format(a notifier.Alert) string {
	var b strings.Builder
	switch a.Color {
	case notifier.Positive:
		b.WriteString("🟢 ")
	case notifier.Negative:
		b.WriteString("🔴 ")
	}
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(a.Title))
	b.WriteString("</b>")
	if a.Description != "" {
		b.WriteString("\n")
		b.WriteString(boldToHTML(a.Description))
	}
	if a.Footer != "" {
		b.WriteString("\n<i>")
		b.WriteString(html.EscapeString(a.Footer))
		b.WriteString("</i>")
	}
	return b.String()
}

// boldToHTML escapes s and turns **x** spans into <b>x</b>. An unpaired
// marker is kept literally.
func boldToHTML(s string) string {
	parts := strings.Split(s, "**")
	var b strings.Builder
	for i, p := range parts {
		inside := i%2 == 1
		last := i == len(parts)-1
		switch {
		case inside && !last:
			b.WriteString("<b>")
			b.WriteString(html.EscapeString(p))
			b.WriteString("</b>")
		case inside && last:
			b.WriteString("**")
			b.WriteString(html.EscapeString(p))
		default:
			b.WriteString(html.EscapeString(p))
		}
	}
	return b.String()
}
