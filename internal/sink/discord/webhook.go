// Package discord posts alerts to a Discord channel webhook as embeds.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mcwatch/internal/notifier"
)

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

type Config struct {
	WebhookURL string
	Username   string
	AvatarURL  string
	Timeout    time.Duration
}

// Webhook is a notifier.Sink backed by a Discord webhook.
type Webhook struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) (*Webhook, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, errors.New("discord webhook url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Webhook{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (w *Webhook) Name() string { return "discord" }

// ---- payload ----

type payload struct {
	Content   string  `json:"content,omitempty"`
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embedFooter struct {
	Text string `json:"text"`
}

func (w *Webhook) build(a notifier.Alert) payload {
	e := embed{
		Title:       a.Title,
		Description: a.Description,
		Color:       a.Color.RGB(),
	}
	for _, f := range a.Fields {
		e.Fields = append(e.Fields, embedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if a.Footer != "" {
		e.Footer = &embedFooter{Text: a.Footer}
	}
	if !a.Timestamp.IsZero() {
		e.Timestamp = a.Timestamp.UTC().Format(time.RFC3339)
	}
	return payload{
		Username:  w.cfg.Username,
		AvatarURL: w.cfg.AvatarURL,
		Embeds:    []embed{e},
	}
}

// Send posts one embed. Any non-2xx response is an error carrying the
// status and the (truncated) response body.
func (w *Webhook) Send(ctx context.Context, a notifier.Alert) error {
	body, err := json.Marshal(w.build(a))
	if err != nil {
		return fmt.Errorf("discord: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("discord: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// StatusError is returned when Discord answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("discord webhook failed with status %d: %s", e.Code, e.Body)
}
