package notifier

import (
	"context"
	"time"
)

// Color is the tone of an alert.
type Color int

const (
	Positive Color = iota + 1
	Negative
)

// RGB returns the embed color used by chat sinks.
func (c Color) RGB() int {
	switch c {
	case Positive:
		return 0x00FF00
	case Negative:
		return 0xFF0000
	default:
		return 0
	}
}

func (c Color) String() string {
	switch c {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "none"
	}
}

// Field is optional alert metadata rendered as name/value pairs.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Alert is one outbound notification.
type Alert struct {
	Title       string
	Description string
	Color       Color
	Footer      string
	Fields      []Field
	Timestamp   time.Time
}

// Sink delivers an alert to one external channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Config controls the dispatcher.
type Config struct {
	// RatePerSec caps outbound sends across all sinks. 0 uses the default.
	RatePerSec int
	// SendTimeout bounds each sink call. 0 uses the default.
	SendTimeout time.Duration
	// HistorySize is the number of alerts kept in memory. 0 uses the default.
	HistorySize int
}

// HistoryItem records one dispatched alert.
type HistoryItem struct {
	At     time.Time `json:"at"`
	Title  string    `json:"title"`
	Text   string    `json:"text"`
	Failed []string  `json:"failed,omitempty"`
}
