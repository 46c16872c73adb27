package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines journal
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// MaxRows bounds the journal. 0 uses the default; file driver ignores it.
	MaxRows int
}

// AlertRecord is one delivery attempt of one alert to one sink.
// Keep it compact and schema-stable.
type AlertRecord struct {
	At          time.Time `json:"at"`
	Sink        string    `json:"sink"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	Footer      string    `json:"footer,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Delivered reports whether the sink accepted the alert.
func (r AlertRecord) Delivered() bool { return r.Error == "" }
