package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration config value. Blank means 0; negative
// values are rejected. path names the field in errors, e.g. "poll.probe_timeout".
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration (e.g. 30s, 2m)", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative, got %s", path, d)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for a
// blank or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	switch {
	case err != nil:
		return 0, err
	case d == 0:
		return def, nil
	default:
		return d, nil
	}
}
