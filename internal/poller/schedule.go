package poller

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is used when no schedule is configured.
const DefaultInterval = 60 * time.Second

var (
	reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule turns a schedule string into a cron.Schedule.
//
// Supported forms:
//   - Go duration: "60s", "2m30s"
//   - HH:MM interval: "00:05" (5 minutes)
//   - Cron: "*/2 * * * *", "0 */30 * * * *", "@every 1m", "@hourly"
//
// "cron:" forces cron parsing; "interval:" or "every:" forces interval
// parsing. Empty input yields DefaultInterval.
func ParseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Every(DefaultInterval), nil
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	}

	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if sch, err := parseInterval(s); err == nil {
		return sch, nil
	}
	return nil, fmt.Errorf(
		"invalid schedule %q (use a duration like '60s', HH:MM like '00:05', or cron like '*/2 * * * *')",
		raw,
	)
}

// Every is a fixed-interval schedule. Intervals under a second are rounded
// up to one second.
func Every(d time.Duration) cron.Schedule {
	return cron.Every(d)
}

// IntervalOf reports the fixed delay of sch, or 0 for calendar schedules.
func IntervalOf(sch cron.Schedule) time.Duration {
	if c, ok := sch.(cron.ConstantDelaySchedule); ok {
		return c.Delay
	}
	return 0
}

// MinPeriod estimates the shortest gap between runs of sch: the fixed delay
// for intervals, otherwise the smallest of the next few gaps after from.
// It returns 0 when sch never fires.
func MinPeriod(sch cron.Schedule, from time.Time) time.Duration {
	if d := IntervalOf(sch); d > 0 {
		return d
	}
	var shortest time.Duration
	prev := sch.Next(from)
	for i := 0; i < 16 && !prev.IsZero(); i++ {
		next := sch.Next(prev)
		if next.IsZero() {
			break
		}
		if gap := next.Sub(prev); shortest == 0 || gap < shortest {
			shortest = gap
		}
		prev = next
	}
	return shortest
}

func parseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron schedule required")
	}
	sch, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return sch, nil
}

func parseInterval(v string) (cron.Schedule, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		var hh, mm int
		for i := 0; i < len(m[1]); i++ {
			hh = hh*10 + int(m[1][i]-'0')
		}
		mm = int(m[2][0]-'0')*10 + int(m[2][1]-'0')
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	return Every(d), nil
}
