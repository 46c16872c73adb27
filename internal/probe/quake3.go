package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"mcwatch/internal/roster"
)

const (
	defaultQuake3Port = "27960"
	getStatus         = "\xff\xff\xff\xffgetstatus\n"
	statusHeader      = "\xff\xff\xff\xffstatusResponse"
	maxDatagram       = 64 << 10
)

// Quake3 queries an id Tech 3 server (Quake III, RTCW, ET) with a UDP
// getstatus request. Clients reporting ping 0 are bots and are skipped.
type Quake3 struct {
	Dialer net.Dialer
}

func (q *Quake3) Probe(ctx context.Context, address string) (roster.PlayerSet, error) {
	host, port, ok := splitHostPort(address)
	if host == "" {
		return nil, fmt.Errorf("quake3: empty address")
	}
	if !ok {
		port = defaultQuake3Port
	}
	conn, err := q.Dialer.DialContext(ctx, "udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("quake3: dial: %w", err)
	}
	defer conn.Close()
	stop := closeOnCancel(ctx, conn)
	defer stop()
	if err := applyDeadline(ctx, conn, 5*time.Second); err != nil {
		return nil, err
	}

	if _, err := conn.Write([]byte(getStatus)); err != nil {
		return nil, fmt.Errorf("quake3: write: %w", err)
	}
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("quake3: read: %w", err)
	}
	return parseStatus(string(buf[:n]))
}

// parseStatus reads a statusResponse datagram: header line, the
// backslash-separated cvar line, then one `score ping "name"` line per
// client.
func parseStatus(raw string) (roster.PlayerSet, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) < 2 || !strings.HasPrefix(lines[0], statusHeader) {
		return nil, fmt.Errorf("quake3: %w", ErrMalformed)
	}
	players := roster.NewPlayerSet()
	for _, line := range lines[2:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if fields[1] == "0" {
			continue
		}
		parts := strings.SplitN(line, "\"", 3)
		if len(parts) < 2 {
			continue
		}
		if name := stripColors(parts[1]); name != "" {
			players[name] = struct{}{}
		}
	}
	return players, nil
}

// stripColors removes ^N color escapes from a player name.
func stripColors(s string) string {
	if !strings.Contains(s, "^") {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '^' && i+1 < len(s) && s[i+1] != '^' {
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return strings.TrimSpace(b.String())
}
