// Package probe implements one-shot reachability checks that return the set
// of players currently online.
//
// A nil error with an empty set means the server answered with nobody
// online. Any error means the server could not be observed.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"mcwatch/internal/roster"
)

var ErrMalformed = errors.New("malformed status response")

// Probe queries a server once.
type Probe interface {
	Probe(ctx context.Context, address string) (roster.PlayerSet, error)
}

// Func adapts a function to Probe.
type Func func(ctx context.Context, address string) (roster.PlayerSet, error)

func (f Func) Probe(ctx context.Context, address string) (roster.PlayerSet, error) {
	return f(ctx, address)
}

// Kinds accepted by New.
const (
	KindMinecraft = "minecraft"
	KindQuake3    = "quake3"
)

// CanonicalKind maps kind and its aliases to KindMinecraft or KindQuake3.
// Empty kind is Minecraft.
func CanonicalKind(kind string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindMinecraft, "java":
		return KindMinecraft, true
	case KindQuake3, "q3", "rtcw":
		return KindQuake3, true
	default:
		return "", false
	}
}

// New returns the probe for kind. Empty kind selects Minecraft.
func New(kind string) (Probe, error) {
	k, ok := CanonicalKind(kind)
	if !ok {
		return nil, fmt.Errorf("unknown probe kind %q (use %q or %q)", kind, KindMinecraft, KindQuake3)
	}
	if k == KindQuake3 {
		return &Quake3{}, nil
	}
	return &Minecraft{}, nil
}

// splitHostPort accepts "host" or "host:port". ok is false when no port was
// given.
func splitHostPort(address string) (host, port string, ok bool) {
	address = strings.TrimSpace(address)
	if h, p, err := net.SplitHostPort(address); err == nil {
		return h, p, true
	}
	return strings.Trim(address, "[]"), "", false
}

// applyDeadline copies the ctx deadline onto conn. Without one, fallback is
// used so a silent server can never hang the caller.
func applyDeadline(ctx context.Context, conn net.Conn, fallback time.Duration) error {
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(fallback)
	}
	return conn.SetDeadline(dl)
}

// closeOnCancel closes conn when ctx is cancelled before stop is called.
func closeOnCancel(ctx context.Context, conn net.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}
