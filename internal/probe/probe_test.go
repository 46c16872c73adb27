package probe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"
)

// serveMinecraft answers one status handshake with body.
func serveMinecraft(t *testing.T, body string) string {
	t.Helper()
	return serveMinecraftTo(t, body, nil)
}

// serveMinecraftTo is serveMinecraft that also sends the handshake's server
// address to hosts when non-nil.
func serveMinecraftTo(t *testing.T, body string, hosts chan<- string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		// handshake
		n, err := readVarInt(r)
		if err != nil {
			return
		}
		hs := make([]byte, n)
		if _, err := io.ReadFull(r, hs); err != nil {
			return
		}
		if hosts != nil {
			hosts <- handshakeHost(hs)
		}
		// status request
		if _, err := readVarInt(r); err != nil {
			return
		}
		if _, err := readVarInt(r); err != nil {
			return
		}

		var pkt bytes.Buffer
		writeVarInt(&pkt, 0x00)
		writeVarInt(&pkt, int32(len(body)))
		pkt.WriteString(body)
		var out bytes.Buffer
		writeVarInt(&out, int32(pkt.Len()))
		out.Write(pkt.Bytes())
		_, _ = conn.Write(out.Bytes())
	}()
	return ln.Addr().String()
}

func TestMinecraftProbe(t *testing.T) {
	t.Parallel()

	st := map[string]any{
		"version": map[string]any{"name": "1.21", "protocol": 767},
		"players": map[string]any{
			"max": 20, "online": 2,
			"sample": []map[string]string{{"name": "alice", "id": "a"}, {"name": "bob", "id": "b"}},
		},
	}
	body, _ := json.Marshal(st)
	addr := serveMinecraft(t, string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := (&Minecraft{NoSRV: true}).Probe(ctx, addr)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !got.Has("alice") || !got.Has("bob") || got.Len() != 2 {
		t.Fatalf("players = %v", got.Sorted())
	}
}

// handshakeHost extracts the server address from a handshake packet body.
func handshakeHost(b []byte) string {
	r := bytes.NewReader(b)
	if _, err := readVarInt(r); err != nil { // packet id
		return ""
	}
	if _, err := readVarInt(r); err != nil { // protocol
		return ""
	}
	n, err := readVarInt(r)
	if err != nil || int(n) > r.Len() {
		return ""
	}
	host := make([]byte, n)
	_, _ = io.ReadFull(r, host)
	return string(host)
}

func TestMinecraftSRVKeepsConfiguredHost(t *testing.T) {
	t.Parallel()

	body, _ := json.Marshal(map[string]any{
		"players": map[string]any{"sample": []map[string]string{{"name": "alice"}}},
	})
	hosts := make(chan string, 1)
	addr := serveMinecraftTo(t, string(body), hosts)
	ip, port, _ := net.SplitHostPort(addr)
	p, _ := strconv.Atoi(port)

	var looked string
	m := &Minecraft{lookupSRV: func(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
		looked = service + "/" + proto + "/" + name
		return "", []*net.SRV{{Target: ip + ".", Port: uint16(p)}}, nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := m.Probe(ctx, "play.example.net")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if looked != "minecraft/tcp/play.example.net" {
		t.Fatalf("SRV lookup = %q", looked)
	}
	if !got.Has("alice") {
		t.Fatalf("players = %v", got.Sorted())
	}
	if h := <-hosts; h != "play.example.net" {
		t.Fatalf("handshake host = %q, want the configured name", h)
	}
}

func TestMinecraftProbeNoSample(t *testing.T) {
	t.Parallel()

	addr := serveMinecraft(t, `{"players":{"max":20,"online":0}}`)
	got, err := (&Minecraft{NoSRV: true}).Probe(context.Background(), addr)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got == nil || got.Len() != 0 {
		t.Fatalf("players = %v, want empty non-nil set", got)
	}
}

func TestMinecraftProbeMalformed(t *testing.T) {
	t.Parallel()

	addr := serveMinecraft(t, `not json`)
	_, err := (&Minecraft{NoSRV: true}).Probe(context.Background(), addr)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestMinecraftProbeRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	if _, err := (&Minecraft{NoSRV: true}).Probe(context.Background(), addr); err == nil {
		t.Fatal("expected error from closed port")
	}
}

func TestMinecraftProbeHonorsContext(t *testing.T) {
	t.Parallel()

	// accepts but never answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	accepted := make(chan net.Conn, 1)
	go func() {
		if c, err := ln.Accept(); err == nil {
			accepted <- c
		}
	}()
	t.Cleanup(func() {
		select {
		case c := <-accepted:
			_ = c.Close()
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = (&Minecraft{NoSRV: true}).Probe(ctx, ln.Addr().String())
	if err == nil {
		t.Fatal("expected timeout")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("probe ignored context deadline: %v", time.Since(start))
	}
}

func TestVarIntRoundTrip(t *testing.T) {
	t.Parallel()

	for _, v := range []int32{0, 1, 127, 128, 255, 25565, 2097151, -1} {
		var b bytes.Buffer
		writeVarInt(&b, v)
		got, err := readVarInt(&b)
		if err != nil || got != v {
			t.Fatalf("varint %d: got %d err %v", v, got, err)
		}
	}
}

func TestSplitHostPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in         string
		host, port string
		ok         bool
	}{
		{"mc.example.net", "mc.example.net", "", false},
		{"mc.example.net:25566", "mc.example.net", "25566", true},
		{" 10.0.0.5:25565 ", "10.0.0.5", "25565", true},
		{"[::1]:25565", "::1", "25565", true},
		{"[::1]", "::1", "", false},
	}
	for _, tt := range tests {
		h, p, ok := splitHostPort(tt.in)
		if h != tt.host || p != tt.port || ok != tt.ok {
			t.Fatalf("splitHostPort(%q) = %q %q %v", tt.in, h, p, ok)
		}
	}
}

func TestParseQuake3Status(t *testing.T) {
	t.Parallel()

	raw := statusHeader + "\n" +
		`\sv_hostname\Test\mapname\mp_beach` + "\n" +
		`12 48 "^1Red^7Baron"` + "\n" +
		`3 0 "[BOT]Sarge"` + "\n" +
		`0 999 "lagger"` + "\n"
	got, err := parseStatus(raw)
	if err != nil {
		t.Fatalf("parseStatus: %v", err)
	}
	want := []string{"RedBaron", "lagger"}
	if s := got.Sorted(); len(s) != 2 || s[0] != want[0] || s[1] != want[1] {
		t.Fatalf("players = %v, want %v", s, want)
	}
}

func TestParseQuake3StatusRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := parseStatus("hello\nworld"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestQuake3Probe(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })
	go func() {
		buf := make([]byte, 64)
		n, from, err := pc.ReadFrom(buf)
		if err != nil || string(buf[:n]) != getStatus {
			return
		}
		_, _ = pc.WriteTo([]byte(statusHeader+"\n\\mapname\\q3dm17\n5 30 \"visor\"\n"), from)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := (&Quake3{}).Probe(ctx, pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !got.Has("visor") || got.Len() != 1 {
		t.Fatalf("players = %v", got.Sorted())
	}
}

func TestNewKinds(t *testing.T) {
	t.Parallel()

	for _, k := range []string{"", "minecraft", "Java", "quake3", "rtcw"} {
		if _, err := New(k); err != nil {
			t.Fatalf("New(%q): %v", k, err)
		}
	}
	if _, err := New("bedrock"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
