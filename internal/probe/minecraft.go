package probe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"mcwatch/internal/roster"
)

const (
	defaultMinecraftPort = "25565"
	// protocolProbe asks the server to answer with whatever version it runs.
	protocolProbe = -1
	// maxStatusPacket bounds the status JSON we are willing to read.
	maxStatusPacket = 1 << 20
)

// Minecraft performs a Java Edition Server List Ping.
//
// Only players listed in the status sample are reported. Servers that hide
// the sample (or exceed the sample size, usually 12) yield a partial roster.
type Minecraft struct {
	// Dialer is used for the TCP connection. Zero value is fine.
	Dialer net.Dialer
	// Resolver looks up _minecraft._tcp SRV records when no port is given.
	// nil uses net.DefaultResolver.
	Resolver *net.Resolver
	// NoSRV disables the SRV lookup.
	NoSRV bool

	lookupSRV func(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// statusResponse is the subset of the status JSON we read.
type statusResponse struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
		Sample []struct {
			Name string `json:"name"`
			ID   string `json:"id"`
		} `json:"sample"`
	} `json:"players"`
}

func (m *Minecraft) Probe(ctx context.Context, address string) (roster.PlayerSet, error) {
	host, dialHost, port, err := m.resolve(ctx, address)
	if err != nil {
		return nil, err
	}
	conn, err := m.Dialer.DialContext(ctx, "tcp", net.JoinHostPort(dialHost, port))
	if err != nil {
		return nil, fmt.Errorf("minecraft: dial: %w", err)
	}
	defer conn.Close()
	stop := closeOnCancel(ctx, conn)
	defer stop()
	if err := applyDeadline(ctx, conn, 30*time.Second); err != nil {
		return nil, err
	}

	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("minecraft: bad port %q: %w", port, err)
	}
	if _, err := conn.Write(handshake(host, uint16(p))); err != nil {
		return nil, fmt.Errorf("minecraft: handshake: %w", err)
	}

	st, err := readStatus(bufio.NewReader(conn))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("minecraft: %w", err)
	}

	players := roster.NewPlayerSet()
	for _, s := range st.Players.Sample {
		if s.Name != "" {
			players[s.Name] = struct{}{}
		}
	}
	return players, nil
}

// resolve splits address into the host named in the handshake and the
// host:port to dial. They differ only when an SRV record redirects the
// connection; the server still expects the configured name.
func (m *Minecraft) resolve(ctx context.Context, address string) (host, dialHost, port string, err error) {
	host, port, ok := splitHostPort(address)
	if host == "" {
		return "", "", "", fmt.Errorf("minecraft: empty address")
	}
	if ok {
		return host, host, port, nil
	}
	if !m.NoSRV && net.ParseIP(host) == nil {
		lookup := m.lookupSRV
		if lookup == nil {
			r := m.Resolver
			if r == nil {
				r = net.DefaultResolver
			}
			lookup = r.LookupSRV
		}
		if _, addrs, err := lookup(ctx, "minecraft", "tcp", host); err == nil && len(addrs) > 0 {
			target := strings.TrimSuffix(addrs[0].Target, ".")
			return host, target, strconv.Itoa(int(addrs[0].Port)), nil
		}
	}
	return host, host, defaultMinecraftPort, nil
}

// handshake builds the handshake packet (next state: status) followed by
// the empty status request.
func handshake(host string, port uint16) []byte {
	var body bytes.Buffer
	writeVarInt(&body, 0x00)
	writeVarInt(&body, protocolProbe)
	writeVarInt(&body, int32(len(host)))
	body.WriteString(host)
	_ = binary.Write(&body, binary.BigEndian, port)
	writeVarInt(&body, 1)

	var out bytes.Buffer
	writeVarInt(&out, int32(body.Len()))
	out.Write(body.Bytes())
	// status request: length 1, packet id 0
	writeVarInt(&out, 1)
	writeVarInt(&out, 0x00)
	return out.Bytes()
}

func readStatus(r *bufio.Reader) (*statusResponse, error) {
	n, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	if n <= 0 || n > maxStatusPacket {
		return nil, fmt.Errorf("%w: packet length %d", ErrMalformed, n)
	}
	pkt := make([]byte, n)
	if _, err := io.ReadFull(r, pkt); err != nil {
		return nil, fmt.Errorf("read packet: %w", err)
	}

	pr := bytes.NewReader(pkt)
	id, err := readVarInt(pr)
	if err != nil || id != 0x00 {
		return nil, fmt.Errorf("%w: packet id %d", ErrMalformed, id)
	}
	sl, err := readVarInt(pr)
	if err != nil || sl < 0 || int(sl) > pr.Len() {
		return nil, fmt.Errorf("%w: string length %d", ErrMalformed, sl)
	}
	raw := make([]byte, sl)
	if _, err := io.ReadFull(pr, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var st statusResponse
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &st, nil
}

func writeVarInt(w *bytes.Buffer, v int32) {
	u := uint32(v)
	for {
		if u&^0x7F == 0 {
			w.WriteByte(byte(u))
			return
		}
		w.WriteByte(byte(u&0x7F | 0x80))
		u >>= 7
	}
}

func readVarInt(r io.ByteReader) (int32, error) {
	var out uint32
	for i := 0; i < 5; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		out |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(out), nil
		}
	}
	return 0, errors.New("varint too long")
}
