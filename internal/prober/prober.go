// Package prober drives the TCP side of a Server List Ping probe: dial,
// write the handshake and status request, read the response, and hand the
// bytes to internal/slp for parsing. internal/slp stays pure; this package
// owns the timing and the socket.
package prober

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/zhaiiker/mcscan/internal/addrgen"
	"github.com/zhaiiker/mcscan/internal/slp"
)

// Config configures a Prober. Mirrors the shape of probe.DownloadConfig:
// a defaulted, validated options struct consumed by a constructor.
type Config struct {
	Port uint16
	// Timeout bounds the entire probe — connect plus read — per spec.md
	// §4.2's single per-probe deadline (default 2500ms), not connect and
	// read separately.
	Timeout         time.Duration
	MaxResponseSize int
	Framing         slp.Framing
}

// ApplyDefaults fills in zero-valued fields with the scanner's defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 25565
	}
	if c.Timeout <= 0 {
		c.Timeout = 2500 * time.Millisecond
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = 1 << 20 // 1 MiB, well above any legitimate status JSON
	}
}

// Prober probes a single address over TCP using the Minecraft SLP
// handshake and reports a classified Outcome.
type Prober struct {
	cfg    Config
	dialer *net.Dialer
}

// NewProber constructs a Prober from cfg, applying defaults in place.
func NewProber(cfg Config) *Prober {
	cfg.ApplyDefaults()
	return &Prober{
		cfg:    cfg,
		dialer: &net.Dialer{},
	}
}

// Outcome is a single probe's wire classification plus its timing and the
// address probed, per spec.md §4.2's prober contract.
type Outcome struct {
	Addr          addrgen.Address
	slp.Outcome
	ResponseTimeMS int64
	DialError      error
}

// Probe dials addr on the configured port, performs the handshake and
// status-request exchange, and parses whatever bytes come back (or none).
// A dial or I/O error that is not itself a valid SLP response yields
// KindNoResponse with DialError set; it never returns a Go error, since a
// closed port or timeout is an expected, countable outcome rather than a
// caller-fatal condition.
func (p *Prober) Probe(ctx context.Context, addr addrgen.Address) Outcome {
	start := time.Now()
	out := Outcome{Addr: addr}

	deadline := start.Add(p.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	host := addr.String()
	conn, err := p.dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(p.cfg.Port))))
	if err != nil {
		out.DialError = err
		out.Outcome = slp.Outcome{Kind: slp.KindNoResponse}
		out.ResponseTimeMS = time.Since(start).Milliseconds()
		return out
	}
	defer conn.Close()

	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(slp.Handshake(host, p.cfg.Port, p.cfg.Framing)); err != nil {
		out.DialError = err
		out.Outcome = slp.Outcome{Kind: slp.KindNoResponse}
		out.ResponseTimeMS = time.Since(start).Milliseconds()
		return out
	}
	if _, err := conn.Write(slp.StatusRequest()); err != nil {
		out.DialError = err
		out.Outcome = slp.Outcome{Kind: slp.KindNoResponse}
		out.ResponseTimeMS = time.Since(start).Milliseconds()
		return out
	}

	buf, readErr := readUpTo(conn, p.cfg.MaxResponseSize)
	out.ResponseTimeMS = time.Since(start).Milliseconds()

	if len(buf) == 0 && readErr != nil {
		out.DialError = readErr
		out.Outcome = slp.Outcome{Kind: slp.KindNoResponse}
		return out
	}

	out.Outcome = slp.ParseResponse(buf)
	return out
}

// readUpTo reads from r until EOF, the deadline set on the connection
// fires, or limit bytes have been read, whichever comes first. A timeout
// partway through is not an error here: whatever bytes were read so far
// are handed to the parser, which tolerates truncated input via its
// fallback path.
func readUpTo(r io.Reader, limit int) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for len(buf) < limit {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			if len(buf) > 0 {
				return buf, nil
			}
			return buf, err
		}
	}
	return buf, nil
}
