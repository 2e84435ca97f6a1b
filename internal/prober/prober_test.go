package prober

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhaiiker/mcscan/internal/addrgen"
	"github.com/zhaiiker/mcscan/internal/slp"
)

// loopbackAddr parses 127.0.0.1 into an addrgen.Address; tests dial the
// fake server over the loopback interface.
func loopbackAddr(t *testing.T) addrgen.Address {
	t.Helper()
	a, err := addrgen.ParseCIDR("127.0.0.1/32")
	require.NoError(t, err)
	return a.Base
}

func listenerPort(t *testing.T, ln net.Listener) uint16 {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return uint16(port)
}

func TestProbeReturnsServerOnValidResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	payload := []byte(`{"version":{"name":"1.20.1","protocol":763},"players":{"online":3,"max":20}}`)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var buf []byte
		buf = slp.PutVarInt(buf, 0x00)
		buf = slp.PutVarInt(buf, int32(len(payload)))
		buf = append(buf, payload...)
		framed := slp.PutVarInt(nil, int32(len(buf)))
		framed = append(framed, buf...)
		conn.Write(framed)
	}()

	p := NewProber(Config{Port: listenerPort(t, ln)})
	outcome := p.Probe(context.Background(), loopbackAddr(t))

	require.Equal(t, slp.KindServer, outcome.Kind)
	require.Equal(t, 3, outcome.Status.Players.Online)
	require.Equal(t, 20, outcome.Status.Players.Max)
	require.NoError(t, outcome.DialError)
}

func TestProbeClosedPortIsNoResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listenerPort(t, ln)
	require.NoError(t, ln.Close()) // free the port before dialing it

	p := NewProber(Config{Port: port, Timeout: 200 * time.Millisecond})
	outcome := p.Probe(context.Background(), loopbackAddr(t))

	require.Equal(t, slp.KindNoResponse, outcome.Kind)
	require.Error(t, outcome.DialError)
}

func TestProbeTimeoutYieldsNoResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(500 * time.Millisecond) // never writes anything
	}()

	p := NewProber(Config{Port: listenerPort(t, ln), Timeout: 50 * time.Millisecond})
	outcome := p.Probe(context.Background(), loopbackAddr(t))

	require.Equal(t, slp.KindNoResponse, outcome.Kind)
}

func TestProbeRespectsContextCancellation(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProber(Config{Port: listenerPort(t, ln)})
	outcome := p.Probe(ctx, loopbackAddr(t))

	require.Equal(t, slp.KindNoResponse, outcome.Kind)
	require.Error(t, outcome.DialError)
}
