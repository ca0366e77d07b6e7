package rescuer_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/txthinking/socks5"

	"github.com/die-net/rescue/internal/dialer"
	"github.com/die-net/rescue/internal/metrics"
	"github.com/die-net/rescue/internal/pool"
	"github.com/die-net/rescue/internal/proxy"
	"github.com/die-net/rescue/internal/rendezvous"
	"github.com/die-net/rescue/internal/rescuer"
	"github.com/die-net/rescue/internal/testutil"
)

func startSurvivor(t *testing.T) (*rendezvous.Server, string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ln, err := proxy.ListenTCP(ctx, "tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: false})
	if err != nil {
		t.Fatal(err)
	}

	srv := rendezvous.NewServer(ctx, proxy.Config{NegotiationTimeout: 2 * time.Second}, pool.New[*rendezvous.Link]())
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = ln.Close()
		_ = srv.Close()
	})

	return srv, ln.Addr().String()
}

func rescuerConfig(survivor string, links int) rescuer.Config {
	return rescuer.Config{
		Survivor:    survivor,
		Links:       links,
		DialTimeout: time.Second,
		RedialMin:   10 * time.Millisecond,
		RedialMax:   50 * time.Millisecond,
		Egress:      dialer.NewDirectDialer(dialer.Config{DialTimeout: time.Second}),
		Proxy:       proxy.Config{NegotiationTimeout: 2 * time.Second},
	}
}

func startRescuers(t *testing.T, survivor string, links int) *rescuer.Supervisor {
	t.Helper()
	return runSupervisor(t, rescuerConfig(survivor, links))
}

func runSupervisor(t *testing.T, cfg rescuer.Config) *rescuer.Supervisor {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	sup := rescuer.NewSupervisor(cfg)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("supervisor did not stop")
		}
	})

	return sup
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitPool(t *testing.T, srv *rendezvous.Server, sup *rescuer.Supervisor, n int) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%d idle links", n), func() bool {
		return srv.Idle() == n && sup.Live() == n
	})
}

func dialRaw(t *testing.T, addr string) net.Conn {
	t.Helper()

	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(3 * time.Second))
	return c
}

func connectIPv4(t *testing.T, cmd byte, addr string) []byte {
	t.Helper()

	ap, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	b := []byte{0x05, 0x01, 0x00, 0x05, cmd, 0x00, 0x01}
	b = append(b, ap.IP.To4()...)
	return binary.BigEndian.AppendUint16(b, uint16(ap.Port))
}

func TestSOCKS5ThroughRescuer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	srv, addr := startSurvivor(t)
	sup := startRescuers(t, addr, 2)
	waitPool(t, srv, sup, 2)

	client, err := socks5.NewClient(addr, "", "", 2, 0)
	if err != nil {
		t.Fatal(err)
	}

	c, err := client.Dial("tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("hello through the rescuer"))
	testutil.AssertEcho(t, c, c, bytes.Repeat([]byte("x"), 64<<10))

	if srv.Idle() != 1 {
		t.Fatalf("pool=%d want 1 while a session is active", srv.Idle())
	}

	// Once the session ends its worker registers a fresh link.
	_ = c.Close()
	waitPool(t, srv, sup, 2)
}

func TestHTTPConnectThroughRescuer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	srv, addr := startSurvivor(t)
	sup := startRescuers(t, addr, 1)
	waitPool(t, srv, sup, 1)

	c := dialRaw(t, addr)
	target := echoLn.Addr().String()
	if _, err := fmt.Fprintf(c, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target); err != nil {
		t.Fatal(err)
	}

	const established = "HTTP/1.0 200 Connection established\r\n\r\n"
	got := make([]byte, len(established))
	if _, err := io.ReadFull(c, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != established {
		t.Fatalf("reply %q", got)
	}

	testutil.AssertEcho(t, c, c, []byte("ping"))
}

func TestUnreachableTargetRefused(t *testing.T) {
	srv, addr := startSurvivor(t)
	sup := startRescuers(t, addr, 1)
	waitPool(t, srv, sup, 1)

	c := dialRaw(t, addr)
	if _, err := c.Write(connectIPv4(t, 0x01, testutil.UnusedAddr(t))); err != nil {
		t.Fatal(err)
	}

	got, err := io.ReadAll(c)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x05, 0x00, 0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x want % x", got, want)
	}

	waitPool(t, srv, sup, 1)
}

func TestEmptyPoolRefused(t *testing.T) {
	_, addr := startSurvivor(t)

	c := dialRaw(t, addr)
	if _, err := c.Write(connectIPv4(t, 0x01, "10.0.0.1:80")); err != nil {
		t.Fatal(err)
	}

	got, err := io.ReadAll(c)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x05, 0x00, 0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x want % x", got, want)
	}
}

func TestIdleLinksReplaced(t *testing.T) {
	srv, addr := startSurvivor(t)
	sup := startRescuers(t, addr, 3)
	waitPool(t, srv, sup, 3)

	// Drop every idle link from the survivor side.
	_ = srv.Close()

	waitPool(t, srv, sup, 3)
}

func TestUnsupportedCommandsRejected(t *testing.T) {
	srv, addr := startSurvivor(t)
	sup := startRescuers(t, addr, 1)

	tests := []struct {
		name string
		req  []byte
	}{
		{name: "bind_ipv4", req: connectIPv4(t, 0x02, "10.0.0.1:80")},
		{name: "udp_ipv4", req: connectIPv4(t, 0x03, "10.0.0.1:80")},
		{name: "bind_domain", req: []byte{0x05, 0x01, 0x00, 0x05, 0x02, 0x00, 0x03, 0x01, 'a', 0x00, 0x50}},
		{name: "udp_ipv6", req: append(append([]byte{0x05, 0x01, 0x00, 0x05, 0x03, 0x00, 0x04}, net.IPv6loopback...), 0x00, 0x50)},
		{name: "bind_unknown_atyp", req: []byte{0x05, 0x01, 0x00, 0x05, 0x02, 0x00, 0x09}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			waitPool(t, srv, sup, 1)

			c := dialRaw(t, addr)
			if _, err := c.Write(tt.req); err != nil {
				t.Fatal(err)
			}

			got, err := io.ReadAll(c)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.HasPrefix(got, []byte{0x05, 0x00, 0x05, 0x07, 0x00, 0x01}) {
				t.Fatalf("got % x", got)
			}
		})
	}
}

// startHangupServer accepts connections and closes them at once, counting
// the accepts.
func startHangupServer(t *testing.T) (string, *atomic.Int64) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	var accepts atomic.Int64
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			_ = c.Close()
		}
	}()

	return ln.Addr().String(), &accepts
}

func TestSupervisorBacksOff(t *testing.T) {
	// With RedialMin=100ms the shortest jittered wait is 50ms, growing by
	// 1.5x, so one worker dials at most 6 times in 500ms.
	const window = 500 * time.Millisecond
	const maxDials = 8

	tests := []struct {
		name     string
		survivor func(t *testing.T) (string, func() int64)
	}{
		{
			name: "unreachable",
			survivor: func(t *testing.T) (string, func() int64) {
				return testutil.UnusedAddr(t), nil
			},
		},
		{
			name: "hangup",
			survivor: func(t *testing.T) (string, func() int64) {
				addr, accepts := startHangupServer(t)
				return addr, accepts.Load
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, accepts := tt.survivor(t)

			cfg := rescuerConfig(addr, 1)
			cfg.RedialMin = 100 * time.Millisecond
			cfg.RedialMax = time.Second

			before := promtestutil.ToFloat64(metrics.RedialsTotal)
			_ = runSupervisor(t, cfg)

			time.Sleep(window)
			dials := promtestutil.ToFloat64(metrics.RedialsTotal) - before

			if dials < 1 || dials > maxDials {
				t.Fatalf("%v dials in %v, want 1..%d", dials, window, maxDials)
			}
			if accepts != nil && accepts() > maxDials {
				t.Fatalf("%d accepts in %v, want at most %d", accepts(), window, maxDials)
			}
		})
	}
}

func TestHTTPConnectUnreachable(t *testing.T) {
	srv, addr := startSurvivor(t)
	sup := startRescuers(t, addr, 1)
	waitPool(t, srv, sup, 1)

	c := dialRaw(t, addr)
	if _, err := fmt.Fprintf(c, "CONNECT %s HTTP/1.1\r\n\r\n", testutil.UnusedAddr(t)); err != nil {
		t.Fatal(err)
	}

	got, err := io.ReadAll(c)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(got), "HTTP/1.0 502 Bad Gateway\r\n") {
		t.Fatalf("got %q", got)
	}
}
