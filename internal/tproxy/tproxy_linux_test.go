//go:build linux

package tproxy

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestOriginalDstAcceptedTCP(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp4", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	var conn net.Conn
	select {
	case conn = <-accepted:
		if conn == nil {
			t.Fatal("accept failed")
		}
	case <-ctx.Done():
		t.Fatal("accept timed out")
	}
	defer conn.Close()

	// Without a redirect rule the kernel either has no conntrack entry or
	// reports the address that was actually dialed.
	dst, ok := OriginalDst(conn)
	if ok && dst.String() != ln.Addr().String() {
		t.Fatalf("original dst %s, listener %s", dst, ln.Addr())
	}
}

func TestListenTransparentTCPRequiresPrivilege(t *testing.T) {
	ln, err := ListenTransparentTCP(context.Background(), "127.0.0.1:0", net.KeepAliveConfig{})
	if err != nil {
		// Unprivileged runs get EPERM from IP_TRANSPARENT.
		t.Skipf("transparent listen unavailable: %v", err)
	}
	defer ln.Close()

	if _, ok := ln.Addr().(*net.TCPAddr); !ok {
		t.Fatalf("addr %T", ln.Addr())
	}
}
