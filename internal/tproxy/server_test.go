package tproxy

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/die-net/rescue/internal/dialer"
	"github.com/die-net/rescue/internal/proxy"
	"github.com/die-net/rescue/internal/testutil"
)

func TestServerRelaysToOriginalDst(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	target := echoLn.Addr().(*net.TCPAddr)

	srv := NewServer(ctx, proxy.Config{}, dialer.NewDirectDialer(dialer.Config{DialTimeout: time.Second}))
	srv.originalDst = func(net.Conn) (*net.TCPAddr, bool) { return target, true }

	client, conn := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- srv.handle(conn) }()

	testutil.AssertEcho(t, client, client, []byte("redirected"))

	_ = client.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not return")
	}
}

func TestServerWithoutOriginalDst(t *testing.T) {
	srv := NewServer(context.Background(), proxy.Config{}, dialer.NewDirectDialer(dialer.Config{}))
	srv.originalDst = func(net.Conn) (*net.TCPAddr, bool) { return nil, false }

	client, conn := net.Pipe()
	defer client.Close()

	if err := srv.handle(conn); !errors.Is(err, errNoOriginalDst) {
		t.Fatalf("err=%v want errNoOriginalDst", err)
	}
	if _, err := client.Write([]byte("x")); err == nil {
		t.Fatal("connection left open")
	}
}

func TestOriginalDstNonTCP(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	if _, ok := OriginalDst(a); ok {
		t.Fatal("pipe has no original destination")
	}
}
