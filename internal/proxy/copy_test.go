package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/die-net/rescue/internal/testutil"
)

// relayPair returns the outer ends of two pipes whose inner ends are
// relayed by a running Session.
func relayPair(t *testing.T, ctx context.Context, idle time.Duration) (net.Conn, net.Conn, *Session, <-chan error) {
	t.Helper()

	leftOuter, leftInner := net.Pipe()
	rightInner, rightOuter := net.Pipe()
	t.Cleanup(func() {
		_ = leftOuter.Close()
		_ = rightOuter.Close()
	})

	s := NewSession(leftInner, rightInner, idle)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	return leftOuter, rightOuter, s, done
}

func waitRelay(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not finish")
		return nil
	}
}

func TestRelayBothDirections(t *testing.T) {
	left, right, s, done := relayPair(t, context.Background(), 0)

	testutil.AssertEcho(t, left, right, []byte("to the right"))
	testutil.AssertEcho(t, right, left, []byte("back left"))

	_ = left.Close()
	if err := waitRelay(t, done); err != nil {
		t.Fatalf("clean close returned %v", err)
	}

	if _, err := right.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("far side read err=%v want EOF", err)
	}

	toRight, toLeft := s.Bytes()
	if toRight != int64(len("to the right")) || toLeft != int64(len("back left")) {
		t.Fatalf("bytes %d/%d", toRight, toLeft)
	}
}

func TestRelayCloseFromRight(t *testing.T) {
	left, right, _, done := relayPair(t, context.Background(), 0)

	_ = right.Close()
	if err := waitRelay(t, done); err != nil {
		t.Fatalf("clean close returned %v", err)
	}
	if _, err := left.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("far side read err=%v want EOF", err)
	}
}

func TestRelayContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, _, _, done := relayPair(t, ctx, 0)

	cancel()
	if err := waitRelay(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	left, _, s, done := relayPair(t, context.Background(), 0)

	for range 3 {
		go func() { _ = s.Close() }()
	}
	_ = s.Close()

	if err := waitRelay(t, done); err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := left.Write([]byte("x")); err == nil {
		t.Fatal("write after close succeeded")
	}
	_ = s.Close()
}

func TestRelayIdleTimeout(t *testing.T) {
	_, _, _, done := relayPair(t, context.Background(), 50*time.Millisecond)

	if err := waitRelay(t, done); !errors.Is(err, ErrIdleTimeout) {
		t.Fatalf("err=%v want ErrIdleTimeout", err)
	}
}

func TestRelayOneWayTrafficIsNotIdle(t *testing.T) {
	left, right, _, done := relayPair(t, context.Background(), 100*time.Millisecond)

	go func() { _, _ = io.Copy(io.Discard, right) }()

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := left.Write([]byte("tick")); err != nil {
			t.Fatalf("session ended during one-way traffic: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := waitRelay(t, done); !errors.Is(err, ErrIdleTimeout) {
		t.Fatalf("err=%v want ErrIdleTimeout", err)
	}
}
