package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrIdleTimeout is returned by Session.Run when the idle timeout expired.
var ErrIdleTimeout = errors.New("relay idle timeout")

// Session relays bytes between two connections until either side ends.
//
// Whichever direction finishes first closes both connections, so a close on
// one side always propagates to the other. Close is idempotent.
type Session struct {
	left, right net.Conn
	idleTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
	err       error

	toRight    atomic.Int64
	toLeft     atomic.Int64
	lastActive atomic.Int64
}

// NewSession binds left and right. If idleTimeout is positive the session
// ends once neither direction has carried data for that long.
func NewSession(left, right net.Conn, idleTimeout time.Duration) *Session {
	return &Session{
		left:        left,
		right:       right,
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}
}

// Relay runs a Session between left and right and returns when it ends.
func Relay(ctx context.Context, left, right net.Conn, idleTimeout time.Duration) error {
	return NewSession(left, right, idleTimeout).Run(ctx)
}

// Run pumps both directions until one side reaches EOF or fails, or ctx is
// canceled. A clean end of stream is reported as nil; cancellation returns
// ctx.Err(). Otherwise the error that ended the session first is returned.
func (s *Session) Run(ctx context.Context) error {
	s.lastActive.Store(time.Now().UnixNano())

	g := errgroup.Group{}

	g.Go(func() error {
		s.finish(s.pump(s.right, s.left, &s.toRight))
		return nil
	})

	g.Go(func() error {
		s.finish(s.pump(s.left, s.right, &s.toLeft))
		return nil
	})

	// If the context is canceled, close both sides to unblock the reads.
	g.Go(func() error {
		select {
		case <-ctx.Done():
			s.finish(ctx.Err())
		case <-s.done:
		}
		return nil
	})

	_ = g.Wait()

	if isClosed(s.err) {
		return nil
	}
	return s.err
}

// Close closes both connections. It is safe to call more than once and
// concurrently with Run.
func (s *Session) Close() error {
	s.finish(nil)
	return nil
}

// finish records why the session ended and closes both sides. Only the
// first call has any effect.
func (s *Session) finish(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
		_ = s.left.Close()
		_ = s.right.Close()
	})
}

// Bytes returns how many bytes were relayed left to right and right to
// left.
func (s *Session) Bytes() (toRight, toLeft int64) {
	return s.toRight.Load(), s.toLeft.Load()
}

func (s *Session) pump(dst, src net.Conn, n *atomic.Int64) error {
	buf := relayBuffers.Get()
	defer relayBuffers.Put(buf)

	for {
		if s.idleTimeout > 0 {
			_ = src.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			s.lastActive.Store(time.Now().UnixNano())
			nw, werr := dst.Write(buf[:nr])
			n.Add(int64(nw))
			if werr != nil {
				return fmt.Errorf("write %s: %w", dst.RemoteAddr(), werr)
			}
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF):
			return nil
		case errors.Is(rerr, os.ErrDeadlineExceeded) && s.idleTimeout > 0:
			// The other direction may still be busy.
			if time.Since(time.Unix(0, s.lastActive.Load())) < s.idleTimeout {
				continue
			}
			return ErrIdleTimeout
		default:
			return fmt.Errorf("read %s: %w", src.RemoteAddr(), rerr)
		}
	}
}

// isClosed reports errors caused by our own Close racing the other
// direction's read or write.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
