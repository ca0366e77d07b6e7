package tproxy

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/die-net/rescue/internal/dialer"
	"github.com/die-net/rescue/internal/proxy"
)

var errNoOriginalDst = errors.New("original destination unavailable")

// Server relays each accepted connection to its original destination,
// reached through d. On the survivor d is the rendezvous server, so the
// rescuer at the other end of a link does the dialing.
type Server struct {
	ctx    context.Context
	cfg    proxy.Config
	dialer dialer.Dialer

	originalDst func(net.Conn) (*net.TCPAddr, bool)
}

func NewServer(ctx context.Context, cfg proxy.Config, d dialer.Dialer) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Server{ctx: ctx, cfg: cfg, dialer: d, originalDst: OriginalDst}
}

func (s *Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			if err := s.handle(c); err != nil {
				s.cfg.Log().Debug("tproxy connection", "remote", c.RemoteAddr().String(), "err", err)
			}
		}()
	}
}

func (s *Server) handle(conn net.Conn) error {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	dst, ok := s.originalDst(conn)
	if !ok {
		_ = conn.Close()
		return errNoOriginalDst
	}

	up, err := s.dialer.DialContext(ctx, "tcp", dst.String())
	if err != nil {
		_ = conn.Close()
		return err
	}

	s.cfg.Log().Debug("tproxy session", "session", uuid.NewString(), "remote", conn.RemoteAddr().String(), "target", dst.String())

	if err := proxy.Relay(ctx, conn, up, s.cfg.IdleTimeout); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}
