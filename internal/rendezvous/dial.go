package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/die-net/rescue/internal/metrics"
	"github.com/die-net/rescue/internal/socks5"
)

// DialContext connects to address through a rescuer link by running a
// SOCKS5 CONNECT over it, so the Server can stand in as a dialer.Dialer.
// A link that turns out to be broken is discarded and the next one tried;
// a refusal by the rescuer is returned as is.
func (s *Server) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, fmt.Errorf("rendezvous dial %s %s: unsupported network", network, address)
	}

	for {
		l, err := s.take()
		if err != nil {
			metrics.PoolEmptyTotal.Inc()
			return nil, fmt.Errorf("rendezvous dial %s: %w", address, err)
		}

		c, err := s.handshake(ctx, l, address)
		var re *socks5.ReplyError
		switch {
		case err == nil:
			metrics.PairingsTotal.Inc()
			return c, nil
		case errors.As(err, &re), ctx.Err() != nil:
			return nil, fmt.Errorf("rendezvous dial %s: %w", address, err)
		default:
			s.cfg.Log().Debug("rescuer link handshake", "rescuer", l.RemoteAddr().String(), "err", err)
		}
	}
}

func (s *Server) handshake(ctx context.Context, l *Link, address string) (net.Conn, error) {
	if s.cfg.NegotiationTimeout > 0 {
		_ = l.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = l.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := socks5.ClientDial(l.Conn, socks5.Auth{}, address); err != nil {
		_ = l.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if !stop() {
		_ = l.Close()
		return nil, ctx.Err()
	}
	_ = l.SetDeadline(time.Time{})
	return l.Conn, nil
}
