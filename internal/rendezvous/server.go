package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/die-net/rescue/internal/metrics"
	"github.com/die-net/rescue/internal/pool"
	"github.com/die-net/rescue/internal/proxy"
	"github.com/die-net/rescue/internal/request"
)

const classifyChunk = 4 << 10

// Server accepts rescuer links and clients on one listener and pairs them.
type Server struct {
	ctx  context.Context
	cfg  proxy.Config
	pool *pool.Pool[*Link]
}

// NewServer returns a Server that keeps idle rescuer links in p.
func NewServer(ctx context.Context, cfg proxy.Config, p *pool.Pool[*Link]) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Server{ctx: ctx, cfg: cfg, pool: p}
}

func (s *Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(c)
	}
}

// Close closes every idle link. In-progress sessions are left alone.
func (s *Server) Close() error {
	for _, l := range s.pool.Drain() {
		_ = l.Close()
	}
	metrics.PoolIdleLinks.Set(0)
	return nil
}

// Idle returns the number of links waiting in the pool.
func (s *Server) Idle() int {
	return s.pool.Len()
}

func (s *Server) handleConn(conn net.Conn) {
	first, r, err := s.readFirst(conn)

	switch r {
	case roleRescuer:
		s.register(conn)
	case roleClient:
		s.serveClient(conn, first)
	default:
		reason := metrics.ReasonUnclassified
		if errors.Is(err, os.ErrDeadlineExceeded) {
			reason = metrics.ReasonTimeout
		}
		metrics.RejectedTotal.WithLabelValues(reason).Inc()
		s.cfg.Log().Debug("rendezvous reject", "remote", conn.RemoteAddr().String(), "role", r, "first", len(first), "err", err)
		_ = conn.Close()
	}
}

// readFirst reads until the peer's role is known, failing after the
// negotiation timeout.
func (s *Server) readFirst(conn net.Conn) ([]byte, role, error) {
	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	var first []byte
	buf := make([]byte, classifyChunk)
	for {
		n, err := conn.Read(buf)
		first = append(first, buf[:n]...)

		if r := classify(first); r != roleUndecided {
			return first, r, nil
		}
		if err != nil {
			return first, roleUnknown, fmt.Errorf("classify: %w", err)
		}
	}
}

func (s *Server) register(conn net.Conn) {
	_ = conn.SetDeadline(time.Time{})

	l := newLink(conn)
	if !s.pool.Register(l) {
		metrics.RejectedTotal.WithLabelValues(metrics.ReasonDuplicate).Inc()
		_ = conn.Close()
		return
	}
	metrics.RegistrationsTotal.Inc()
	metrics.PoolIdleLinks.Set(float64(s.pool.Len()))
	s.cfg.Log().Debug("rescuer link registered", "remote", conn.RemoteAddr().String(), "idle", s.pool.Len())

	go l.watch(func() {
		if s.pool.Remove(l) {
			metrics.PoolIdleLinks.Set(float64(s.pool.Len()))
		}
		_ = l.Close()
		s.cfg.Log().Debug("rescuer link dropped while idle", "remote", conn.RemoteAddr().String(), "after", l.Idle())
	})
}

// take returns the most recently registered link that is still alive.
func (s *Server) take() (*Link, error) {
	for {
		l, err := s.pool.Take()
		metrics.PoolIdleLinks.Set(float64(s.pool.Len()))
		if err != nil {
			return nil, err
		}
		if err := l.claim(); err != nil {
			_ = l.Close()
			continue
		}
		return l, nil
	}
}

func (s *Server) serveClient(conn net.Conn, first []byte) {
	log := s.cfg.Log().With("client", conn.RemoteAddr().String())

	var l *Link
	for {
		var err error
		l, err = s.take()
		if err != nil {
			metrics.PoolEmptyTotal.Inc()
			err := proxy.ServeRequest(s.ctx, s.cfg, conn, first, refuse)
			log.Debug("client refused", "err", err)
			return
		}

		// The rescuer decodes the client's protocol itself.
		if _, err := l.Write(first); err != nil {
			log.Debug("forward to rescuer link", "rescuer", l.RemoteAddr().String(), "err", err)
			_ = l.Close()
			continue
		}
		break
	}

	_ = conn.SetDeadline(time.Time{})

	log = log.With("session", uuid.NewString(), "rescuer", l.RemoteAddr().String())
	log.Debug("paired", "link_idle", l.Idle())

	metrics.PairingsTotal.Inc()
	active := metrics.SessionsActive.WithLabelValues(metrics.SideSurvivor)
	active.Inc()
	defer active.Dec()

	start := time.Now()
	sess := proxy.NewSession(conn, l.Conn, s.cfg.IdleTimeout)
	err := sess.Run(s.ctx)
	metrics.SessionSeconds.WithLabelValues(metrics.SideSurvivor).Observe(time.Since(start).Seconds())

	up, down := sess.Bytes()
	log.Debug("session ended", "sent", up, "received", down, "err", err)
}

// refuse is the connector used when no rescuer link is available.
func refuse(context.Context, *request.Request) (net.Conn, error) {
	return nil, fmt.Errorf("%w: %w", proxy.ErrNoEgress, pool.ErrPoolEmpty)
}
