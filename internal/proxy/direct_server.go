package proxy

import (
	"context"
	"net"

	"github.com/die-net/rescue/internal/dialer"
	"github.com/die-net/rescue/internal/request"
)

// DirectServer is the single-hop proxy: it accepts SOCKS5 and HTTP CONNECT
// clients and dials their targets itself.
type DirectServer struct {
	ctx    context.Context
	cfg    Config
	dialer dialer.Dialer
}

func NewDirectServer(ctx context.Context, cfg Config, d dialer.Dialer) *DirectServer {
	if ctx == nil {
		ctx = context.Background()
	}
	return &DirectServer{ctx: ctx, cfg: cfg, dialer: d}
}

func (s *DirectServer) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(c)
	}
}

func (s *DirectServer) handleConn(conn net.Conn) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	err := ServeRequest(ctx, s.cfg, conn, nil, s.connect)
	if err != nil {
		s.cfg.Log().Debug("direct session ended", "remote", conn.RemoteAddr().String(), "err", err)
	}
}

func (s *DirectServer) connect(ctx context.Context, req *request.Request) (net.Conn, error) {
	return s.dialer.DialContext(ctx, "tcp", req.Address())
}
