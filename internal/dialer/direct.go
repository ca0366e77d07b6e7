package dialer

import (
	"context"
	"fmt"
	"net"
)

// DirectDialer connects straight to the target with the configured timeout
// and keepalive settings.
type DirectDialer struct {
	d net.Dialer
}

func NewDirectDialer(cfg Config) *DirectDialer {
	d := net.Dialer{Timeout: cfg.DialTimeout, KeepAliveConfig: cfg.KeepAlive}
	if !cfg.KeepAlive.Enable {
		d.KeepAlive = -1
	}
	return &DirectDialer{d: d}
}

func (d *DirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	c, err := d.d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	return c, nil
}
