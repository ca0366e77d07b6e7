package proxy

import (
	"context"
	"fmt"
	"net"
	"syscall"
)

// ListenTCP listens on network/addr. Accepted TCP connections use ka for
// their keepalive probes.
func ListenTCP(ctx context.Context, network, addr string, ka net.KeepAliveConfig) (net.Listener, error) {
	return ListenTCPControl(ctx, network, addr, ka, nil)
}

// ListenTCPControl is ListenTCP with a socket option hook that runs before
// bind, as in net.ListenConfig.Control.
func ListenTCPControl(ctx context.Context, network, addr string, ka net.KeepAliveConfig, control func(network, address string, c syscall.RawConn) error) (net.Listener, error) {
	lc := net.ListenConfig{KeepAliveConfig: ka, Control: control}
	if !ka.Enable {
		// A zero period would leave the net package's default probes on.
		lc.KeepAlive = -1
	}

	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}
	return ln, nil
}
