//go:build !linux

package tproxy

import (
	"context"
	"errors"
	"net"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = false

func ListenTransparentTCP(_ context.Context, _ string, _ net.KeepAliveConfig) (net.Listener, error) {
	return nil, errors.New("transparent proxy is only supported on linux")
}

func OriginalDst(_ net.Conn) (*net.TCPAddr, bool) {
	return nil, false
}
