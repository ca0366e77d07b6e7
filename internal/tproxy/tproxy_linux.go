//go:build linux

package tproxy

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/die-net/rescue/internal/proxy"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = true

// Netfilter's getsockopt numbers for the pre-NAT destination, from
// linux/netfilter_ipv4.h and linux/netfilter_ipv6/ip6_tables.h.
const (
	soOriginalDst     = 80
	ip6tSOOriginalDst = 80
)

// ListenTransparentTCP listens on addr and enables IP_TRANSPARENT so the
// socket can accept redirected connections (typical TPROXY setup).
//
// This requires CAP_NET_ADMIN. Callers still need iptables/nft rules to
// redirect traffic to the listener.
func ListenTransparentTCP(ctx context.Context, addr string, ka net.KeepAliveConfig) (net.Listener, error) {
	ln, err := proxy.ListenTCPControl(ctx, "tcp", addr, ka, func(network, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			if network == "tcp6" {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1)
				return
			}
			ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	})
	if err != nil {
		return nil, fmt.Errorf("tproxy: %w", err)
	}
	return ln, nil
}

// OriginalDst returns the original destination for a TCP connection
// redirected to this listener.
func OriginalDst(c net.Conn) (*net.TCPAddr, bool) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil, false
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return nil, false
	}

	var addr *net.TCPAddr
	_ = rc.Control(func(fd uintptr) {
		addr = originalDst4(int(fd))
		if addr == nil {
			addr = originalDst6(int(fd))
		}
	})

	return addr, addr != nil
}

// originalDst4 reads SO_ORIGINAL_DST. The kernel fills a sockaddr_in, which
// fits in the IPv6Mreq buffer: family, big-endian port, then the address.
func originalDst4(fd int) *net.TCPAddr {
	mreq, err := unix.GetsockoptIPv6Mreq(fd, unix.SOL_IP, soOriginalDst)
	if err != nil {
		return nil
	}
	raw := mreq.Multiaddr
	return &net.TCPAddr{
		IP:   net.IPv4(raw[4], raw[5], raw[6], raw[7]),
		Port: int(binary.BigEndian.Uint16(raw[2:4])),
	}
}

func originalDst6(fd int) *net.TCPAddr {
	info, err := unix.GetsockoptIPv6MTUInfo(fd, unix.SOL_IPV6, ip6tSOOriginalDst)
	if err != nil {
		return nil
	}
	sa := info.Addr
	// sin6_port is stored in network byte order.
	port := (*[2]byte)(unsafe.Pointer(&sa.Port))
	return &net.TCPAddr{
		IP:   append(net.IP(nil), sa.Addr[:]...),
		Port: int(binary.BigEndian.Uint16(port[:])),
	}
}
