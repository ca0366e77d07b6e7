package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Dialer is the subset of net.Dialer used for egress.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// defaultPorts lists the schemes that name an upstream proxy.
var defaultPorts = map[string]string{
	"http":   "80",
	"https":  "443",
	"socks5": "1080",
}

// New builds the egress Dialer described by upstream:
//
//	direct://
//	http://[user:pass@]host[:port]
//	https://[user:pass@]host[:port]
//	socks5://[user:pass@]host[:port]
//
// The scheme is case-insensitive and a missing port gets the scheme's
// default.
func New(cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)

	if u.Scheme == "" {
		return nil, errors.New("invalid url: missing scheme")
	}
	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid url: path should be empty")
	}
	if u.Scheme == "direct" {
		return NewDirectDialer(cfg), nil
	}

	port, ok := defaultPorts[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid url: missing host in %q", upstream)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}

	user := u.User.Username()
	pass, _ := u.User.Password()

	if u.Scheme == "socks5" {
		return NewSOCKS5ProxyDialer(cfg, u.Host, user, pass), nil
	}
	return NewHTTPProxyDialer(cfg, u, user, pass)
}
