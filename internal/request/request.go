package request

import (
	"errors"
	"net"
	"net/netip"
	"strconv"
)

// SOCKS5 wire constants.
const (
	Version5 = 0x05

	MethodNoAuth = 0x00

	CmdConnect      = 0x01
	CmdBind         = 0x02
	CmdUDPAssociate = 0x03

	ATYPIPv4   = 0x01
	ATYPDomain = 0x03
	ATYPIPv6   = 0x04
)

var (
	// ErrNeedMoreData means the buffered input is a valid prefix; read more
	// bytes and call Decode again.
	ErrNeedMoreData = errors.New("request: need more data")

	// ErrCommandNotSupported is returned for any SOCKS5 command other than
	// CONNECT, including BIND and UDP ASSOCIATE.
	ErrCommandNotSupported = errors.New("request: command not supported")

	// ErrAddressTypeNotSupported is returned for an unknown SOCKS5 ATYP.
	ErrAddressTypeNotSupported = errors.New("request: address type not supported")

	// ErrNoAcceptableMethods is returned when a SOCKS5 greeting does not
	// offer the no-authentication method.
	ErrNoAcceptableMethods = errors.New("request: no acceptable authentication methods")

	// ErrMalformed is returned for input that is neither SOCKS5 nor HTTP
	// CONNECT, or that violates either format.
	ErrMalformed = errors.New("request: malformed")
)

// Protocol identifies the proxy protocol a session speaks.
type Protocol uint8

const (
	SOCKS5 Protocol = iota + 1
	HTTPConnect
)

func (p Protocol) String() string {
	switch p {
	case SOCKS5:
		return "socks5"
	case HTTPConnect:
		return "http-connect"
	default:
		return "unknown"
	}
}

// Message is one decoded unit: a *Greeting or a *Request.
type Message interface {
	message()
}

// Greeting is a SOCKS5 method-selection message.
type Greeting struct {
	Methods []byte
}

// Request is a decoded CONNECT target.
type Request struct {
	Protocol Protocol
	Command  byte
	AddrType byte
	Host     string
	Port     uint16
}

func (*Greeting) message() {}
func (*Request) message()  {}

// Address returns the target as host:port.
func (r *Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// Detect reports which protocol b starts with. It returns ErrNeedMoreData
// while a "CONNECT" prefix is still incomplete and ErrMalformed for
// anything else.
func Detect(b []byte) (Protocol, error) {
	if len(b) == 0 {
		return 0, ErrNeedMoreData
	}
	if b[0] == Version5 {
		return SOCKS5, nil
	}

	const verb = "CONNECT"
	n := min(len(b), len(verb))
	if string(b[:n]) != verb[:n] {
		return 0, ErrMalformed
	}
	if n < len(verb) {
		return 0, ErrNeedMoreData
	}
	return HTTPConnect, nil
}

func addrType(host string) byte {
	ip, err := netip.ParseAddr(host)
	switch {
	case err != nil:
		return ATYPDomain
	case ip.Is4() || ip.Is4In6():
		return ATYPIPv4
	default:
		return ATYPIPv6
	}
}
