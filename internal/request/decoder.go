package request

import (
	"encoding/binary"
	"net/netip"
)

type state uint8

const (
	stateFirst state = iota
	stateSOCKS5Request
	stateDone
	stateFailed
)

// Decoder incrementally decodes the opening messages of one session.
//
// A SOCKS5 session yields a *Greeting then a *Request; an HTTP CONNECT
// session yields a single *Request. After the request has been decoded,
// Remaining returns any bytes that followed it.
type Decoder struct {
	buf   []byte
	state state
	proto Protocol
	err   error
}

// Write appends p to the decoder's buffer. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of undecoded bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Remaining returns the bytes buffered after the decoded request.
func (d *Decoder) Remaining() []byte {
	if d.state != stateDone {
		return nil
	}
	return d.buf
}

// Protocol returns the detected protocol, or zero before detection.
func (d *Decoder) Protocol() Protocol {
	return d.proto
}

// Done reports whether a request has been decoded.
func (d *Decoder) Done() bool {
	return d.state == stateDone
}

// Decode returns the next complete message. ErrNeedMoreData leaves the
// decoder unchanged; every other error is terminal and is returned again
// by later calls.
func (d *Decoder) Decode() (Message, error) {
	switch d.state {
	case stateFirst:
		p, err := Detect(d.buf)
		if err != nil {
			return nil, d.fail(err)
		}
		d.proto = p
		if p == HTTPConnect {
			req, n, err := parseHTTPConnect(d.buf)
			if err != nil {
				return nil, d.fail(err)
			}
			d.advance(n, stateDone)
			return req, nil
		}

		g, n, err := parseGreeting(d.buf)
		if err != nil {
			return nil, d.fail(err)
		}
		d.advance(n, stateSOCKS5Request)
		return g, nil

	case stateSOCKS5Request:
		req, n, err := parseSOCKS5Request(d.buf)
		if err != nil {
			return nil, d.fail(err)
		}
		d.advance(n, stateDone)
		return req, nil

	case stateFailed:
		return nil, d.err

	default:
		return nil, ErrMalformed
	}
}

func (d *Decoder) advance(n int, next state) {
	d.buf = d.buf[n:]
	d.state = next
}

func (d *Decoder) fail(err error) error {
	if err != ErrNeedMoreData {
		d.state = stateFailed
		d.err = err
	}
	return err
}

// parseGreeting decodes VER NMETHODS METHODS... and returns the number of
// bytes consumed.
func parseGreeting(b []byte) (*Greeting, int, error) {
	if len(b) < 2 {
		return nil, 0, ErrNeedMoreData
	}
	if b[0] != Version5 {
		return nil, 0, ErrMalformed
	}

	n := 2 + int(b[1])
	if len(b) < n {
		return nil, 0, ErrNeedMoreData
	}

	g := &Greeting{Methods: append([]byte(nil), b[2:n]...)}
	for _, m := range g.Methods {
		if m == MethodNoAuth {
			return g, n, nil
		}
	}
	return nil, 0, ErrNoAcceptableMethods
}

// parseSOCKS5Request decodes VER CMD RSV ATYP DST.ADDR DST.PORT. The
// command is checked before the address type so unsupported commands are
// rejected whatever address follows.
func parseSOCKS5Request(b []byte) (*Request, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrNeedMoreData
	}
	if b[0] != Version5 {
		return nil, 0, ErrMalformed
	}
	if b[1] != CmdConnect {
		return nil, 0, ErrCommandNotSupported
	}

	atyp := b[3]
	off := 4
	var addrLen int
	switch atyp {
	case ATYPIPv4:
		addrLen = 4
	case ATYPIPv6:
		addrLen = 16
	case ATYPDomain:
		if len(b) < 5 {
			return nil, 0, ErrNeedMoreData
		}
		addrLen = int(b[4])
		if addrLen == 0 {
			return nil, 0, ErrMalformed
		}
		off = 5
	default:
		return nil, 0, ErrAddressTypeNotSupported
	}

	end := off + addrLen + 2
	if len(b) < end {
		return nil, 0, ErrNeedMoreData
	}

	addr := b[off : off+addrLen]
	var host string
	switch atyp {
	case ATYPIPv4:
		host = netip.AddrFrom4([4]byte(addr)).String()
	case ATYPIPv6:
		host = netip.AddrFrom16([16]byte(addr)).String()
	default:
		host = string(addr)
	}

	return &Request{
		Protocol: SOCKS5,
		Command:  CmdConnect,
		AddrType: atyp,
		Host:     host,
		Port:     binary.BigEndian.Uint16(b[off+addrLen : end]),
	}, end, nil
}
