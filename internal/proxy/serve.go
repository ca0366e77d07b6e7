package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/die-net/rescue/internal/request"
	"github.com/die-net/rescue/internal/socks5"
)

var (
	// ErrConnectionRefused is returned by ServeRequest when the connector
	// failed. It wraps the connector's error.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrNoEgress can be returned by a Connector that has no way out at
	// all; HTTP clients then get 503 instead of 502.
	ErrNoEgress = errors.New("no egress available")
)

// Connector opens the outbound side of a decoded request.
type Connector func(ctx context.Context, req *request.Request) (net.Conn, error)

// ServeRequest handles one proxied session on conn.
//
// first holds bytes already read from conn. ServeRequest reads until a
// request is decoded, answering a SOCKS5 greeting on the way, then calls
// connect and writes the SOCKS5 or HTTP reply. On success it relays between
// conn and the outbound connection until either side closes. Every decode
// or connect failure is answered with the matching reply before conn is
// closed; conn is always closed when ServeRequest returns.
func ServeRequest(ctx context.Context, cfg Config, conn net.Conn, first []byte, connect Connector) error {
	if cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.NegotiationTimeout))
	}

	dec := &request.Decoder{}
	_, _ = dec.Write(first)

	req, err := readRequest(conn, dec)
	if err != nil {
		writeDecodeError(conn, dec.Protocol(), err)
		_ = conn.Close()
		return err
	}

	up, err := connect(ctx, req)
	if err != nil {
		writeConnectError(conn, req.Protocol, err)
		_ = conn.Close()
		return fmt.Errorf("connect %s: %w: %w", req.Address(), ErrConnectionRefused, err)
	}

	if err := writeEstablished(conn, req.Protocol, up.LocalAddr()); err != nil {
		_ = conn.Close()
		_ = up.Close()
		return err
	}

	if early := dec.Remaining(); len(early) > 0 {
		if _, err := up.Write(early); err != nil {
			_ = conn.Close()
			_ = up.Close()
			return fmt.Errorf("write early data: %w", err)
		}
	}

	_ = conn.SetDeadline(time.Time{})

	return Relay(ctx, conn, up, cfg.IdleTimeout)
}

// readRequest feeds dec from conn until it yields a request, replying to a
// SOCKS5 greeting in between.
func readRequest(conn net.Conn, dec *request.Decoder) (*request.Request, error) {
	buf := relayBuffers.Get()
	defer relayBuffers.Put(buf)

	for {
		msg, err := dec.Decode()
		if errors.Is(err, request.ErrNeedMoreData) {
			n, rerr := conn.Read(buf)
			if n > 0 {
				_, _ = dec.Write(buf[:n])
				continue
			}
			if rerr != nil {
				return nil, fmt.Errorf("read request: %w", rerr)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		switch m := msg.(type) {
		case *request.Greeting:
			if err := socks5.WriteMethodReply(conn); err != nil {
				return nil, err
			}
		case *request.Request:
			return m, nil
		}
	}
}

func writeDecodeError(w io.Writer, proto request.Protocol, err error) {
	switch {
	case errors.Is(err, request.ErrCommandNotSupported):
		_ = socks5.WriteReply(w, socks5.RepCommandNotSupported)
	case errors.Is(err, request.ErrAddressTypeNotSupported):
		_ = socks5.WriteReply(w, socks5.RepAddressTypeNotSupported)
	case errors.Is(err, request.ErrNoAcceptableMethods):
		_ = socks5.WriteNoAcceptableMethods(w)
	case errors.Is(err, request.ErrMalformed):
		switch proto {
		case request.SOCKS5:
			_ = socks5.WriteReply(w, socks5.RepGeneralFailure)
		case request.HTTPConnect:
			_ = writeHTTPError(w, http.StatusBadRequest, err)
		}
	}
}

func writeConnectError(w io.Writer, proto request.Protocol, err error) {
	if proto == request.HTTPConnect {
		code := http.StatusBadGateway
		if errors.Is(err, ErrNoEgress) {
			code = http.StatusServiceUnavailable
		}
		_ = writeHTTPError(w, code, err)
		return
	}
	_ = socks5.WriteReply(w, socks5.RepConnectionRefused)
}

func writeEstablished(w io.Writer, proto request.Protocol, bound net.Addr) error {
	if proto == request.HTTPConnect {
		if _, err := io.WriteString(w, "HTTP/1.0 200 Connection established\r\n\r\n"); err != nil {
			return fmt.Errorf("http connect reply: %w", err)
		}
		return nil
	}
	return socks5.WriteSuccessReply(w, bound)
}

// writeHTTPError simulates http.Error() on a raw connection.
func writeHTTPError(w io.Writer, code int, err error) error {
	_, werr := fmt.Fprintf(w, "HTTP/1.0 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\n\r\n%s\r\n", code, http.StatusText(code), err.Error())
	return werr
}
