package socks5

import (
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// Reply codes written by rescue.
const (
	RepSuccess                 byte = txsocks5.RepSuccess
	RepGeneralFailure          byte = 0x01
	RepConnectionRefused       byte = txsocks5.RepConnectionRefused
	RepCommandNotSupported     byte = txsocks5.RepCommandNotSupported
	RepAddressTypeNotSupported byte = 0x08
)

// Auth configures optional username/password authentication for SOCKS5
// negotiation.
type Auth struct {
	Username string
	Password string
}

// WriteMethodReply accepts the no-authentication method.
func WriteMethodReply(w io.Writer) error {
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(w); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// WriteNoAcceptableMethods rejects a greeting.
func WriteNoAcceptableMethods(w io.Writer) error {
	// RFC 1928: 0xFF indicates no acceptable methods.
	if _, err := txsocks5.NewNegotiationReply(0xff).WriteTo(w); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// WriteReply writes a reply with code rep and a zero IPv4 bound address,
// e.g. 05 05 00 01 00 00 00 00 00 00 for connection refused.
func WriteReply(w io.Writer, rep byte) error {
	r := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
	if _, err := r.WriteTo(w); err != nil {
		return fmt.Errorf("reply %#x: %w", rep, err)
	}
	return nil
}

// WriteSuccessReply writes a SOCKS5 success reply using localAddr as the
// bound address. Addresses that are not host:port, such as those of
// in-memory pipes, are reported as 0.0.0.0:0.
func WriteSuccessReply(w io.Writer, localAddr net.Addr) error {
	if localAddr == nil {
		return WriteReply(w, RepSuccess)
	}
	a, addr, port, err := txsocks5.ParseAddress(localAddr.String())
	if err != nil {
		return WriteReply(w, RepSuccess)
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(RepSuccess, a, addr, port).WriteTo(w); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}
