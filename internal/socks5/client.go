package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// ReplyError is returned by ClientConnect when the server answers CONNECT
// with a non-success code.
type ReplyError struct {
	Rep byte
}

func (e *ReplyError) Error() string {
	switch e.Rep {
	case RepConnectionRefused:
		return "socks5: connection refused"
	case RepCommandNotSupported:
		return "socks5: command not supported"
	case RepAddressTypeNotSupported:
		return "socks5: address type not supported"
	default:
		return fmt.Sprintf("socks5: connect failed with reply %#x", e.Rep)
	}
}

// ClientDial runs a full client handshake on rw: method negotiation, then
// CONNECT to address. On success rw carries the tunneled stream and the
// bound address reported by the server is returned.
func ClientDial(rw io.ReadWriter, auth Auth, address string) (net.Addr, error) {
	if err := ClientNegotiate(rw, auth); err != nil {
		return nil, err
	}
	return ClientConnect(rw, address)
}

// ClientNegotiate offers no-auth, plus username/password when auth is set.
func ClientNegotiate(rw io.ReadWriter, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(rw); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return errors.New("server requires username/password")
		}

		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(rw); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(rw)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return errors.New("auth failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported negotiation method: %d", neg.Method)
	}
}

// ClientConnect sends CONNECT for address and reads the reply.
func ClientConnect(rw io.ReadWriter, address string) (net.Addr, error) {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(rw); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(rw)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != RepSuccess {
		return nil, &ReplyError{Rep: rep.Rep}
	}

	return boundAddr(rep), nil
}

func boundAddr(rep *txsocks5.Reply) net.Addr {
	addr := &net.TCPAddr{}
	if rep.Atyp == txsocks5.ATYPIPv4 || rep.Atyp == txsocks5.ATYPIPv6 {
		addr.IP = net.IP(rep.BndAddr)
	}
	if len(rep.BndPort) == 2 {
		addr.Port = int(binary.BigEndian.Uint16(rep.BndPort))
	}
	return addr
}
