package request

import (
	"bytes"
	"net"
	"strconv"
	"strings"
)

// maxHeaderBytes bounds how much of an HTTP CONNECT header block is
// buffered before the request is declared malformed.
const maxHeaderBytes = 16 << 10

// parseHTTPConnect decodes "CONNECT host:port HTTP/1.x" followed by a
// header block. The header block is consumed but not interpreted.
func parseHTTPConnect(b []byte) (*Request, int, error) {
	end := headerEnd(b)
	if end < 0 {
		if len(b) > maxHeaderBytes {
			return nil, 0, ErrMalformed
		}
		return nil, 0, ErrNeedMoreData
	}

	line := b[:bytes.IndexByte(b, '\n')]
	fields := strings.Fields(string(line))
	if len(fields) < 2 || fields[0] != "CONNECT" {
		return nil, 0, ErrMalformed
	}

	target := fields[1]
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil || host == "" {
		return nil, 0, ErrMalformed
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, 0, ErrMalformed
	}

	return &Request{
		Protocol: HTTPConnect,
		Command:  CmdConnect,
		AddrType: addrType(host),
		Host:     host,
		Port:     uint16(port),
	}, end, nil
}

// headerEnd returns the offset just past the blank line ending the header
// block, or -1.
func headerEnd(b []byte) int {
	end := -1
	if i := bytes.Index(b, []byte("\r\n\r\n")); i >= 0 {
		end = i + 4
	}
	if i := bytes.Index(b, []byte("\n\n")); i >= 0 && (end < 0 || i+2 < end) {
		end = i + 2
	}
	return end
}
