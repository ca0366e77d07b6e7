// Package socks5 holds the SOCKS5 wire encoding shared by rescue.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 so
// replies are written the same way by the rescuer agent, the single-hop
// proxy and the survivor's refusal path, and so a SOCKS5 client handshake
// can be run over an already-open connection such as a rescuer link.
//
// Request decoding lives in internal/request, which tolerates split and
// concatenated reads; this package only writes.
package socks5
