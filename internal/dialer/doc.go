// Package dialer provides the outbound dialers that give a rescuer (or the
// single-hop proxy) its egress.
//
// Dialers implement a small interface (DialContext) and either connect
// directly or go through an upstream HTTP CONNECT or SOCKS5 proxy.
package dialer
