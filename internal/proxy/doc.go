// Package proxy implements the session plumbing shared by both ends of a
// rescue tunnel.
//
// It contains the bidirectional relay ([Session], [Relay]), the request
// serving flow that decodes a SOCKS5 or HTTP CONNECT opening, connects and
// replies ([ServeRequest]), the single-hop proxy server built on it, and
// keepalive listeners.
package proxy
