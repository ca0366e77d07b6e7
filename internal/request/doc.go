// Package request decodes the first bytes of a proxied session.
//
// A session starts either with a SOCKS5 greeting followed by a CONNECT
// request, or with a minimal HTTP CONNECT request. The [Decoder] is a small
// state machine that is fed raw bytes as they arrive and yields one
// [Message] at a time; incomplete input is reported as [ErrNeedMoreData] so
// the caller can read more and retry. Decoding has no side effects: replies
// are written by the caller.
package request
