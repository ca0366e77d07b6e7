// Package tproxy accepts transparently redirected TCP connections on the
// survivor and sends each one out through a rescuer link.
//
// On Linux, it listens with IP_TRANSPARENT and retrieves the original
// destination of redirected TCP connections via SO_ORIGINAL_DST (getsockopt).
// This is designed for use with iptables/nftables TPROXY or REDIRECT rules.
//
// On other platforms, the listener and original-destination lookup are stubbed
// out and return errors.
package tproxy
