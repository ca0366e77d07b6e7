// Package rendezvous implements the survivor's listener.
//
// Every accepted connection is either a rescuer registering an idle link
// (it opens with the three byte marker) or a client speaking SOCKS5 or HTTP
// CONNECT. Rescuer links wait in a pool; each client is paired with the
// most recently registered link and its bytes are relayed verbatim, so the
// rescuer end does all the protocol work and the dialing.
package rendezvous
