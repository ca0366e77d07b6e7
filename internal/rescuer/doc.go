// Package rescuer runs on a host with working egress and lends it to a
// survivor.
//
// An Agent keeps one link: it dials the survivor's rendezvous listener,
// registers with the marker, then serves whichever client the survivor
// pairs with it. A Supervisor runs a fixed number of agents back to back so
// the survivor's pool stays full.
package rescuer
