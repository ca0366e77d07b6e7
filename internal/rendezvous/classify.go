package rendezvous

import (
	"bytes"
	"errors"

	"github.com/die-net/rescue/internal/request"
)

// Marker is sent by a rescuer as the only bytes of a new link.
var Marker = []byte{0xFF, 0x53, 0x53}

type role uint8

const (
	roleUndecided role = iota
	roleUnknown
	roleRescuer
	roleClient
)

func (r role) String() string {
	switch r {
	case roleUndecided:
		return "undecided"
	case roleRescuer:
		return "rescuer"
	case roleClient:
		return "client"
	default:
		return "unknown"
	}
}

// classify decides what kind of peer sent b, the bytes read so far.
func classify(b []byte) role {
	if len(b) == 0 {
		return roleUndecided
	}

	if b[0] == Marker[0] {
		n := min(len(b), len(Marker))
		switch {
		case !bytes.Equal(b[:n], Marker[:n]):
			return roleUnknown
		case len(b) < len(Marker):
			return roleUndecided
		case len(b) > len(Marker):
			// A registering rescuer stays silent after the marker.
			return roleUnknown
		default:
			return roleRescuer
		}
	}

	_, err := request.Detect(b)
	switch {
	case err == nil:
		return roleClient
	case errors.Is(err, request.ErrNeedMoreData):
		return roleUndecided
	default:
		return roleUnknown
	}
}
