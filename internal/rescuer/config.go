package rescuer

import (
	"log/slog"
	"time"

	"github.com/die-net/rescue/internal/dialer"
	"github.com/die-net/rescue/internal/proxy"
)

type Config struct {
	// Survivor is the host:port of the survivor's rendezvous listener.
	Survivor string

	// Links is how many registered links the Supervisor keeps.
	Links int

	// DialTimeout bounds each dial to the survivor.
	DialTimeout time.Duration

	// RedialMin and RedialMax bound the backoff between failed dials.
	RedialMin time.Duration
	RedialMax time.Duration

	// Egress opens the connection each client asked for.
	Egress dialer.Dialer

	// Proxy carries the negotiation and relay timeouts, the keepalive
	// settings for the survivor link, and the logger.
	Proxy proxy.Config
}

func (c Config) log() *slog.Logger {
	return c.Proxy.Log()
}
