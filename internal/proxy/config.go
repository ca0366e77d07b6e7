package proxy

import (
	"log/slog"
	"net"
	"time"
)

type Config struct {
	// NegotiationTimeout bounds the time from the first request byte to
	// the reply. Zero disables it.
	NegotiationTimeout time.Duration

	// IdleTimeout closes a relayed session when neither side has sent
	// anything for this long. Zero disables it.
	IdleTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	Logger *slog.Logger
}

// Log returns Logger, or slog.Default() when it is nil.
func (c Config) Log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
