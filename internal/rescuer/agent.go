package rescuer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/die-net/rescue/internal/dialer"
	"github.com/die-net/rescue/internal/metrics"
	"github.com/die-net/rescue/internal/proxy"
	"github.com/die-net/rescue/internal/rendezvous"
	"github.com/die-net/rescue/internal/request"
)

// ErrLinkClosed is returned by Agent.Run when the survivor closed an idle
// link.
var ErrLinkClosed = errors.New("survivor closed idle link")

// State is the lifecycle position of an Agent's link.
type State uint32

const (
	StateDialing State = iota
	StateRegistering
	StateAwaitingRequest
	StatePaired
	StateConnectingRemote
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateRegistering:
		return "registering"
	case StateAwaitingRequest:
		return "awaiting-request"
	case StatePaired:
		return "paired"
	case StateConnectingRemote:
		return "connecting-remote"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Agent serves a single link to the survivor. An Agent is used once.
type Agent struct {
	cfg Config

	state      atomic.Uint32
	registered atomic.Bool
	paired     atomic.Bool
	waited     atomic.Int64

	// notify, when set, sees every state change from the Run goroutine.
	notify func(State)
}

func NewAgent(cfg Config) *Agent {
	return &Agent{cfg: cfg}
}

// State returns the link's current state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Registered reports whether the marker reached the survivor, meaning the
// link was offered to clients at least once.
func (a *Agent) Registered() bool {
	return a.registered.Load()
}

// Paired reports whether the survivor forwarded a client over the link.
func (a *Agent) Paired() bool {
	return a.paired.Load()
}

// Waited returns how long the registered link sat idle before the survivor
// either forwarded a client or hung up.
func (a *Agent) Waited() time.Duration {
	return time.Duration(a.waited.Load())
}

func (a *Agent) setState(s State) {
	a.state.Store(uint32(s))
	if a.notify != nil {
		a.notify(s)
	}
}

// Run dials the survivor, registers, and waits without a deadline for the
// survivor to forward a client. It then answers that client's SOCKS5 or
// HTTP CONNECT request through the link, dials the target with the egress
// dialer, and relays until either side closes. Run returns once the link
// is closed.
func (a *Agent) Run(ctx context.Context) error {
	a.setState(StateDialing)
	defer a.setState(StateClosed)

	log := a.cfg.log().With("survivor", a.cfg.Survivor)

	d := dialer.NewDirectDialer(dialer.Config{DialTimeout: a.cfg.DialTimeout, KeepAlive: a.cfg.Proxy.KeepAlive})
	conn, err := d.DialContext(ctx, "tcp", a.cfg.Survivor)
	if err != nil {
		return fmt.Errorf("dial survivor: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	a.setState(StateRegistering)
	if _, err := conn.Write(rendezvous.Marker); err != nil {
		_ = conn.Close()
		return fmt.Errorf("register: %w", err)
	}
	a.registered.Store(true)
	a.setState(StateAwaitingRequest)

	awaiting := time.Now()
	first := make([]byte, 4<<10)
	n, err := conn.Read(first)
	a.waited.Store(int64(time.Since(awaiting)))
	if n == 0 {
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrLinkClosed, err)
	}
	a.paired.Store(true)
	a.setState(StatePaired)

	log = log.With("session", uuid.NewString())
	log.Debug("paired with client")

	active := metrics.SessionsActive.WithLabelValues(metrics.SideRescuer)
	active.Inc()
	defer active.Dec()

	start := time.Now()
	err = proxy.ServeRequest(ctx, a.cfg.Proxy, conn, first[:n], a.connect(log))
	metrics.SessionSeconds.WithLabelValues(metrics.SideRescuer).Observe(time.Since(start).Seconds())

	log.Debug("session ended", "err", err)
	return err
}

func (a *Agent) connect(log *slog.Logger) proxy.Connector {
	return func(ctx context.Context, req *request.Request) (net.Conn, error) {
		a.setState(StateConnectingRemote)

		up, err := a.cfg.Egress.DialContext(ctx, "tcp", req.Address())
		if err != nil {
			return nil, err
		}

		log.Debug("connected", "protocol", req.Protocol, "target", req.Address())
		a.setState(StateRelaying)
		return up, nil
	}
}
