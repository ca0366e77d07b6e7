package rendezvous

import (
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"
)

var errLinkDead = errors.New("rescuer link closed while idle")

// Link is a registered rescuer connection waiting in the pool.
//
// While idle a watcher goroutine blocks in Read so a rescuer that hangs up
// is noticed and dropped. Claiming a link stops the watcher before the
// connection is used.
type Link struct {
	net.Conn

	registered time.Time
	claimed    atomic.Bool
	dead       atomic.Bool
	watchDone  chan struct{}
}

func newLink(c net.Conn) *Link {
	return &Link{
		Conn:       c,
		registered: time.Now(),
		watchDone:  make(chan struct{}),
	}
}

// watch blocks until the link disconnects, sends unsolicited bytes, or is
// claimed. onDead runs in the first two cases.
func (l *Link) watch(onDead func()) {
	defer close(l.watchDone)

	var b [1]byte
	_, err := l.Conn.Read(b[:])
	if l.claimed.Load() && errors.Is(err, os.ErrDeadlineExceeded) {
		return
	}

	l.dead.Store(true)
	onDead()
}

// claim stops the watcher and hands the connection to the caller. It fails
// if the watcher already saw the link die.
func (l *Link) claim() error {
	l.claimed.Store(true)
	_ = l.Conn.SetReadDeadline(time.Unix(1, 0))
	<-l.watchDone

	if l.dead.Load() {
		return errLinkDead
	}
	_ = l.Conn.SetReadDeadline(time.Time{})
	return nil
}

// Idle returns how long the link has waited since registering.
func (l *Link) Idle() time.Duration {
	return time.Since(l.registered)
}
