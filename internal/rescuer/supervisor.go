package rescuer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/rescue/internal/metrics"
)

// Supervisor keeps cfg.Links agents running against one survivor.
//
// Each worker runs agents back to back. A link that served a client or
// stayed registered for RedialMin is replaced immediately when it ends.
// Anything shorter, including a failed dial or a survivor that hangs up
// right after the marker, is retried after an exponential backoff with
// jitter, bounded by RedialMin and RedialMax.
type Supervisor struct {
	cfg  Config
	live atomic.Int64
}

func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Links <= 0 {
		cfg.Links = 1
	}
	if cfg.RedialMin <= 0 {
		cfg.RedialMin = 100 * time.Millisecond
	}
	if cfg.RedialMax < cfg.RedialMin {
		cfg.RedialMax = cfg.RedialMin
	}
	return &Supervisor{cfg: cfg}
}

// Live returns how many links are registered and waiting for a client.
func (s *Supervisor) Live() int {
	return int(s.live.Load())
}

// Run blocks until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.cfg.log().Info("rescuing", "survivor", s.cfg.Survivor, "links", s.cfg.Links)

	g, ctx := errgroup.WithContext(ctx)
	for i := range s.cfg.Links {
		g.Go(func() error {
			s.worker(ctx, i)
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RedialMin
	b.MaxInterval = s.cfg.RedialMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (s *Supervisor) worker(ctx context.Context, id int) {
	log := s.cfg.log().With("worker", id)
	b := s.newBackOff()

	for ctx.Err() == nil {
		metrics.RedialsTotal.Inc()

		a := NewAgent(s.cfg)
		a.notify = s.tracker()
		err := a.Run(ctx)

		if ctx.Err() != nil {
			return
		}

		if s.healthy(a) {
			b.Reset()
			if err != nil && !errors.Is(err, ErrLinkClosed) {
				log.Debug("link ended", "err", err)
			}
			continue
		}

		wait := b.NextBackOff()
		if a.Registered() {
			log.Info("survivor dropped link before use", "survivor", s.cfg.Survivor, "waited", a.Waited(), "retry_in", wait, "err", err)
		} else {
			log.Info("survivor unreachable", "survivor", s.cfg.Survivor, "retry_in", wait, "err", err)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// healthy reports whether a finished agent's link was really accepted by
// the survivor: it carried a client, or it stayed registered for at least
// RedialMin. Anything less counts as a failed dial.
func (s *Supervisor) healthy(a *Agent) bool {
	return a.Paired() || (a.Registered() && a.Waited() >= s.cfg.RedialMin)
}

// tracker returns an Agent notify func that counts the agent as live while
// it waits for a client.
func (s *Supervisor) tracker() func(State) {
	idle := false
	return func(st State) {
		switch {
		case st == StateAwaitingRequest:
			idle = true
			s.live.Add(1)
			metrics.RescuerLiveLinks.Inc()
		case idle:
			idle = false
			s.live.Add(-1)
			metrics.RescuerLiveLinks.Dec()
		}
	}
}
