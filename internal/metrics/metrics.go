// Package metrics holds the Prometheus collectors for the rendezvous server
// and the rescuer supervisor. They register with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolIdleLinks      = promauto.NewGauge(prometheus.GaugeOpts{Name: "rescue_pool_idle_links", Help: "Rescuer links waiting in the pool"})
	RegistrationsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "rescue_registrations_total", Help: "Rescuer links registered"})
	PairingsTotal      = promauto.NewCounter(prometheus.CounterOpts{Name: "rescue_pairings_total", Help: "Clients paired with a rescuer link"})
	PoolEmptyTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "rescue_pool_empty_total", Help: "Clients that found no rescuer link"})
	SessionsActive     = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "rescue_sessions_active", Help: "Relayed sessions in progress"}, []string{"side"})
	RejectedTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rescue_rejected_total", Help: "Connections rejected by reason"}, []string{"reason"})
	RedialsTotal       = promauto.NewCounter(prometheus.CounterOpts{Name: "rescue_redials_total", Help: "Rescuer link dials"})
	RescuerLiveLinks   = promauto.NewGauge(prometheus.GaugeOpts{Name: "rescue_rescuer_live_links", Help: "Rescuer links currently registered with the survivor"})
	SessionSeconds     = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "rescue_session_duration_seconds", Help: "Relayed session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)}, []string{"side"})
)

// Side labels for SessionsActive and SessionSeconds.
const (
	SideSurvivor = "survivor"
	SideRescuer  = "rescuer"
)

// Reason labels for RejectedTotal.
const (
	ReasonUnclassified = "unclassified"
	ReasonTimeout      = "timeout"
	ReasonDuplicate    = "duplicate"
)
