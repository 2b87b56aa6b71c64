// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netrange/bfdd/internal/bfd"
)

// namespace prefixes every metric name.
const namespace = "bfdd"

// Metric label names.
const (
	labelPeer   = "peer"
	labelDiscr  = "local_discriminator"
	labelState  = "state"
	labelReason = "reason"
)

// Collector holds the daemon's metrics. Register it once on a
// prometheus.Registry at startup.
type Collector struct {
	sessionState       *prometheus.GaugeVec
	stateTransitions   *prometheus.CounterVec
	packetsDiscarded   *prometheus.CounterVec
	sessionsRegistered prometheus.Gauge
}

// NewCollector creates the metric set and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state (0=AdminDown, 1=Down, 2=Init, 3=Up).",
		}, []string{labelPeer, labelDiscr}),

		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_transitions_total",
			Help:      "Session state transitions by resulting state.",
		}, []string{labelPeer, labelDiscr, labelState}),

		packetsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_discarded_total",
			Help:      "Inbound packets discarded before reaching a session.",
		}, []string{labelReason}),

		sessionsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_registered",
			Help:      "Sessions currently registered in the session table.",
		}),
	}

	reg.MustRegister(
		c.sessionState,
		c.stateTransitions,
		c.packetsDiscarded,
		c.sessionsRegistered,
	)
	return c
}

// ObserveStateChange records one session state transition.
func (c *Collector) ObserveStateChange(ch bfd.StateChange) {
	peer := ch.PeerAddr.String()
	discr := strconv.FormatUint(uint64(ch.LocalDiscriminator), 10)

	c.sessionState.WithLabelValues(peer, discr).Set(float64(ch.NewState))
	c.stateTransitions.WithLabelValues(peer, discr, ch.NewState.String()).Inc()
}

// ObserveDiscard counts one discarded inbound packet.
func (c *Collector) ObserveDiscard(reason string) {
	c.packetsDiscarded.WithLabelValues(reason).Inc()
}

// SetSessionCount tracks the session table size.
func (c *Collector) SetSessionCount(n int) {
	c.sessionsRegistered.Set(float64(n))
}

// TransitionCounter returns the transition counter for the given label
// values. Test accessor.
func (c *Collector) TransitionCounter(peer, discr, state string) prometheus.Counter {
	return c.stateTransitions.WithLabelValues(peer, discr, state)
}
