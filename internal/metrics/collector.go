// Package dot1xmetrics exposes the 802.1X engine's counters as
// Prometheus metrics.
package dot1xmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "godot1x"
	subsystem = "port"
)

// Label names for 802.1X metrics.
const (
	labelPort      = "port"
	labelMachine   = "machine"
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelType      = "packet_type"
	labelReason    = "reason"
	labelOutcome   = "outcome"
)

// -------------------------------------------------------------------------
// Collector — Prometheus 802.1X Metrics
// -------------------------------------------------------------------------

// Collector holds all 802.1X Prometheus metrics and implements the
// engine's MetricsReporter interface.
//
// Metrics are designed for NAC fleet monitoring:
//   - Authorized gauges track the controlled-port status per port.
//   - Frame counters track EAPOL volumes by packet type.
//   - State transition counters record every FSM change for alerting
//     (e.g. AUTHENTICATED->HELD spikes).
//   - RADIUS counters flag a dead or slow AAA server.
type Collector struct {
	// Authorized is 1 while a port's controlled port forwards.
	Authorized *prometheus.GaugeVec

	// FramesRx and FramesTx count EAPOL frames by packet type.
	FramesRx *prometheus.CounterVec
	FramesTx *prometheus.CounterVec

	// FramesDropped counts invalid, truncated and misrouted input.
	FramesDropped *prometheus.CounterVec

	// StateTransitions counts FSM state changes, labeled with the
	// machine and both states for precise alerting.
	StateTransitions *prometheus.CounterVec

	// RadiusRequests and RadiusRetransmits count AAA activity.
	RadiusRequests    *prometheus.CounterVec
	RadiusRetransmits *prometheus.CounterVec

	// AuthResults counts completed authentication attempts by outcome.
	AuthResults *prometheus.CounterVec
}

// NewCollector creates a Collector with all 802.1X metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics carry the "godot1x_port_" prefix (namespace_subsystem) to
// avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Authorized,
		c.FramesRx,
		c.FramesTx,
		c.FramesDropped,
		c.StateTransitions,
		c.RadiusRequests,
		c.RadiusRetransmits,
		c.AuthResults,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering
// them.
func newMetrics() *Collector {
	return &Collector{
		Authorized: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "authorized",
			Help:      "Controlled-port status: 1 Authorized, 0 Unauthorized.",
		}, []string{labelPort}),

		FramesRx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "eapol_frames_rx_total",
			Help:      "EAPOL frames received, by packet type.",
		}, []string{labelPort, labelType}),

		FramesTx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "eapol_frames_tx_total",
			Help:      "EAPOL frames transmitted, by packet type.",
		}, []string{labelPort, labelType}),

		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_dropped_total",
			Help:      "Frames and RADIUS replies discarded, by reason.",
		}, []string{labelPort, labelReason}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "FSM state transitions, by machine and states.",
		}, []string{labelPort, labelMachine, labelFromState, labelToState}),

		RadiusRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "radius_requests_total",
			Help:      "RADIUS Access-Requests transmitted (fresh, not retransmits).",
		}, []string{labelPort}),

		RadiusRetransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "radius_retransmits_total",
			Help:      "RADIUS Access-Request retransmissions.",
		}, []string{labelPort}),

		AuthResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_results_total",
			Help:      "Completed authentication attempts, by outcome.",
		}, []string{labelPort, labelOutcome}),
	}
}

// -------------------------------------------------------------------------
// MetricsReporter implementation
// -------------------------------------------------------------------------

// portLabel formats a port index for the port label.
func portLabel(port int) string { return strconv.Itoa(port) }

// StateTransition implements dot1x.MetricsReporter.
func (c *Collector) StateTransition(port int, machine, from, to string) {
	c.StateTransitions.WithLabelValues(portLabel(port), machine, from, to).Inc()
}

// PortStatus implements dot1x.MetricsReporter.
func (c *Collector) PortStatus(port int, authorized bool) {
	v := 0.0
	if authorized {
		v = 1.0
	}
	c.Authorized.WithLabelValues(portLabel(port)).Set(v)
}

// FrameRx implements dot1x.MetricsReporter.
func (c *Collector) FrameRx(port int, packetType string) {
	c.FramesRx.WithLabelValues(portLabel(port), packetType).Inc()
}

// FrameTx implements dot1x.MetricsReporter.
func (c *Collector) FrameTx(port int, packetType string) {
	c.FramesTx.WithLabelValues(portLabel(port), packetType).Inc()
}

// FrameDropped implements dot1x.MetricsReporter.
func (c *Collector) FrameDropped(port int, reason string) {
	c.FramesDropped.WithLabelValues(portLabel(port), reason).Inc()
}

// RadiusRequest implements dot1x.MetricsReporter.
func (c *Collector) RadiusRequest(port int) {
	c.RadiusRequests.WithLabelValues(portLabel(port)).Inc()
}

// RadiusRetransmit implements dot1x.MetricsReporter.
func (c *Collector) RadiusRetransmit(port int) {
	c.RadiusRetransmits.WithLabelValues(portLabel(port)).Inc()
}

// AuthResult implements dot1x.MetricsReporter.
func (c *Collector) AuthResult(port int, outcome string) {
	c.AuthResults.WithLabelValues(portLabel(port), outcome).Inc()
}
