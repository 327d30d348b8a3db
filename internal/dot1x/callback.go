package dot1x

import "time"

// Machine names used in state-change notifications and metrics labels.
const (
	machinePAE     = "pae"
	machineBackend = "backend"
	machineReauth  = "reauth-timer"
	machineEapAuth = "eap-auth"
	machineEapPeer = "eap-peer"
	machineSupPAE  = "supplicant-pae"
	machineSupBack = "supplicant-backend"
)

// StateChange is emitted whenever one of a port's machines transitions.
//
// Consumers read the context's StateChanges channel and dispatch to
// registered callbacks; long-running work belongs in the consumer, not
// in the channel reader, so the engine never blocks on an observer.
type StateChange struct {
	// Port is the 1-based port index.
	Port int

	// Machine names the machine that transitioned (pae, backend,
	// reauth-timer, eap-auth, eap-peer, supplicant-pae,
	// supplicant-backend).
	Machine string

	// OldState and NewState are the machine's state names.
	OldState string
	NewState string

	// Authorized is the controlled-port status after the transition.
	Authorized bool

	// Timestamp is when the transition was recorded.
	Timestamp time.Time
}

// MetricsReporter receives engine events for the metrics layer. The
// Prometheus implementation lives in internal/metrics; a no-op reporter
// is used when none is wired.
type MetricsReporter interface {
	// StateTransition records a machine state change.
	StateTransition(port int, machine, from, to string)

	// PortStatus records the controlled-port status.
	PortStatus(port int, authorized bool)

	// FrameRx and FrameTx record EAPOL frames by packet type.
	FrameRx(port int, packetType string)
	FrameTx(port int, packetType string)

	// FrameDropped records an invalid or length-errored frame.
	FrameDropped(port int, reason string)

	// RadiusRequest and RadiusRetransmit record AAA activity.
	RadiusRequest(port int)
	RadiusRetransmit(port int)

	// AuthResult records a completed authentication attempt.
	AuthResult(port int, outcome string)
}

// noopMetrics discards every event.
type noopMetrics struct{}

func (noopMetrics) StateTransition(int, string, string, string) {}
func (noopMetrics) PortStatus(int, bool)                        {}
func (noopMetrics) FrameRx(int, string)                         {}
func (noopMetrics) FrameTx(int, string)                         {}
func (noopMetrics) FrameDropped(int, string)                    {}
func (noopMetrics) RadiusRequest(int)                           {}
func (noopMetrics) RadiusRetransmit(int)                        {}
func (noopMetrics) AuthResult(int, string)                      {}

// SwitchDriver gates the physical forwarding state of a controlled
// port. The OVS implementation lives in internal/ovs; nil disables
// hardware gating.
type SwitchDriver interface {
	// SetPortState moves the port to Forwarding (true) or Blocking.
	SetPortState(port int, forwarding bool) error
}
