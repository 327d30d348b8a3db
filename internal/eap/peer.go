package eap

import (
	"fmt"
	"log/slog"
)

// -------------------------------------------------------------------------
// Peer States — RFC 4137 Section 4.1
// -------------------------------------------------------------------------

// PeerState is a state of the EAP peer machine (RFC 4137 Section 4.5).
type PeerState uint8

const (
	// PeerStateDisabled is held while the port is disabled.
	PeerStateDisabled PeerState = iota

	// PeerStateInitialize resets the machine for a fresh conversation.
	PeerStateInitialize

	// PeerStateIdle waits for a Request from the authenticator.
	PeerStateIdle

	// PeerStateReceived classifies an incoming EAP packet.
	PeerStateReceived

	// PeerStateGetMethod selects a method for a new Request type.
	PeerStateGetMethod

	// PeerStateMethod runs the selected method on a Request.
	PeerStateMethod

	// PeerStateIdentity answers an Identity Request.
	PeerStateIdentity

	// PeerStateNotification answers a Notification Request.
	PeerStateNotification

	// PeerStateRetransmit re-sends the previous Response for a
	// duplicate identifier.
	PeerStateRetransmit

	// PeerStateDiscard drops the current packet.
	PeerStateDiscard

	// PeerStateSendResponse hands the built Response to the lower layer.
	PeerStateSendResponse

	// PeerStateSuccess terminates the conversation successfully.
	PeerStateSuccess

	// PeerStateFailure terminates the conversation unsuccessfully.
	PeerStateFailure
)

// peerStateNames maps peer states to human-readable strings.
var peerStateNames = [13]string{
	"DISABLED", "INITIALIZE", "IDLE", "RECEIVED", "GET_METHOD", "METHOD",
	"IDENTITY", "NOTIFICATION", "RETRANSMIT", "DISCARD", "SEND_RESPONSE",
	"SUCCESS", "FAILURE",
}

// String returns the human-readable name for the peer state.
func (s PeerState) String() string {
	if int(s) < len(peerStateNames) {
		return peerStateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// -------------------------------------------------------------------------
// Peer Configuration
// -------------------------------------------------------------------------

// defaultClientTimeout is the idleWhile reload value in seconds
// (RFC 4137 Section 4.1: ClientTimeout, default 60).
const defaultClientTimeout = 60

// PeerConfig carries the per-port peer parameters.
type PeerConfig struct {
	// Identity is the identity sent in Identity Responses.
	Identity string

	// Methods lists the methods the peer is willing to run, in
	// preference order. Also used as the Nak payload.
	Methods []PeerMethod

	// ClientTimeout is the idleWhile reload value in seconds. Zero
	// selects the RFC 4137 default of 60.
	ClientTimeout uint32

	// AllowCanned accepts an unsolicited EAP Success or Failure when no
	// conversation is in progress (lastId is NONE). Required to
	// interoperate with force-authorized authenticators that emit a
	// canned Success without any prior exchange.
	AllowCanned bool
}

// -------------------------------------------------------------------------
// Peer — RFC 4137 Section 4
// -------------------------------------------------------------------------

// Peer is the EAP peer state machine (RFC 4137 Section 4). The exported
// boolean fields are the standard variables shared with the lower layer
// (802.1X supplicant backend); every reader of a signal also clears it,
// exactly as the standard prescribes.
//
// The machine is advanced by Step, which performs at most one transition
// per call; the composite runner keeps calling it while any machine in
// the port reports activity.
type Peer struct {
	// --- Lower layer to peer (RFC 4137 Section 4.1.1) ---

	// EapReq signals that EapReqData holds a new EAP packet.
	EapReq bool

	// EapReqData is the EAP packet delivered by the lower layer.
	EapReqData []byte

	// PortEnabled reflects the lower layer's link state.
	PortEnabled bool

	// IdleWhile is the peer timeout timer in seconds, decremented by the
	// port tick (saturating at zero).
	IdleWhile uint32

	// EapRestart requests a restart of the conversation.
	EapRestart bool

	// AltAccept and AltReject are the alternate indications of
	// RFC 3748 Section 7.12 delivered by the lower layer.
	AltAccept bool
	AltReject bool

	// --- Peer to lower layer (RFC 4137 Section 4.1.2) ---

	// EapResp signals that EapRespData holds a Response to transmit.
	EapResp bool

	// EapRespData is the Response built by the peer.
	EapRespData []byte

	// EapSuccess and EapFail report the conversation outcome.
	EapSuccess bool
	EapFail    bool

	// EapNoResp signals that the packet was discarded with no Response.
	EapNoResp bool

	// EapKeyData and EapKeyAvailable export method keying material.
	EapKeyData      []byte
	EapKeyAvailable bool

	// --- Internal variables (RFC 4137 Section 4.1.3) ---

	state          PeerState
	selectedMethod MethodType
	method         PeerMethod
	methodState    MethodState
	decision       Decision
	lastID         int
	lastRespData   []byte
	allowNotify    bool
	ignore         bool

	// Parse results of the current packet.
	rxReq     bool
	rxSuccess bool
	rxFailure bool
	reqID     uint8
	reqMethod MethodType

	cfg      PeerConfig
	timeout  uint32
	logger   *slog.Logger
	observer func(old, next PeerState)
}

// NewPeer creates an EAP peer machine. The machine starts DISABLED and
// enters INITIALIZE once PortEnabled is set and Step runs.
func NewPeer(cfg PeerConfig, logger *slog.Logger) *Peer {
	timeout := cfg.ClientTimeout
	if timeout == 0 {
		timeout = defaultClientTimeout
	}
	return &Peer{
		state:   PeerStateDisabled,
		lastID:  NoID,
		cfg:     cfg,
		timeout: timeout,
		logger:  logger.With(slog.String("machine", "eap-peer")),
	}
}

// State returns the current peer state.
func (p *Peer) State() PeerState { return p.state }

// SetObserver registers a state-transition callback invoked from within
// Step after every changeState.
func (p *Peer) SetObserver(fn func(old, next PeerState)) { p.observer = fn }

// Tick decrements the peer timer by one second, saturating at zero.
func (p *Peer) Tick() {
	if p.IdleWhile > 0 {
		p.IdleWhile--
	}
}

// Step evaluates the transition conditions for the current state and, if
// one holds, executes the entry actions of the target state. It returns
// true when a transition fired (IEEE 802.1X Section 8.2.1: the composite
// machine is evaluated until no machine has anything left to do).
func (p *Peer) Step() bool {
	// Global transitions (RFC 4137 Section 4.5).
	if !p.PortEnabled && p.state != PeerStateDisabled {
		p.changeState(PeerStateDisabled)
		return true
	}
	if p.EapRestart && p.PortEnabled && p.state != PeerStateInitialize {
		p.changeState(PeerStateInitialize)
		return true
	}

	switch p.state {
	case PeerStateDisabled:
		if p.PortEnabled {
			p.changeState(PeerStateInitialize)
			return true
		}

	case PeerStateInitialize:
		p.changeState(PeerStateIdle)
		return true

	case PeerStateIdle:
		switch {
		case p.EapReq:
			p.changeState(PeerStateReceived)
			return true
		case (p.AltAccept && p.decision != DecisionFail) ||
			(p.IdleWhile == 0 && p.decision == DecisionUncondSucc):
			p.changeState(PeerStateSuccess)
			return true
		case (p.AltReject && p.decision != DecisionUncondSucc) ||
			(p.IdleWhile == 0 && p.decision == DecisionFail) ||
			(p.AltAccept && p.methodState != MethodStateCont && p.decision == DecisionFail):
			p.changeState(PeerStateFailure)
			return true
		}

	case PeerStateReceived:
		return p.stepReceived()

	case PeerStateGetMethod:
		if p.selectedMethod == p.reqMethod {
			p.changeState(PeerStateMethod)
		} else {
			p.changeState(PeerStateSendResponse)
		}
		return true

	case PeerStateMethod:
		switch {
		case p.ignore:
			p.changeState(PeerStateDiscard)
		case p.methodState == MethodStateDone && p.decision == DecisionFail:
			p.changeState(PeerStateFailure)
		default:
			p.changeState(PeerStateSendResponse)
		}
		return true

	case PeerStateIdentity, PeerStateNotification, PeerStateRetransmit:
		p.changeState(PeerStateSendResponse)
		return true

	case PeerStateDiscard:
		p.changeState(PeerStateIdle)
		return true

	case PeerStateSendResponse:
		p.changeState(PeerStateIdle)
		return true

	case PeerStateSuccess, PeerStateFailure:
		// Terminal until eapRestart or a port toggle.
	}

	return false
}

// stepReceived implements the RECEIVED branch conditions
// (RFC 4137 Section 4.5).
func (p *Peer) stepReceived() bool {
	switch {
	case p.rxReq && int(p.reqID) != p.lastID && p.reqMethod == p.selectedMethod &&
		p.methodState != MethodStateDone:
		p.changeState(PeerStateMethod)

	case p.rxReq && int(p.reqID) != p.lastID && p.selectedMethod == MethodNone &&
		p.reqMethod != MethodIdentity && p.reqMethod != MethodNotification:
		p.changeState(PeerStateGetMethod)

	case p.rxReq && int(p.reqID) != p.lastID && p.reqMethod == MethodIdentity &&
		p.selectedMethod == MethodNone:
		p.changeState(PeerStateIdentity)

	case p.rxReq && int(p.reqID) != p.lastID && p.reqMethod == MethodNotification &&
		p.allowNotify:
		p.changeState(PeerStateNotification)

	case p.rxReq && int(p.reqID) == p.lastID:
		p.changeState(PeerStateRetransmit)

	case p.rxSuccess && int(p.reqID) == p.lastID && p.decision != DecisionFail:
		p.changeState(PeerStateSuccess)

	case p.rxSuccess && p.lastID == NoID && p.cfg.AllowCanned:
		// Unsolicited canned Success from a force-authorized
		// authenticator: accepted only when no conversation exists.
		p.changeState(PeerStateSuccess)

	case p.rxFailure && p.lastID == NoID && p.cfg.AllowCanned:
		p.changeState(PeerStateFailure)

	case p.methodState != MethodStateCont &&
		((p.rxFailure && p.decision != DecisionUncondSucc) ||
			(p.rxSuccess && p.decision == DecisionFail)) &&
		int(p.reqID) == p.lastID:
		p.changeState(PeerStateFailure)

	default:
		p.changeState(PeerStateDiscard)
	}
	return true
}

// changeState executes the entry actions of the target state
// (RFC 4137 Section 4.5 state blocks).
func (p *Peer) changeState(next PeerState) {
	old := p.state
	p.state = next

	switch next {
	case PeerStateDisabled:
		// No entry actions.

	case PeerStateInitialize:
		p.selectedMethod = MethodNone
		p.method = nil
		p.methodState = MethodStateNone
		p.allowNotify = true
		p.decision = DecisionFail
		p.IdleWhile = p.timeout
		p.lastID = NoID
		p.lastRespData = nil
		p.EapSuccess = false
		p.EapFail = false
		p.EapKeyData = nil
		p.EapKeyAvailable = false
		p.EapRestart = false
		p.AltAccept = false
		p.AltReject = false

	case PeerStateIdle:
		// No entry actions; exits are timer and signal driven.

	case PeerStateReceived:
		p.parseEapReq()

	case PeerStateGetMethod:
		if m := p.lookupMethod(p.reqMethod); m != nil {
			p.selectedMethod = p.reqMethod
			p.method = m
			m.Init()
			p.methodState = MethodStateInit
		} else {
			p.EapRespData = BuildNak(p.reqID, p.allowedTypes())
		}

	case PeerStateMethod:
		data := currentTypeData(p.EapReqData)
		p.ignore = p.method == nil || !p.method.Check(data)
		if !p.ignore {
			p.method.Process(data)
			p.methodState = p.method.State()
			p.decision = p.method.Decision()
			p.EapRespData = p.method.BuildResp(p.reqID)
			if k := p.method.Key(); k != nil {
				p.EapKeyData = k
			}
		}

	case PeerStateIdentity:
		p.EapRespData = Build(CodeResponse, p.reqID, MethodIdentity, []byte(p.cfg.Identity))

	case PeerStateNotification:
		// The notification payload is displayable only; answer with an
		// empty Notification Response (RFC 3748 Section 5.2).
		p.EapRespData = Build(CodeResponse, p.reqID, MethodNotification, nil)

	case PeerStateRetransmit:
		p.EapRespData = p.lastRespData

	case PeerStateDiscard:
		p.EapReq = false
		p.EapNoResp = true

	case PeerStateSendResponse:
		p.lastID = int(p.reqID)
		p.lastRespData = p.EapRespData
		p.EapReq = false
		p.EapResp = true
		p.IdleWhile = p.timeout

	case PeerStateSuccess:
		if p.EapKeyData != nil {
			p.EapKeyAvailable = true
		}
		p.EapReq = false
		p.EapSuccess = true

	case PeerStateFailure:
		p.EapReq = false
		p.EapFail = true
	}

	if p.observer != nil && old != next {
		p.observer(old, next)
	}
}

// parseEapReq classifies the packet in EapReqData
// (RFC 4137 Section 4.4: parseEapReq). A malformed packet leaves every
// rx flag false, which routes to DISCARD.
func (p *Peer) parseEapReq() {
	p.rxReq = false
	p.rxSuccess = false
	p.rxFailure = false
	p.reqMethod = MethodNone

	h, err := Parse(p.EapReqData)
	if err != nil {
		return
	}
	p.reqID = h.Identifier

	switch h.Code {
	case CodeRequest:
		p.rxReq = true
		p.reqMethod = h.Type
	case CodeSuccess:
		p.rxSuccess = true
	case CodeFailure:
		p.rxFailure = true
	case CodeResponse:
		// A peer never processes Responses.
	}
}

// lookupMethod finds a configured method for the given type.
func (p *Peer) lookupMethod(t MethodType) PeerMethod {
	for _, m := range p.cfg.Methods {
		if m.Type() == t {
			return m
		}
	}
	return nil
}

// allowedTypes lists the configured method types for the Nak payload.
func (p *Peer) allowedTypes() []MethodType {
	types := make([]MethodType, 0, len(p.cfg.Methods))
	for _, m := range p.cfg.Methods {
		types = append(types, m.Type())
	}
	return types
}

// currentTypeData strips the EAP header and Type octet from a packet,
// returning the method Type-Data.
func currentTypeData(pkt []byte) []byte {
	h, err := Parse(pkt)
	if err != nil {
		return nil
	}
	return h.TypeData
}
