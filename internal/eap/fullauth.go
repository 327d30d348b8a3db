package eap

import (
	"fmt"
	"log/slog"
)

// -------------------------------------------------------------------------
// Full Authenticator States — RFC 4137 Sections 5–7
// -------------------------------------------------------------------------

// AuthState is a state of the EAP full authenticator machine
// (RFC 4137 Section 6.5, with the pass-through half of Section 7).
type AuthState uint8

const (
	// AuthStateDisabled is held while the port is disabled.
	AuthStateDisabled AuthState = iota

	// AuthStateInitialize resets the machine for a fresh conversation.
	AuthStateInitialize

	// AuthStateIdle waits for a Response, counting retransWhile down.
	AuthStateIdle

	// AuthStateRetransmit re-sends the last Request.
	AuthStateRetransmit

	// AuthStateReceived classifies an incoming EAP packet.
	AuthStateReceived

	// AuthStateNak processes a Nak of the proposed method.
	AuthStateNak

	// AuthStateSelectAction consults the policy between methods.
	AuthStateSelectAction

	// AuthStateIntegrityCheck verifies a Response with the method.
	AuthStateIntegrityCheck

	// AuthStateMethodResponse feeds a Response into the method.
	AuthStateMethodResponse

	// AuthStateProposeMethod selects the next method to offer.
	AuthStateProposeMethod

	// AuthStateMethodRequest builds the next Request from the method.
	AuthStateMethodRequest

	// AuthStateDiscard drops the current packet.
	AuthStateDiscard

	// AuthStateSendRequest hands the built Request to the lower layer.
	AuthStateSendRequest

	// AuthStateTimeoutFailure ends the conversation with no indication
	// to the peer (retransmission limit).
	AuthStateTimeoutFailure

	// AuthStateFailure ends the conversation with an EAP Failure.
	AuthStateFailure

	// AuthStateSuccess ends the conversation with an EAP Success.
	AuthStateSuccess

	// AuthStateInitializePassthrough starts the pass-through half.
	AuthStateInitializePassthrough

	// AuthStateIdle2 is IDLE in pass-through mode.
	AuthStateIdle2

	// AuthStateRetransmit2 is RETRANSMIT in pass-through mode.
	AuthStateRetransmit2

	// AuthStateReceived2 is RECEIVED in pass-through mode.
	AuthStateReceived2

	// AuthStateAAARequest forwards the peer's Response toward AAA.
	AuthStateAAARequest

	// AuthStateAAAIdle waits for the AAA server's verdict.
	AuthStateAAAIdle

	// AuthStateAAAResponse turns an AAA-supplied Request into the next
	// Request for the peer.
	AuthStateAAAResponse

	// AuthStateDiscard2 is DISCARD in pass-through mode.
	AuthStateDiscard2

	// AuthStateSendRequest2 is SEND_REQUEST in pass-through mode.
	AuthStateSendRequest2

	// AuthStateTimeoutFailure2 ends a pass-through conversation after
	// AAA timeout.
	AuthStateTimeoutFailure2

	// AuthStateFailure2 relays the AAA Failure to the peer.
	AuthStateFailure2

	// AuthStateSuccess2 relays the AAA Success to the peer.
	AuthStateSuccess2
)

// authStateNames maps authenticator states to human-readable strings.
var authStateNames = map[AuthState]string{
	AuthStateDisabled:              "DISABLED",
	AuthStateInitialize:            "INITIALIZE",
	AuthStateIdle:                  "IDLE",
	AuthStateRetransmit:            "RETRANSMIT",
	AuthStateReceived:              "RECEIVED",
	AuthStateNak:                   "NAK",
	AuthStateSelectAction:          "SELECT_ACTION",
	AuthStateIntegrityCheck:        "INTEGRITY_CHECK",
	AuthStateMethodResponse:        "METHOD_RESPONSE",
	AuthStateProposeMethod:         "PROPOSE_METHOD",
	AuthStateMethodRequest:         "METHOD_REQUEST",
	AuthStateDiscard:               "DISCARD",
	AuthStateSendRequest:           "SEND_REQUEST",
	AuthStateTimeoutFailure:        "TIMEOUT_FAILURE",
	AuthStateFailure:               "FAILURE",
	AuthStateSuccess:               "SUCCESS",
	AuthStateInitializePassthrough: "INITIALIZE_PASSTHROUGH",
	AuthStateIdle2:                 "IDLE2",
	AuthStateRetransmit2:           "RETRANSMIT2",
	AuthStateReceived2:             "RECEIVED2",
	AuthStateAAARequest:            "AAA_REQUEST",
	AuthStateAAAIdle:               "AAA_IDLE",
	AuthStateAAAResponse:           "AAA_RESPONSE",
	AuthStateDiscard2:              "DISCARD2",
	AuthStateSendRequest2:          "SEND_REQUEST2",
	AuthStateTimeoutFailure2:       "TIMEOUT_FAILURE2",
	AuthStateFailure2:              "FAILURE2",
	AuthStateSuccess2:              "SUCCESS2",
}

// String returns the human-readable name for the authenticator state.
func (s AuthState) String() string {
	if n, ok := authStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// Decision values returned by the policy (RFC 4137 Section 5.2:
// Policy.getDecision).
type policyDecision uint8

const (
	decisionContinue policyDecision = iota
	decisionPassthrough
)

// -------------------------------------------------------------------------
// Authenticator Configuration
// -------------------------------------------------------------------------

// defaultMethodTimeout is the retransmission timeout in seconds when the
// method provides none (RFC 4137 Section 5.1: methodTimeout NONE maps to
// a default; 5 s for the Identity exchange).
const defaultMethodTimeout = 5

// defaultMaxRetrans is the maximum Request retransmissions before
// TIMEOUT_FAILURE (RFC 3748 Section 4.3 suggests 3–5).
const defaultMaxRetrans = 4

// AuthConfig carries the per-port full-authenticator parameters.
type AuthConfig struct {
	// MaxRetrans is the Request retransmission limit. Zero selects the
	// default of 4.
	MaxRetrans int

	// IdentityLimit truncates the stored aaaIdentity, in bytes. Zero
	// selects the backend limit of 64.
	IdentityLimit int
}

// defaultIdentityLimit bounds the stored aaaIdentity copy.
const defaultIdentityLimit = 64

// -------------------------------------------------------------------------
// Authenticator — RFC 4137 Sections 5–7
// -------------------------------------------------------------------------

// Authenticator is the EAP full authenticator machine with the
// pass-through half. The local half runs exactly one method — Identity —
// after which the policy decides PASSTHROUGH and every subsequent packet
// is relayed between the peer and the AAA layer.
//
// The exported fields are the standard shared variables; the 802.1X
// backend machine and the AAA glue read and clear them.
type Authenticator struct {
	// --- Lower layer to authenticator (RFC 4137 Section 6.1.1) ---

	// EapResp signals that EapRespData holds a Response from the peer.
	EapResp bool

	// EapRespData is the Response delivered by the lower layer.
	EapRespData []byte

	// PortEnabled reflects the lower layer's link state.
	PortEnabled bool

	// RetransWhile is the retransmission timer in seconds, decremented
	// by the port tick.
	RetransWhile uint32

	// EapRestart requests a restart of the conversation.
	EapRestart bool

	// --- Authenticator to lower layer (RFC 4137 Section 6.1.2) ---

	// EapReq signals that EapReqData holds a Request to transmit.
	EapReq bool

	// EapReqData is the Request (or Success/Failure) to transmit.
	EapReqData []byte

	// EapNoReq signals the packet was discarded with no new Request.
	EapNoReq bool

	// EapSuccess, EapFail and EapTimeout report the outcome.
	EapSuccess bool
	EapFail    bool
	EapTimeout bool

	// EapKeyData and EapKeyAvailable export AAA keying material.
	EapKeyData      []byte
	EapKeyAvailable bool

	// --- Authenticator to/from the AAA layer (RFC 4137 Section 7.1) ---

	// AAAEapResp signals that AAAEapRespData must be forwarded to the
	// AAA server. Set on entry to AAA_IDLE; cleared by the glue once
	// the Access-Request is on the wire.
	AAAEapResp bool

	// AAAEapRespData is the peer's Response destined for AAA.
	AAAEapRespData []byte

	// AAAEapReq signals that AAAEapReqData holds a Request from AAA.
	AAAEapReq bool

	// AAAEapReqData is the EAP packet extracted from the AAA reply. On
	// SUCCESS2/FAILURE2 it carries the Accept/Reject-embedded Success
	// or Failure packet.
	AAAEapReqData []byte

	// AAAEapNoReq signals the AAA reply carried no usable EAP packet.
	AAAEapNoReq bool

	// AAASuccess and AAAFail carry the AAA verdict.
	AAASuccess bool
	AAAFail    bool

	// AAATimeout reports that the AAA layer gave up retransmitting.
	AAATimeout bool

	// AAAIdentity is the peer identity copied from the first
	// EAP-Response/Identity, truncated to the backend limit.
	AAAIdentity string

	// AAAEapKeyData is keying material from the AAA layer (MPPE keys).
	AAAEapKeyData []byte

	// AAAMethodTimeout is the AAA-provided retransmission hint in
	// seconds (Session-Timeout on a Challenge); zero means default.
	AAAMethodTimeout uint32

	// --- Internal variables (RFC 4137 Sections 6.1.3, 7.1.3) ---

	state         AuthState
	currentMethod MethodType
	currentID     int
	methodState   MethodState
	retransCount  int
	lastReqData   []byte
	methodTimeout uint32
	rxResp        bool
	respID        uint8
	respMethod    MethodType
	ignore        bool
	identityDone  bool

	identity *AuthIdentityMethod
	cfg      AuthConfig
	logger   *slog.Logger
	observer func(old, next AuthState)
}

// NewAuthenticator creates a full authenticator machine.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if cfg.MaxRetrans == 0 {
		cfg.MaxRetrans = defaultMaxRetrans
	}
	if cfg.IdentityLimit == 0 {
		cfg.IdentityLimit = defaultIdentityLimit
	}
	return &Authenticator{
		state:     AuthStateDisabled,
		currentID: NoID,
		identity:  &AuthIdentityMethod{},
		cfg:       cfg,
		logger:    logger.With(slog.String("machine", "eap-auth")),
	}
}

// State returns the current authenticator state.
func (a *Authenticator) State() AuthState { return a.state }

// CurrentID returns the identifier of the outstanding Request, or NoID.
func (a *Authenticator) CurrentID() int { return a.currentID }

// AdvanceID bumps the conversation identifier and returns it. Used by
// the PAE to emit canned Success/Failure packets with an identifier
// past the last delivered one.
func (a *Authenticator) AdvanceID() uint8 {
	a.currentID = NextID(a.currentID)
	return uint8(a.currentID)
}

// InPassthrough reports whether the pass-through half is active.
func (a *Authenticator) InPassthrough() bool {
	return a.state >= AuthStateInitializePassthrough
}

// SetObserver registers a state-transition callback.
func (a *Authenticator) SetObserver(fn func(old, next AuthState)) { a.observer = fn }

// Tick decrements the retransmission timer by one second, saturating at
// zero.
func (a *Authenticator) Tick() {
	if a.RetransWhile > 0 {
		a.RetransWhile--
	}
}

// Step evaluates the transition conditions for the current state and, if
// one holds, executes the entry actions of the target state, returning
// true. See Peer.Step for the composite-runner contract.
func (a *Authenticator) Step() bool {
	// Global transitions (RFC 4137 Section 6.5).
	if !a.PortEnabled && a.state != AuthStateDisabled {
		a.changeState(AuthStateDisabled)
		return true
	}
	if a.EapRestart && a.PortEnabled && a.state != AuthStateInitialize {
		a.changeState(AuthStateInitialize)
		return true
	}

	switch a.state {
	case AuthStateDisabled:
		if a.PortEnabled {
			a.changeState(AuthStateInitialize)
			return true
		}

	case AuthStateInitialize:
		a.changeState(AuthStateSelectAction)
		return true

	case AuthStateSelectAction:
		if a.identityDone {
			// Minimal policy: once Identity has completed, everything
			// is passed through to the AAA server.
			a.changeState(AuthStateInitializePassthrough)
		} else {
			a.changeState(AuthStateProposeMethod)
		}
		return true

	case AuthStateProposeMethod:
		a.changeState(AuthStateMethodRequest)
		return true

	case AuthStateMethodRequest:
		a.changeState(AuthStateSendRequest)
		return true

	case AuthStateSendRequest:
		a.changeState(AuthStateIdle)
		return true

	case AuthStateIdle:
		switch {
		case a.RetransWhile == 0:
			a.changeState(AuthStateRetransmit)
			return true
		case a.EapResp:
			a.changeState(AuthStateReceived)
			return true
		}

	case AuthStateRetransmit:
		if a.retransCount > a.cfg.MaxRetrans {
			a.changeState(AuthStateTimeoutFailure)
		} else {
			a.changeState(AuthStateIdle)
		}
		return true

	case AuthStateReceived:
		switch {
		case a.rxResp && int(a.respID) == a.currentID &&
			(a.respMethod == MethodNak || a.respMethod == MethodExpandedNak) &&
			a.methodState == MethodStateProposed:
			a.changeState(AuthStateNak)
		case a.rxResp && int(a.respID) == a.currentID && a.respMethod == a.currentMethod:
			a.changeState(AuthStateIntegrityCheck)
		default:
			a.changeState(AuthStateDiscard)
		}
		return true

	case AuthStateNak:
		a.changeState(AuthStateSelectAction)
		return true

	case AuthStateIntegrityCheck:
		if a.ignore {
			a.changeState(AuthStateDiscard)
		} else {
			a.changeState(AuthStateMethodResponse)
		}
		return true

	case AuthStateMethodResponse:
		if a.methodState == MethodStateEnd {
			a.changeState(AuthStateSelectAction)
		} else {
			a.changeState(AuthStateMethodRequest)
		}
		return true

	case AuthStateDiscard:
		a.changeState(AuthStateIdle)
		return true

	case AuthStateSuccess, AuthStateFailure, AuthStateTimeoutFailure:
		// Terminal until eapRestart or a port toggle.

	// --- Pass-through half (RFC 4137 Section 7.4) ---

	case AuthStateInitializePassthrough:
		if a.currentID != NoID {
			a.changeState(AuthStateAAARequest)
		} else {
			a.changeState(AuthStateAAAIdle)
		}
		return true

	case AuthStateIdle2:
		switch {
		case a.RetransWhile == 0:
			a.changeState(AuthStateRetransmit2)
			return true
		case a.EapResp:
			a.changeState(AuthStateReceived2)
			return true
		}

	case AuthStateRetransmit2:
		if a.retransCount > a.cfg.MaxRetrans {
			a.changeState(AuthStateTimeoutFailure2)
		} else {
			a.changeState(AuthStateIdle2)
		}
		return true

	case AuthStateReceived2:
		if a.rxResp && int(a.respID) == a.currentID {
			a.changeState(AuthStateAAARequest)
		} else {
			a.changeState(AuthStateDiscard2)
		}
		return true

	case AuthStateAAARequest:
		a.changeState(AuthStateAAAIdle)
		return true

	case AuthStateAAAIdle:
		switch {
		case a.AAAEapNoReq:
			a.changeState(AuthStateDiscard2)
			return true
		case a.AAAEapReq:
			a.changeState(AuthStateAAAResponse)
			return true
		case a.AAATimeout:
			a.changeState(AuthStateTimeoutFailure2)
			return true
		case a.AAAFail:
			a.changeState(AuthStateFailure2)
			return true
		case a.AAASuccess:
			a.changeState(AuthStateSuccess2)
			return true
		}

	case AuthStateAAAResponse:
		a.changeState(AuthStateSendRequest2)
		return true

	case AuthStateSendRequest2:
		a.changeState(AuthStateIdle2)
		return true

	case AuthStateDiscard2:
		a.changeState(AuthStateIdle2)
		return true

	case AuthStateSuccess2, AuthStateFailure2, AuthStateTimeoutFailure2:
		// Terminal until eapRestart or a port toggle.
	}

	return false
}

// changeState executes the entry actions of the target state
// (RFC 4137 Sections 6.5 and 7.4 state blocks).
func (a *Authenticator) changeState(next AuthState) {
	old := a.state
	a.state = next

	switch next {
	case AuthStateDisabled:
		// No entry actions.

	case AuthStateInitialize:
		a.currentID = NoID
		a.EapSuccess = false
		a.EapFail = false
		a.EapTimeout = false
		a.EapKeyData = nil
		a.EapKeyAvailable = false
		a.EapRestart = false
		a.identityDone = false
		a.methodState = MethodStateNone
		a.currentMethod = MethodNone
		a.AAAEapResp = false
		a.AAAEapReq = false
		a.AAAEapNoReq = false
		a.AAASuccess = false
		a.AAAFail = false
		a.AAATimeout = false
		a.AAAIdentity = ""

	case AuthStateSelectAction:
		// The decision is read directly in Step (minimal policy).

	case AuthStateProposeMethod:
		a.currentMethod = MethodIdentity
		a.identity.Init()
		// Identity starts CONT, not PROPOSED, so a Nak of it is not
		// accepted: RECEIVED routes such a Response to DISCARD.
		a.methodState = MethodStateCont

	case AuthStateMethodRequest:
		a.currentID = NextID(a.currentID)
		a.EapReqData = a.identity.BuildReq(uint8(a.currentID))
		a.methodTimeout = a.identity.Timeout()

	case AuthStateSendRequest, AuthStateSendRequest2:
		a.retransCount = 0
		a.lastReqData = a.EapReqData
		a.EapResp = false
		a.EapReq = true

	case AuthStateIdle, AuthStateIdle2:
		// retransWhile = calculateTimeout (RFC 4137 Section 5.1); the
		// method hint wins, else the default.
		if a.methodTimeout > 0 {
			a.RetransWhile = a.methodTimeout
		} else {
			a.RetransWhile = defaultMethodTimeout
		}

	case AuthStateRetransmit, AuthStateRetransmit2:
		a.retransCount++
		if a.retransCount <= a.cfg.MaxRetrans {
			// Retransmission reuses the identifier (RFC 3748
			// Section 4.1): restore the exact previous Request.
			a.EapReqData = a.lastReqData
			a.EapReq = true
		}

	case AuthStateReceived, AuthStateReceived2:
		a.parseEapResp()

	case AuthStateNak:
		a.identity.Init()
		// The minimal policy has nothing else to offer; SELECT_ACTION
		// will route to pass-through only after Identity, so NAK leads
		// back to proposing Identity. Only a PROPOSED method reaches
		// this state, and the Identity proposal never sets PROPOSED.
		a.identityDone = false

	case AuthStateIntegrityCheck:
		a.ignore = !a.identity.Check(currentTypeData(a.EapRespData))

	case AuthStateMethodResponse:
		a.identity.Process(currentTypeData(a.EapRespData))
		if a.identity.IsDone() {
			a.identityDone = true
			a.methodState = MethodStateEnd
		} else {
			a.methodState = MethodStateCont
		}

	case AuthStateDiscard, AuthStateDiscard2:
		a.EapResp = false
		a.EapNoReq = true

	case AuthStateSuccess:
		a.currentID = NextID(a.currentID)
		a.EapReqData = BuildSuccess(uint8(a.currentID))
		a.EapSuccess = true

	case AuthStateFailure:
		a.currentID = NextID(a.currentID)
		a.EapReqData = BuildFailure(uint8(a.currentID))
		a.EapFail = true

	case AuthStateTimeoutFailure, AuthStateTimeoutFailure2:
		a.EapTimeout = true

	case AuthStateInitializePassthrough:
		a.AAAEapRespData = nil

	case AuthStateAAARequest:
		if a.respMethod == MethodIdentity {
			a.AAAIdentity = truncateIdentity(currentTypeData(a.EapRespData), a.cfg.IdentityLimit)
		}
		a.AAAEapRespData = a.EapRespData

	case AuthStateAAAIdle:
		a.AAAFail = false
		a.AAASuccess = false
		a.AAAEapReq = false
		a.AAAEapNoReq = false
		a.AAAEapResp = true

	case AuthStateAAAResponse:
		// The Request identifier is the one AAA chose, not a locally
		// advanced one (RFC 4137 Section 7.4: AAA_RESPONSE).
		a.EapReqData = a.AAAEapReqData
		if h, err := Parse(a.EapReqData); err == nil {
			a.currentID = int(h.Identifier)
		}
		a.methodTimeout = a.AAAMethodTimeout

	case AuthStateSuccess2:
		// Deliver the Accept-embedded EAP Success to the peer. Some
		// servers omit the EAP-Message from the Accept (RFC 3579
		// Section 2.6.2); synthesize a canned Success then.
		if a.AAAEapReqData != nil {
			a.EapReqData = a.AAAEapReqData
		} else {
			a.currentID = NextID(a.currentID)
			a.EapReqData = BuildSuccess(uint8(a.currentID))
		}
		if a.AAAEapKeyData != nil {
			a.EapKeyData = a.AAAEapKeyData
			a.EapKeyAvailable = true
		}
		a.EapSuccess = true

	case AuthStateFailure2:
		// Deliver the Reject-embedded EAP Failure to the peer.
		if a.AAAEapReqData != nil {
			a.EapReqData = a.AAAEapReqData
		} else {
			a.currentID = NextID(a.currentID)
			a.EapReqData = BuildFailure(uint8(a.currentID))
		}
		a.EapFail = true
	}

	if a.observer != nil && old != next {
		a.observer(old, next)
	}
}

// parseEapResp classifies the packet in EapRespData
// (RFC 4137 Section 5.1: parseEapResp).
func (a *Authenticator) parseEapResp() {
	a.rxResp = false
	a.respMethod = MethodNone

	h, err := Parse(a.EapRespData)
	if err != nil {
		return
	}
	if h.Code != CodeResponse {
		return
	}
	a.rxResp = true
	a.respID = h.Identifier
	a.respMethod = h.Type
}

// truncateIdentity bounds the stored identity to the backend limit.
func truncateIdentity(b []byte, limit int) string {
	if len(b) > limit {
		b = b[:limit]
	}
	return string(b)
}
