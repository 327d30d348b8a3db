package eap

import (
	"crypto/md5"
	"fmt"
)

// -------------------------------------------------------------------------
// Method State & Decision — RFC 4137 Section 4.2
// -------------------------------------------------------------------------

// MethodState is the methodState variable shared between the state
// machine and the method (RFC 4137 Section 4.2).
type MethodState uint8

const (
	// MethodStateNone means no method is in progress.
	MethodStateNone MethodState = iota

	// MethodStateInit means the method has just been selected.
	MethodStateInit

	// MethodStateCont means the method continues (more round trips).
	MethodStateCont

	// MethodStateMayCont means the method may continue; a Success or
	// Failure could also arrive now.
	MethodStateMayCont

	// MethodStateDone means the method has finished.
	MethodStateDone

	// MethodStateProposed is authenticator-only: a method has been
	// proposed but the peer has not yet accepted it (a Nak is legal).
	MethodStateProposed

	// MethodStateEnd is authenticator-only: the method has ended and the
	// policy has been updated.
	MethodStateEnd
)

// String returns the human-readable name for the method state.
func (s MethodState) String() string {
	switch s {
	case MethodStateNone:
		return "NONE"
	case MethodStateInit:
		return "INIT"
	case MethodStateCont:
		return "CONT"
	case MethodStateMayCont:
		return "MAY_CONT"
	case MethodStateDone:
		return "DONE"
	case MethodStateProposed:
		return "PROPOSED"
	case MethodStateEnd:
		return "END"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Decision is the peer decision variable (RFC 4137 Section 4.2).
type Decision uint8

const (
	// DecisionFail means the peer will not accept a Success now.
	DecisionFail Decision = iota

	// DecisionCondSucc means the peer accepts a Success if the server
	// sends one.
	DecisionCondSucc

	// DecisionUncondSucc means the method has succeeded unconditionally.
	DecisionUncondSucc
)

// String returns the human-readable name for the decision.
func (d Decision) String() string {
	switch d {
	case DecisionFail:
		return "FAIL"
	case DecisionCondSucc:
		return "COND_SUCC"
	case DecisionUncondSucc:
		return "UNCOND_SUCC"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(d))
	}
}

// -------------------------------------------------------------------------
// PeerMethod — RFC 4137 Section 4.4 method calls
// -------------------------------------------------------------------------

// PeerMethod is the interface between the peer state machine and an EAP
// method implementation (RFC 4137 Section 4.4: m.check, m.process,
// m.buildResp).
type PeerMethod interface {
	// Type returns the method type this implementation handles.
	Type() MethodType

	// Init resets the method to its initial state for a fresh selection.
	Init()

	// Check verifies the integrity of an incoming Request's Type-Data.
	// Returning false means the packet is ignored (RFC 4137: m.check).
	Check(typeData []byte) bool

	// Process consumes a Request's Type-Data and advances the method
	// (RFC 4137: m.process). It updates State and Decision.
	Process(typeData []byte)

	// BuildResp builds the complete EAP Response packet for the given
	// identifier (RFC 4137: m.buildResp). The peer machine hands it to
	// the lower layer unchanged; the EAPOL header is added there.
	BuildResp(id uint8) []byte

	// State returns the current methodState.
	State() MethodState

	// Decision returns the current method decision.
	Decision() Decision

	// Key returns keying material exported by the method, nil if none
	// (RFC 3748 Section 7.10).
	Key() []byte
}

// -------------------------------------------------------------------------
// Identity peer method — RFC 3748 Section 5.1
// -------------------------------------------------------------------------

// IdentityMethod answers EAP-Request/Identity with the configured
// identity string. Identity is always a single round trip; it never
// concludes the conversation by itself.
type IdentityMethod struct {
	// Identity is the configured user identity.
	Identity string

	// Prompt is the displayable message carried by the last Request
	// (RFC 3748 Section 5.1), retained for diagnostics.
	Prompt string
}

// Type implements PeerMethod.
func (m *IdentityMethod) Type() MethodType { return MethodIdentity }

// Init implements PeerMethod.
func (m *IdentityMethod) Init() { m.Prompt = "" }

// Check implements PeerMethod. Any Type-Data is acceptable; the payload
// is a displayable prompt.
func (m *IdentityMethod) Check(_ []byte) bool { return true }

// Process implements PeerMethod.
func (m *IdentityMethod) Process(typeData []byte) {
	m.Prompt = string(typeData)
}

// BuildResp implements PeerMethod.
func (m *IdentityMethod) BuildResp(id uint8) []byte {
	return Build(CodeResponse, id, MethodIdentity, []byte(m.Identity))
}

// State implements PeerMethod. Identity never finishes the conversation.
func (m *IdentityMethod) State() MethodState { return MethodStateCont }

// Decision implements PeerMethod.
func (m *IdentityMethod) Decision() Decision { return DecisionFail }

// Key implements PeerMethod.
func (m *IdentityMethod) Key() []byte { return nil }

// -------------------------------------------------------------------------
// MD5-Challenge peer method — RFC 3748 Section 5.4, RFC 1994 Section 4.1
// -------------------------------------------------------------------------

// md5ChallengeMinLen is the minimum Type-Data for MD5-Challenge:
// Value-Size (1) plus at least one challenge octet.
const md5ChallengeMinLen = 2

// MD5Method implements the peer side of MD5-Challenge. The response
// value is MD5(Identifier || secret || challenge), the CHAP algorithm
// of RFC 1994 Section 4.1 applied per RFC 3748 Section 5.4.
type MD5Method struct {
	// Secret is the shared password.
	Secret []byte

	challenge []byte
	state     MethodState
	decision  Decision
}

// Type implements PeerMethod.
func (m *MD5Method) Type() MethodType { return MethodMD5Challenge }

// Init implements PeerMethod.
func (m *MD5Method) Init() {
	m.challenge = nil
	m.state = MethodStateInit
	m.decision = DecisionFail
}

// Check implements PeerMethod. The Type-Data must carry a Value-Size
// octet and at least that many value octets.
func (m *MD5Method) Check(typeData []byte) bool {
	if len(typeData) < md5ChallengeMinLen {
		return false
	}
	valueSize := int(typeData[0])
	return valueSize >= 1 && len(typeData) >= 1+valueSize
}

// Process implements PeerMethod.
func (m *MD5Method) Process(typeData []byte) {
	valueSize := int(typeData[0])
	m.challenge = append(m.challenge[:0], typeData[1:1+valueSize]...)

	// One round trip: after answering the challenge the method is done
	// and a Success from the server is acceptable.
	m.state = MethodStateDone
	m.decision = DecisionCondSucc
}

// BuildResp implements PeerMethod.
func (m *MD5Method) BuildResp(id uint8) []byte {
	h := md5.New()
	h.Write([]byte{id})
	h.Write(m.Secret)
	h.Write(m.challenge)
	digest := h.Sum(nil)

	typeData := make([]byte, 0, 1+len(digest))
	typeData = append(typeData, uint8(len(digest)))
	typeData = append(typeData, digest...)
	return Build(CodeResponse, id, MethodMD5Challenge, typeData)
}

// State implements PeerMethod.
func (m *MD5Method) State() MethodState { return m.state }

// Decision implements PeerMethod.
func (m *MD5Method) Decision() Decision { return m.decision }

// Key implements PeerMethod. MD5-Challenge derives no keys
// (RFC 3748 Section 5.4).
func (m *MD5Method) Key() []byte { return nil }

// -------------------------------------------------------------------------
// Identity authenticator method — RFC 3748 Section 5.1
// -------------------------------------------------------------------------

// identityPrompt is the displayable message sent with the initial
// EAP-Request/Identity.
const identityPrompt = "User name:"

// identityReqTimeout is the method-provided retransmission timeout in
// seconds for the Identity request (RFC 4137: methodTimeout; the default
// for Identity is 5 s).
const identityReqTimeout = 5

// AuthIdentityMethod is the authenticator-side Identity method: it
// issues the initial Identity request and records the peer's identity.
// It is the only locally terminated method; everything after it is
// passed through to the AAA server.
type AuthIdentityMethod struct {
	// PeerIdentity is the identity string from the Response, stored
	// untruncated; the full authenticator bounds only its AAAIdentity
	// copy to the backend's identity limit.
	PeerIdentity string

	done bool
}

// Init resets the method.
func (m *AuthIdentityMethod) Init() {
	m.PeerIdentity = ""
	m.done = false
}

// Type returns the method type.
func (m *AuthIdentityMethod) Type() MethodType { return MethodIdentity }

// BuildReq builds the complete EAP-Request/Identity packet for the
// given identifier.
func (m *AuthIdentityMethod) BuildReq(id uint8) []byte {
	return Build(CodeRequest, id, MethodIdentity, []byte(identityPrompt))
}

// Check verifies an Identity Response. Any octet string is a legal
// identity (RFC 3748 Section 5.1).
func (m *AuthIdentityMethod) Check(_ []byte) bool { return true }

// Process consumes the Identity Response Type-Data.
func (m *AuthIdentityMethod) Process(typeData []byte) {
	m.PeerIdentity = string(typeData)
	m.done = true
}

// IsDone reports whether the method has completed.
func (m *AuthIdentityMethod) IsDone() bool { return m.done }

// Timeout returns the retransmission timeout in seconds for requests of
// this method.
func (m *AuthIdentityMethod) Timeout() uint32 { return identityReqTimeout }
