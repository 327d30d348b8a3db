package dot1x

import (
	"fmt"

	"github.com/dantte-lp/godot1x/internal/eap"
)

// -------------------------------------------------------------------------
// Port Parameters — IEEE Std 802.1X-2004 Section 9.4
// -------------------------------------------------------------------------

// PortControl is the administrative controlled-port control
// (IEEE Std 802.1X-2004 Section 6.4: AuthControlledPortControl).
type PortControl uint8

const (
	// ControlAuto lets the authentication outcome gate the port.
	ControlAuto PortControl = iota

	// ControlForceUnauthorized holds the port Unauthorized.
	ControlForceUnauthorized

	// ControlForceAuthorized holds the port Authorized.
	ControlForceAuthorized
)

// String returns the human-readable name for the port control.
func (c PortControl) String() string {
	switch c {
	case ControlAuto:
		return "Auto"
	case ControlForceUnauthorized:
		return "ForceUnauthorized"
	case ControlForceAuthorized:
		return "ForceAuthorized"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// PortStatus is the controlled-port forwarding status
// (IEEE Std 802.1X-2004 Section 6.4).
type PortStatus uint8

const (
	// StatusUnauthorized blocks user traffic on the controlled port.
	StatusUnauthorized PortStatus = iota

	// StatusAuthorized forwards user traffic on the controlled port.
	StatusAuthorized
)

// String returns the human-readable name for the port status.
func (s PortStatus) String() string {
	if s == StatusAuthorized {
		return "Authorized"
	}
	return "Unauthorized"
}

// TerminateCause records why the current session ended
// (IEEE Std 802.1X-2004 Section 9.4.4: dot1xAuthSessionTerminateCause).
type TerminateCause uint8

const (
	// CauseNotTerminatedYet means the session is still in progress.
	CauseNotTerminatedYet TerminateCause = iota

	// CauseSupplicantLogoff means an EAPOL-Logoff ended the session.
	CauseSupplicantLogoff

	// CausePortFailure means the port link failed.
	CausePortFailure

	// CauseSupplicantRestart means the supplicant restarted (EAPOL-Start).
	CauseSupplicantRestart

	// CauseReauthFailed means a reauthentication attempt failed.
	CauseReauthFailed

	// CauseAuthControlForceUnauth means the port was forced Unauthorized.
	CauseAuthControlForceUnauth

	// CausePortReInit means the port was reinitialized by management.
	CausePortReInit

	// CausePortAdminDisabled means the port was administratively disabled.
	CausePortAdminDisabled
)

// terminateCauseNames maps terminate causes to human-readable strings.
var terminateCauseNames = [8]string{
	"NotTerminatedYet", "SupplicantLogoff", "PortFailure",
	"SupplicantRestart", "ReauthFailed", "AuthControlForceUnauth",
	"PortReInit", "PortAdminDisabled",
}

// String returns the human-readable name for the terminate cause.
func (t TerminateCause) String() string {
	if int(t) < len(terminateCauseNames) {
		return terminateCauseNames[t]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// Defaults and ranges for the managed port parameters
// (IEEE Std 802.1X-2004 Section 9.4.1, Section 8.2.1.1).
const (
	// DefaultQuietPeriod is the HELD state hold-off in seconds.
	DefaultQuietPeriod = 60

	// MaxQuietPeriod bounds quietPeriod.
	MaxQuietPeriod = 65535

	// DefaultReAuthMax is the CONNECTING reentry limit.
	DefaultReAuthMax = 2

	// DefaultReAuthPeriod is the reauthentication interval in seconds.
	DefaultReAuthPeriod = 3600

	// MinReAuthPeriod and MaxReAuthPeriod bound reAuthPeriod.
	MinReAuthPeriod = 10
	MaxReAuthPeriod = 86400

	// DefaultServerTimeout is the backend aWhile reload in seconds.
	DefaultServerTimeout = 30

	// MinServerTimeout and MaxServerTimeout bound serverTimeout.
	MinServerTimeout = 1
	MaxServerTimeout = 3600

	// DefaultMaxRetrans is the EAP Request retransmission limit.
	DefaultMaxRetrans = 4
)

// PortParams are the externally managed per-port parameters.
type PortParams struct {
	// PortControl selects Auto or a forced port status.
	PortControl PortControl

	// QuietPeriod is the HELD hold-off in seconds (default 60, ≤ 65535).
	QuietPeriod uint32

	// ReAuthMax bounds CONNECTING reentries before DISCONNECTED
	// (default 2).
	ReAuthMax int

	// ReAuthPeriod is the reauthentication interval in seconds
	// (10..86400, default 3600).
	ReAuthPeriod uint32

	// ReAuthEnabled enables the reauthentication timer machine.
	ReAuthEnabled bool

	// ServerTimeout is the backend aWhile reload in seconds
	// (1..3600, default 30).
	ServerTimeout uint32

	// MaxRetrans is the EAP Request retransmission limit (default 4).
	MaxRetrans int

	// KeyTxEnabled enables key transmission. The key machine is out of
	// scope; the flag is carried for the management surface.
	KeyTxEnabled bool
}

// DefaultPortParams returns the Section 9.4.1 defaults.
func DefaultPortParams() PortParams {
	return PortParams{
		PortControl:   ControlAuto,
		QuietPeriod:   DefaultQuietPeriod,
		ReAuthMax:     DefaultReAuthMax,
		ReAuthPeriod:  DefaultReAuthPeriod,
		ReAuthEnabled: false,
		ServerTimeout: DefaultServerTimeout,
		MaxRetrans:    DefaultMaxRetrans,
	}
}

// -------------------------------------------------------------------------
// Port Counters — IEEE Std 802.1X-2004 Section 9.4.2, Section 9.4.4
// -------------------------------------------------------------------------

// PortCounters aggregates the per-port statistics exposed by the
// management surface and the Prometheus collector.
type PortCounters struct {
	EapolFramesRx          uint64
	EapolFramesTx          uint64
	EapolStartFramesRx     uint64
	EapolLogoffFramesRx    uint64
	EapolRespIDFramesRx    uint64
	EapolRespFramesRx      uint64
	EapolReqIDFramesTx     uint64
	EapolReqFramesTx       uint64
	InvalidEapolFramesRx   uint64
	EapLengthErrorFramesRx uint64
	LastEapolFrameVersion  uint8

	SessionOctetsRx uint64
	SessionOctetsTx uint64
	SessionFramesRx uint64
	SessionFramesTx uint64
	SessionTime     uint64
	TerminateCause  TerminateCause
}

// -------------------------------------------------------------------------
// Port — per-port state aggregate
// -------------------------------------------------------------------------

// maxServerStateLen bounds the opaque RADIUS State attribute copy
// (RFC 2865 Section 5.24: the value is opaque to the client).
const maxServerStateLen = 64

// Port aggregates every per-port variable of the authenticator role:
// the 802.1X timers and inter-machine signals, the three 802.1X
// machines' states, the EAP full authenticator, and the AAA working
// set. All access happens under the owning context's lock.
type Port struct {
	// Index is the 1-based port index.
	Index int

	// SourceMAC is the per-port EAPOL source address (PortSourceAddr).
	SourceMAC MACAddr

	// SupplicantMAC is the source address of the last EAPOL frame
	// received, used as Calling-Station-Id.
	SupplicantMAC MACAddr

	// --- Timers (Section 8.2.2.1; decremented by the tick, saturating) ---

	// AWhile is the backend machine timer.
	AWhile uint32

	// QuietWhile is the PAE HELD timer.
	QuietWhile uint32

	// ReAuthWhen is the reauthentication timer.
	ReAuthWhen uint32

	// AAARetransTimer drives RADIUS Access-Request retransmission.
	AAARetransTimer uint32

	// --- Inter-machine signals (Section 8.2.2.2) ---

	Initialize     bool
	PortEnabled    bool
	PortValid      bool
	ReAuthenticate bool
	EapolStart     bool
	EapolLogoff    bool
	EapolEap       bool
	AuthStart      bool
	AuthAbort      bool
	AuthSuccess    bool
	AuthFail       bool
	AuthTimeout    bool
	KeyRun         bool
	KeyDone        bool

	// --- Machine states ---

	PaeState     PaeState
	BackendState BackendState
	ReauthState  ReauthState

	// Eap is the EAP full authenticator machine for this port; its
	// exported fields are the eapReq/eapResp/aaa* signal set.
	Eap *eap.Authenticator

	// --- Status ---

	// AuthPortStatus is the controlled-port status.
	AuthPortStatus PortStatus

	// PortMode tracks which control the machines currently implement.
	PortMode PortControl

	// ReAuthCount counts CONNECTING reentries.
	ReAuthCount int

	// --- Parameters ---

	Params PortParams

	// --- AAA working set ---

	// AAAReqID is the RADIUS identifier of the outstanding request.
	AAAReqID uint8

	// AAAReqData is the complete encoded Access-Request, kept verbatim
	// for retransmission (same authenticator, same signature).
	AAAReqData []byte

	// ReqAuthenticator is the random Request Authenticator of the
	// outstanding Access-Request.
	ReqAuthenticator [16]byte

	// ServerState is the opaque State attribute from the last
	// Access-Challenge, echoed in the next request (RFC 2865
	// Section 5.24).
	ServerState []byte

	// AAARetransCount counts Access-Request retransmissions.
	AAARetransCount int

	// AAAPending is true while an Access-Request awaits its reply.
	AAAPending bool

	// --- Counters ---

	Stats PortCounters
}

// Authorized reports whether user traffic is forwarded.
func (p *Port) Authorized() bool { return p.AuthPortStatus == StatusAuthorized }

// tickTimers decrements every authenticator-role timer by one second,
// saturating at zero.
func (p *Port) tickTimers() {
	if p.AWhile > 0 {
		p.AWhile--
	}
	if p.QuietWhile > 0 {
		p.QuietWhile--
	}
	if p.ReAuthWhen > 0 {
		p.ReAuthWhen--
	}
	if p.AAARetransTimer > 0 {
		p.AAARetransTimer--
	}
	p.Eap.Tick()
}

// resetSession zeroes the session statistics at link-up
// (Section 9.4.4: the session counters cover a single session).
func (p *Port) resetSession() {
	p.Stats.SessionOctetsRx = 0
	p.Stats.SessionOctetsTx = 0
	p.Stats.SessionFramesRx = 0
	p.Stats.SessionFramesTx = 0
	p.Stats.SessionTime = 0
	p.Stats.TerminateCause = CauseNotTerminatedYet
}
