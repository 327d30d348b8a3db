package dot1x

import "fmt"

// -------------------------------------------------------------------------
// Backend Authentication States — IEEE Std 802.1X-2004 Section 8.2.9
// -------------------------------------------------------------------------

// BackendState is a state of the Backend Authentication machine
// (IEEE Std 802.1X-2004 Figure 8-12).
type BackendState uint8

const (
	// BackendInitialize resets the machine.
	BackendInitialize BackendState = iota

	// BackendIdle waits for the PAE to start an exchange.
	BackendIdle

	// BackendRequest relays an EAP Request to the supplicant.
	BackendRequest

	// BackendResponse relays a supplicant Response to the server.
	BackendResponse

	// BackendIgnore skips a packet the EAP layer discarded.
	BackendIgnore

	// BackendFail reports a failed exchange to the PAE.
	BackendFail

	// BackendTimeout reports a server timeout to the PAE.
	BackendTimeout

	// BackendSuccess reports a successful exchange to the PAE.
	BackendSuccess
)

// backendStateNames maps backend states to human-readable strings.
var backendStateNames = [8]string{
	"INITIALIZE", "IDLE", "REQUEST", "RESPONSE", "IGNORE", "FAIL",
	"TIMEOUT", "SUCCESS",
}

// String returns the human-readable name for the backend state.
func (s BackendState) String() string {
	if int(s) < len(backendStateNames) {
		return backendStateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// backendStep evaluates the Backend machine transition conditions for
// one port (Section 8.2.9 / Figure 8-12).
func (c *Authenticator) backendStep(p *Port) bool {
	// Global transition.
	if (p.Params.PortControl != ControlAuto || p.Initialize || p.AuthAbort) &&
		p.BackendState != BackendInitialize {
		c.backendChangeState(p, BackendInitialize)
		return true
	}

	switch p.BackendState {
	case BackendInitialize:
		if p.Params.PortControl == ControlAuto && !p.Initialize && !p.AuthAbort {
			c.backendChangeState(p, BackendIdle)
			return true
		}

	case BackendIdle:
		switch {
		case p.Eap.EapFail && p.AuthStart:
			c.backendChangeState(p, BackendFail)
			return true
		case p.Eap.EapReq && p.AuthStart:
			c.backendChangeState(p, BackendRequest)
			return true
		case p.Eap.EapSuccess && p.AuthStart:
			c.backendChangeState(p, BackendSuccess)
			return true
		}

	case BackendRequest:
		switch {
		case p.Eap.EapTimeout:
			c.backendChangeState(p, BackendTimeout)
			return true
		case p.EapolEap:
			c.backendChangeState(p, BackendResponse)
			return true
		case p.Eap.EapReq:
			c.backendChangeState(p, BackendRequest)
			return true
		}

	case BackendResponse:
		switch {
		case p.Eap.EapNoReq:
			c.backendChangeState(p, BackendIgnore)
			return true
		case p.AWhile == 0 || p.Eap.EapTimeout:
			c.backendChangeState(p, BackendTimeout)
			return true
		case p.Eap.EapFail:
			c.backendChangeState(p, BackendFail)
			return true
		case p.Eap.EapSuccess:
			c.backendChangeState(p, BackendSuccess)
			return true
		case p.Eap.EapReq:
			c.backendChangeState(p, BackendRequest)
			return true
		}

	case BackendIgnore:
		switch {
		case p.EapolEap:
			c.backendChangeState(p, BackendResponse)
			return true
		case p.Eap.EapReq:
			c.backendChangeState(p, BackendRequest)
			return true
		case p.Eap.EapTimeout:
			c.backendChangeState(p, BackendTimeout)
			return true
		}

	case BackendFail, BackendTimeout, BackendSuccess:
		c.backendChangeState(p, BackendIdle)
		return true
	}

	return false
}

// backendChangeState executes the entry actions of the target backend
// state (Section 8.2.9 state blocks).
func (c *Authenticator) backendChangeState(p *Port, next BackendState) {
	old := p.BackendState
	p.BackendState = next

	switch next {
	case BackendInitialize:
		// abortAuth: drop any exchange in progress.
		p.Eap.EapNoReq = false
		p.AuthAbort = false
		p.EapolEap = false

	case BackendIdle:
		p.AuthStart = false

	case BackendRequest:
		// Relay the EAP layer's Request to the supplicant.
		c.txReq(p)
		p.Eap.EapReq = false

	case BackendResponse:
		p.AuthTimeout = false
		p.EapolEap = false
		p.Eap.EapNoReq = false
		p.AWhile = p.Params.ServerTimeout
		// Hand the Response to the EAP layer; the AAA glue forwards it
		// to RADIUS once the full authenticator reaches AAA_IDLE.
		p.Eap.EapResp = true

	case BackendIgnore:
		p.Eap.EapNoReq = false

	case BackendFail:
		// Deliver the final EAP Failure before reporting to the PAE.
		c.txReq(p)
		p.Eap.EapFail = false
		p.AuthFail = true

	case BackendTimeout:
		p.AuthTimeout = true

	case BackendSuccess:
		// Deliver the final EAP Success before reporting to the PAE.
		c.txReq(p)
		p.Eap.EapSuccess = false
		p.AuthSuccess = true
	}

	c.notifyState(p, machineBackend, old.String(), next.String(), old != next)
}

// -------------------------------------------------------------------------
// Reauthentication Timer — IEEE Std 802.1X-2004 Section 8.2.8
// -------------------------------------------------------------------------

// ReauthState is a state of the Reauthentication Timer machine
// (IEEE Std 802.1X-2004 Figure 8-11).
type ReauthState uint8

const (
	// ReauthInitialize reloads reAuthWhen.
	ReauthInitialize ReauthState = iota

	// ReauthReauthenticate asserts reAuthenticate to the PAE.
	ReauthReauthenticate
)

// String returns the human-readable name for the reauth timer state.
func (s ReauthState) String() string {
	if s == ReauthReauthenticate {
		return "REAUTHENTICATE"
	}
	return "INITIALIZE"
}

// reauthStep evaluates the Reauthentication Timer machine for one port
// (Section 8.2.8 / Figure 8-11).
func (c *Authenticator) reauthStep(p *Port) bool {
	// Global transition: the timer only runs on an authorized Auto port.
	if p.Initialize || p.Params.PortControl != ControlAuto || !p.PortEnabled ||
		p.AuthPortStatus != StatusAuthorized || !p.Params.ReAuthEnabled {
		if p.ReauthState != ReauthInitialize || p.ReAuthWhen != p.Params.ReAuthPeriod {
			c.reauthChangeState(p, ReauthInitialize)
			// Reload without reporting activity: this branch re-fires
			// every evaluation while the port is unauthorized.
			return false
		}
		return false
	}

	switch p.ReauthState {
	case ReauthInitialize:
		if p.ReAuthWhen == 0 {
			c.reauthChangeState(p, ReauthReauthenticate)
			return true
		}

	case ReauthReauthenticate:
		c.reauthChangeState(p, ReauthInitialize)
		return true
	}

	return false
}

// reauthChangeState executes the entry actions of the target reauth
// timer state.
func (c *Authenticator) reauthChangeState(p *Port, next ReauthState) {
	old := p.ReauthState
	p.ReauthState = next

	switch next {
	case ReauthInitialize:
		p.ReAuthWhen = p.Params.ReAuthPeriod

	case ReauthReauthenticate:
		p.ReAuthenticate = true
	}

	c.notifyState(p, machineReauth, old.String(), next.String(), old != next)
}
