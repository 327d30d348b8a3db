package dot1x

import "fmt"

// -------------------------------------------------------------------------
// Authenticator PAE States — IEEE Std 802.1X-2004 Section 8.2.4
// -------------------------------------------------------------------------

// PaeState is a state of the Authenticator PAE machine
// (IEEE Std 802.1X-2004 Figure 8-8).
type PaeState uint8

const (
	// PaeInitialize resets the machine.
	PaeInitialize PaeState = iota

	// PaeDisconnected is the quiescent unauthorized state.
	PaeDisconnected

	// PaeRestart restarts the EAP conversation.
	PaeRestart

	// PaeConnecting waits for the supplicant to engage.
	PaeConnecting

	// PaeAuthenticating runs the backend exchange.
	PaeAuthenticating

	// PaeAuthenticated forwards user traffic.
	PaeAuthenticated

	// PaeAborting aborts an exchange in progress.
	PaeAborting

	// PaeHeld enforces the quiet period after a failure.
	PaeHeld

	// PaeForceAuth implements AuthControlledPortControl ForceAuthorized.
	PaeForceAuth

	// PaeForceUnauth implements ForceUnauthorized.
	PaeForceUnauth
)

// paeStateNames maps PAE states to human-readable strings.
var paeStateNames = [10]string{
	"INITIALIZE", "DISCONNECTED", "RESTART", "CONNECTING", "AUTHENTICATING",
	"AUTHENTICATED", "ABORTING", "HELD", "FORCE_AUTH", "FORCE_UNAUTH",
}

// String returns the human-readable name for the PAE state.
func (s PaeState) String() string {
	if int(s) < len(paeStateNames) {
		return paeStateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// -------------------------------------------------------------------------
// Authenticator PAE Machine
// -------------------------------------------------------------------------

// paeStep evaluates the Authenticator PAE transition conditions for one
// port and, if one holds, executes the target state's entry actions
// (Section 8.2.4 / Figure 8-8). It returns true when a transition fired.
func (c *Authenticator) paeStep(p *Port) bool {
	// Global transitions.
	if (p.Initialize || !p.PortEnabled) && p.PaeState != PaeInitialize {
		c.paeChangeState(p, PaeInitialize)
		return true
	}
	if !p.Initialize && p.PortEnabled {
		if p.Params.PortControl == ControlForceAuthorized &&
			p.PortMode != ControlForceAuthorized {
			c.paeChangeState(p, PaeForceAuth)
			return true
		}
		if p.Params.PortControl == ControlForceUnauthorized &&
			p.PortMode != ControlForceUnauthorized {
			c.paeChangeState(p, PaeForceUnauth)
			return true
		}
		if p.Params.PortControl == ControlAuto && p.PortMode != ControlAuto {
			c.paeChangeState(p, PaeInitialize)
			return true
		}
	}

	switch p.PaeState {
	case PaeInitialize:
		if !p.Initialize {
			c.paeChangeState(p, PaeDisconnected)
			return true
		}

	case PaeDisconnected:
		c.paeChangeState(p, PaeRestart)
		return true

	case PaeRestart:
		if !p.Eap.EapRestart {
			c.paeChangeState(p, PaeConnecting)
			return true
		}

	case PaeConnecting:
		switch {
		case p.EapolLogoff || p.ReAuthCount > p.Params.ReAuthMax:
			c.paeChangeState(p, PaeDisconnected)
			return true
		case (p.Eap.EapReq && p.ReAuthCount <= p.Params.ReAuthMax) ||
			p.Eap.EapSuccess || p.Eap.EapFail:
			c.paeChangeState(p, PaeAuthenticating)
			return true
		}

	case PaeAuthenticating:
		switch {
		case p.AuthSuccess && p.PortValid:
			c.paeChangeState(p, PaeAuthenticated)
			return true
		case p.AuthFail || (p.KeyDone && !p.PortValid):
			c.paeChangeState(p, PaeHeld)
			return true
		case p.EapolStart || p.EapolLogoff || p.AuthTimeout:
			c.paeChangeState(p, PaeAborting)
			return true
		}

	case PaeAuthenticated:
		switch {
		case p.EapolStart || p.ReAuthenticate:
			c.paeChangeState(p, PaeRestart)
			return true
		case p.EapolLogoff || !p.PortValid:
			c.paeChangeState(p, PaeDisconnected)
			return true
		}

	case PaeAborting:
		switch {
		case p.EapolLogoff && !p.AuthAbort:
			c.paeChangeState(p, PaeDisconnected)
			return true
		case !p.EapolLogoff && !p.AuthAbort:
			c.paeChangeState(p, PaeRestart)
			return true
		}

	case PaeHeld:
		if p.QuietWhile == 0 {
			c.paeChangeState(p, PaeRestart)
			return true
		}

	case PaeForceAuth:
		if p.EapolStart {
			// Reentry: a restarting supplicant receives another canned
			// Success with the identifier advanced.
			c.paeChangeState(p, PaeForceAuth)
			return true
		}

	case PaeForceUnauth:
		if p.EapolStart {
			c.paeChangeState(p, PaeForceUnauth)
			return true
		}
	}

	return false
}

// paeChangeState executes the entry actions of the target PAE state
// (Section 8.2.4 state blocks).
func (c *Authenticator) paeChangeState(p *Port, next PaeState) {
	old := p.PaeState
	p.PaeState = next

	switch next {
	case PaeInitialize:
		p.PortMode = ControlAuto
		c.setPortStatus(p, StatusUnauthorized)

	case PaeDisconnected:
		// Record why the session ended before clearing the triggers.
		switch {
		case p.EapolLogoff:
			p.Stats.TerminateCause = CauseSupplicantLogoff
		case p.EapolStart:
			p.Stats.TerminateCause = CauseSupplicantRestart
		case p.ReAuthCount > p.Params.ReAuthMax:
			p.Stats.TerminateCause = CauseReauthFailed
		case old != PaeInitialize:
			p.Stats.TerminateCause = CausePortFailure
		}
		c.setPortStatus(p, StatusUnauthorized)
		p.EapolLogoff = false
		p.ReAuthCount = 0

	case PaeRestart:
		p.Eap.EapRestart = true

	case PaeConnecting:
		p.ReAuthenticate = false
		p.ReAuthCount++

	case PaeAuthenticating:
		p.EapolStart = false
		p.AuthSuccess = false
		p.AuthFail = false
		p.AuthTimeout = false
		p.AuthStart = true
		p.KeyRun = false
		p.KeyDone = false

	case PaeAuthenticated:
		c.setPortStatus(p, StatusAuthorized)
		p.ReAuthCount = 0

	case PaeAborting:
		p.AuthAbort = true
		p.KeyRun = false
		p.KeyDone = true

	case PaeHeld:
		c.setPortStatus(p, StatusUnauthorized)
		p.QuietWhile = p.Params.QuietPeriod
		p.EapolLogoff = false

	case PaeForceAuth:
		c.setPortStatus(p, StatusAuthorized)
		p.PortMode = ControlForceAuthorized
		p.EapolStart = false
		p.Stats.TerminateCause = CauseNotTerminatedYet
		c.txCanned(p, true)

	case PaeForceUnauth:
		c.setPortStatus(p, StatusUnauthorized)
		p.PortMode = ControlForceUnauthorized
		p.EapolStart = false
		p.Stats.TerminateCause = CauseAuthControlForceUnauth
		c.txCanned(p, false)
	}

	c.notifyState(p, machinePAE, old.String(), next.String(), old != next)
}
