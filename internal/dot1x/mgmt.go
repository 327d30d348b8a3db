package dot1x

import "fmt"

// -------------------------------------------------------------------------
// Management surface — IEEE Std 802.1X-2004 Section 9.4
// -------------------------------------------------------------------------
//
// Every setter takes a commit flag: false validates only, true validates
// and applies. A committed write re-runs the composite machine, so the
// new value is observed on the next FSM iteration.

// PortSnapshot is a read-only view of one port. All fields are copies;
// nothing references live state.
type PortSnapshot struct {
	Index          int            `json:"index"`
	SourceMAC      string         `json:"source_mac"`
	SupplicantMAC  string         `json:"supplicant_mac"`
	PortEnabled    bool           `json:"port_enabled"`
	AuthPortStatus string         `json:"auth_port_status"`
	PaeState       string         `json:"pae_state"`
	BackendState   string         `json:"backend_state"`
	ReauthState    string         `json:"reauth_timer_state"`
	EapState       string         `json:"eap_state"`
	Identity       string         `json:"identity"`
	Params         PortParams     `json:"params"`
	Counters       PortCounters   `json:"counters"`
	TerminateCause TerminateCause `json:"-"`
}

// Snapshot returns a copy of one port's state.
func (a *Authenticator) Snapshot(index int) (PortSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.port(index)
	if err != nil {
		return PortSnapshot{}, err
	}
	return a.snapshotLocked(p), nil
}

// Snapshots returns a copy of every port's state.
func (a *Authenticator) Snapshots() []PortSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]PortSnapshot, 0, len(a.ports))
	for _, p := range a.ports {
		out = append(out, a.snapshotLocked(p))
	}
	return out
}

func (a *Authenticator) snapshotLocked(p *Port) PortSnapshot {
	return PortSnapshot{
		Index:          p.Index,
		SourceMAC:      p.SourceMAC.String(),
		SupplicantMAC:  p.SupplicantMAC.String(),
		PortEnabled:    p.PortEnabled,
		AuthPortStatus: p.AuthPortStatus.String(),
		PaeState:       p.PaeState.String(),
		BackendState:   p.BackendState.String(),
		ReauthState:    p.ReauthState.String(),
		EapState:       p.Eap.State().String(),
		Identity:       p.Eap.AAAIdentity,
		Params:         p.Params,
		Counters:       p.Stats,
		TerminateCause: p.Stats.TerminateCause,
	}
}

// withPort validates the index and, on commit, applies fn and re-runs
// the machines.
func (a *Authenticator) withPort(index int, commit bool, fn func(p *Port)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.port(index)
	if err != nil {
		return err
	}
	if !commit {
		return nil
	}
	fn(p)
	a.runMachines()
	return nil
}

// InitializePort asserts the initialize signal; the machines reset and
// deassert it on the next run.
func (a *Authenticator) InitializePort(index int, commit bool) error {
	return a.withPort(index, commit, func(p *Port) {
		p.Stats.TerminateCause = CausePortReInit
		p.Initialize = true
	})
}

// ReauthenticatePort asserts reAuthenticate toward the PAE.
func (a *Authenticator) ReauthenticatePort(index int, commit bool) error {
	return a.withPort(index, commit, func(p *Port) {
		p.ReAuthenticate = true
	})
}

// SetPortControl sets AuthControlledPortControl.
func (a *Authenticator) SetPortControl(index int, v PortControl, commit bool) error {
	if v != ControlAuto && v != ControlForceAuthorized && v != ControlForceUnauthorized {
		return fmt.Errorf("port control %d: %w", v, ErrWrongValue)
	}
	return a.withPort(index, commit, func(p *Port) {
		p.Params.PortControl = v
	})
}

// SetQuietPeriod sets the HELD hold-off (0..65535 seconds).
func (a *Authenticator) SetQuietPeriod(index int, v uint32, commit bool) error {
	if v > MaxQuietPeriod {
		return fmt.Errorf("quiet period %d: %w", v, ErrWrongValue)
	}
	return a.withPort(index, commit, func(p *Port) {
		p.Params.QuietPeriod = v
	})
}

// SetServerTimeout sets the backend aWhile reload (1..3600 seconds).
func (a *Authenticator) SetServerTimeout(index int, v uint32, commit bool) error {
	if v < MinServerTimeout || v > MaxServerTimeout {
		return fmt.Errorf("server timeout %d: %w", v, ErrWrongValue)
	}
	return a.withPort(index, commit, func(p *Port) {
		p.Params.ServerTimeout = v
	})
}

// SetReAuthPeriod sets the reauthentication interval (10..86400 seconds).
func (a *Authenticator) SetReAuthPeriod(index int, v uint32, commit bool) error {
	if v < MinReAuthPeriod || v > MaxReAuthPeriod {
		return fmt.Errorf("reauth period %d: %w", v, ErrWrongValue)
	}
	return a.withPort(index, commit, func(p *Port) {
		p.Params.ReAuthPeriod = v
	})
}

// SetReAuthEnabled enables or disables the reauthentication timer.
func (a *Authenticator) SetReAuthEnabled(index int, v, commit bool) error {
	return a.withPort(index, commit, func(p *Port) {
		p.Params.ReAuthEnabled = v
	})
}

// SetKeyTxEnabled sets the keyTxEnabled flag. The key machine itself is
// out of scope; the parameter is carried for the management surface.
func (a *Authenticator) SetKeyTxEnabled(index int, v, commit bool) error {
	return a.withPort(index, commit, func(p *Port) {
		p.Params.KeyTxEnabled = v
	})
}
