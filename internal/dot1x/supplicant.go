package dot1x

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dantte-lp/godot1x/internal/eap"
)

// -------------------------------------------------------------------------
// Supplicant PAE States — IEEE Std 802.1X-2004 Section 8.2.11
// -------------------------------------------------------------------------

// SupPaeState is a state of the Supplicant PAE machine
// (IEEE Std 802.1X-2004 Figure 8-15).
type SupPaeState uint8

const (
	// SupPaeLogoff sends an EAPOL-Logoff and blocks the port.
	SupPaeLogoff SupPaeState = iota

	// SupPaeDisconnected is the quiescent unauthorized state.
	SupPaeDisconnected

	// SupPaeConnecting solicits the authenticator with EAPOL-Start.
	SupPaeConnecting

	// SupPaeAuthenticating runs the EAP conversation.
	SupPaeAuthenticating

	// SupPaeAuthenticated forwards user traffic.
	SupPaeAuthenticated

	// SupPaeHeld enforces heldPeriod after a failure.
	SupPaeHeld

	// SupPaeRestart restarts the EAP peer.
	SupPaeRestart

	// SupPaeForceAuth implements ForceAuthorized on the supplicant.
	SupPaeForceAuth

	// SupPaeForceUnauth implements ForceUnauthorized.
	SupPaeForceUnauth
)

// supPaeStateNames maps supplicant PAE states to strings.
var supPaeStateNames = [9]string{
	"LOGOFF", "DISCONNECTED", "CONNECTING", "AUTHENTICATING",
	"AUTHENTICATED", "HELD", "RESTART", "S_FORCE_AUTH", "S_FORCE_UNAUTH",
}

// String returns the human-readable name for the supplicant PAE state.
func (s SupPaeState) String() string {
	if int(s) < len(supPaeStateNames) {
		return supPaeStateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// SupBackendState is a state of the Supplicant Backend machine
// (IEEE Std 802.1X-2004 Figure 8-18).
type SupBackendState uint8

const (
	// SupBackendInitialize resets the machine.
	SupBackendInitialize SupBackendState = iota

	// SupBackendIdle waits for the PAE to start an exchange.
	SupBackendIdle

	// SupBackendRequest hands a Request to the EAP peer.
	SupBackendRequest

	// SupBackendResponse transmits the peer's Response.
	SupBackendResponse

	// SupBackendReceive waits for the authenticator's next packet.
	SupBackendReceive

	// SupBackendFail reports a failed conversation to the PAE.
	SupBackendFail

	// SupBackendTimeout reports an authenticator timeout to the PAE.
	SupBackendTimeout

	// SupBackendSuccess reports a successful conversation to the PAE.
	SupBackendSuccess
)

// supBackendStateNames maps supplicant backend states to strings.
var supBackendStateNames = [8]string{
	"INITIALIZE", "IDLE", "REQUEST", "RESPONSE", "RECEIVE", "FAIL",
	"TIMEOUT", "SUCCESS",
}

// String returns the human-readable name for the supplicant backend state.
func (s SupBackendState) String() string {
	if int(s) < len(supBackendStateNames) {
		return supBackendStateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// -------------------------------------------------------------------------
// Supplicant parameters — IEEE Std 802.1X-2004 Section 8.2.11.1
// -------------------------------------------------------------------------

// Supplicant PAE timing defaults.
const (
	// DefaultHeldPeriod is the HELD hold-off in seconds.
	DefaultHeldPeriod = 60

	// DefaultStartPeriod is the EAPOL-Start retransmission interval.
	DefaultStartPeriod = 30

	// DefaultMaxStart is the EAPOL-Start transmission limit.
	DefaultMaxStart = 3

	// DefaultAuthPeriod is the authWhile reload in seconds.
	DefaultAuthPeriod = 30
)

// SupplicantParams are the managed supplicant-side parameters.
type SupplicantParams struct {
	// PortControl selects Auto or a forced supplicant port status.
	PortControl PortControl

	// HeldPeriod, StartPeriod, MaxStart and AuthPeriod tune the PAE
	// and backend timers; zero selects the Section 8.2.11.1 defaults.
	HeldPeriod  uint32
	StartPeriod uint32
	MaxStart    int
	AuthPeriod  uint32
}

// withDefaults fills zero fields with the standard defaults.
func (sp SupplicantParams) withDefaults() SupplicantParams {
	if sp.HeldPeriod == 0 {
		sp.HeldPeriod = DefaultHeldPeriod
	}
	if sp.StartPeriod == 0 {
		sp.StartPeriod = DefaultStartPeriod
	}
	if sp.MaxStart == 0 {
		sp.MaxStart = DefaultMaxStart
	}
	if sp.AuthPeriod == 0 {
		sp.AuthPeriod = DefaultAuthPeriod
	}
	return sp
}

// -------------------------------------------------------------------------
// SupplicantPort — per-interface supplicant state
// -------------------------------------------------------------------------

// SupplicantPort aggregates the supplicant-role per-port variables.
type SupplicantPort struct {
	// Index is the 1-based port index (1 on a plain interface).
	Index int

	// SourceMAC is the interface MAC used as the EAPOL source.
	SourceMAC MACAddr

	// --- Timers ---

	StartWhen uint32
	HeldWhile uint32
	AuthWhile uint32

	// --- Signals ---

	Initialize  bool
	PortEnabled bool
	PortValid   bool
	UserLogoff  bool
	LogoffSent  bool
	EapolEap    bool
	SuppStart   bool
	SuppAbort   bool
	SuppSuccess bool
	SuppFail    bool
	SuppTimeout bool
	KeyDone     bool

	// --- Machine states ---

	PaeState     SupPaeState
	BackendState SupBackendState

	// Peer is the EAP peer machine for this port.
	Peer *eap.Peer

	// --- Status ---

	SuppPortStatus PortStatus
	PortMode       PortControl
	StartCount     int

	Params SupplicantParams
	Stats  PortCounters
}

// tickTimers decrements the supplicant-role timers, saturating at zero.
func (sp *SupplicantPort) tickTimers() {
	if sp.StartWhen > 0 {
		sp.StartWhen--
	}
	if sp.HeldWhile > 0 {
		sp.HeldWhile--
	}
	if sp.AuthWhile > 0 {
		sp.AuthWhile--
	}
	sp.Peer.Tick()
}

// -------------------------------------------------------------------------
// Supplicant — per-interface context
// -------------------------------------------------------------------------

// SupplicantConfig configures a supplicant context for one interface.
type SupplicantConfig struct {
	// InterfaceMAC is the EAPOL source address.
	InterfaceMAC MACAddr

	// Peer configures the EAP peer (identity, methods, canned policy).
	Peer eap.PeerConfig

	// Params tunes the PAE and backend timers.
	Params SupplicantParams
}

// Supplicant drives the supplicant side of one interface: the
// Supplicant PAE and Backend machines plus the EAP peer, with the same
// single-threaded cooperative model as the authenticator context.
type Supplicant struct {
	mu   sync.Mutex
	port *SupplicantPort

	l2      L2Endpoint
	metrics MetricsReporter
	logger  *slog.Logger
	stateCh chan StateChange
}

// NewSupplicant creates a supplicant context.
func NewSupplicant(cfg SupplicantConfig, l2 L2Endpoint, logger *slog.Logger,
	opts ...func(*Supplicant)) *Supplicant {
	s := &Supplicant{
		l2:      l2,
		metrics: noopMetrics{},
		logger:  logger.With(slog.String("component", "supplicant")),
		stateCh: make(chan StateChange, stateChangeChSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.port = &SupplicantPort{
		Index:      1,
		SourceMAC:  cfg.InterfaceMAC,
		PortValid:  true,
		Initialize: true,
		Params:     cfg.Params.withDefaults(),
		Peer:       eap.NewPeer(cfg.Peer, logger),
		PaeState:   SupPaeDisconnected,
	}
	s.port.Peer.SetObserver(func(old, next eap.PeerState) {
		s.notifyState(machineEapPeer, old.String(), next.String())
	})
	return s
}

// WithSupplicantMetrics attaches a MetricsReporter.
func WithSupplicantMetrics(mr MetricsReporter) func(*Supplicant) {
	return func(s *Supplicant) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// StateChanges returns the notification channel.
func (s *Supplicant) StateChanges() <-chan StateChange { return s.stateCh }

// Logoff asserts or clears userLogoff.
func (s *Supplicant) Logoff(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port.UserLogoff = v
	s.runMachines()
}

// Snapshot returns a read-only view of the supplicant port.
func (s *Supplicant) Snapshot() PortSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.port
	return PortSnapshot{
		Index:          p.Index,
		SourceMAC:      p.SourceMAC.String(),
		PortEnabled:    p.PortEnabled,
		AuthPortStatus: p.SuppPortStatus.String(),
		PaeState:       p.PaeState.String(),
		BackendState:   p.BackendState.String(),
		EapState:       p.Peer.State().String(),
		Counters:       p.Stats,
	}
}

// Run drives the supplicant until ctx is cancelled.
func (s *Supplicant) Run(ctx context.Context) error {
	frameCh := make(chan EapolFrame, 16)
	readCtx, cancelReaders := context.WithCancel(ctx)
	defer cancelReaders()

	go func() {
		for {
			f, err := s.l2.ReadFrame(readCtx)
			if err != nil {
				if readCtx.Err() != nil {
					return
				}
				s.logger.Warn("L2 read failed", slog.String("error", err.Error()))
				continue
			}
			select {
			case frameCh <- f:
			case <-readCtx.Done():
				return
			}
		}
	}()

	s.mu.Lock()
	s.runMachines()
	s.mu.Unlock()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.l2.Close(); err != nil {
				s.logger.Warn("L2 close failed", slog.String("error", err.Error()))
			}
			s.logger.Info("supplicant stopped")
			return ctx.Err()

		case f := <-frameCh:
			s.mu.Lock()
			s.handleFrame(f)
			s.runMachines()
			s.mu.Unlock()

		case <-ticker.C:
			s.mu.Lock()
			s.tick()
			s.runMachines()
			s.mu.Unlock()
		}
	}
}

// handleFrame decodes one EAPOL frame for the supplicant. EAP Responses
// are discarded (only an authenticator processes those); Start/Logoff
// are authenticator-bound and ignored here.
func (s *Supplicant) handleFrame(f EapolFrame) {
	p := s.port

	var pdu EapolPDU
	if err := UnmarshalFrame(f.Data, &pdu); err != nil {
		p.Stats.InvalidEapolFramesRx++
		s.metrics.FrameDropped(p.Index, "invalid")
		return
	}

	p.Stats.EapolFramesRx++
	p.Stats.LastEapolFrameVersion = pdu.Version
	s.metrics.FrameRx(p.Index, pdu.Type.String())

	if pdu.Type != TypeEAPPacket {
		return
	}

	h, err := eap.Parse(pdu.Body)
	if err != nil {
		p.Stats.InvalidEapolFramesRx++
		return
	}
	if h.Code == eap.CodeResponse {
		s.metrics.FrameDropped(p.Index, "response-at-supplicant")
		return
	}

	p.Peer.EapReqData = append([]byte(nil), pdu.Body...)
	p.EapolEap = true
}

// tick runs the 1 Hz supplicant tick.
func (s *Supplicant) tick() {
	p := s.port
	up := s.l2.PortLink(p.Index)
	switch {
	case up && !p.PortEnabled:
		p.resetSupplicantSession()
	case !up && p.PortEnabled:
		p.Stats.TerminateCause = CausePortFailure
	case up:
		p.Stats.SessionTime++
	}
	p.PortEnabled = up
	p.Peer.PortEnabled = up
	p.tickTimers()
}

// resetSupplicantSession zeroes session statistics at link-up.
func (sp *SupplicantPort) resetSupplicantSession() {
	sp.Stats.SessionOctetsRx = 0
	sp.Stats.SessionOctetsTx = 0
	sp.Stats.SessionFramesRx = 0
	sp.Stats.SessionFramesTx = 0
	sp.Stats.SessionTime = 0
	sp.Stats.TerminateCause = CauseNotTerminatedYet
}

// runMachines iterates the supplicant machines to quiescence. Callers
// hold the lock.
func (s *Supplicant) runMachines() {
	for iter := 0; ; iter++ {
		if iter >= maxRunnerIterations {
			s.logger.Error("supplicant runner did not quiesce; reinitializing")
			s.port.Initialize = true
			s.port.PaeState = SupPaeDisconnected
			s.port.BackendState = SupBackendInitialize
			return
		}

		busy := s.supPaeStep()
		if s.supBackendStep() {
			busy = true
		}
		if s.port.Peer.Step() {
			busy = true
		}
		if s.port.Initialize {
			s.port.Initialize = false
			busy = true
		}
		if !busy {
			return
		}
	}
}

// -------------------------------------------------------------------------
// Supplicant PAE machine — Section 8.2.11 / Figure 8-15
// -------------------------------------------------------------------------

// supPaeStep evaluates the Supplicant PAE transition conditions.
func (s *Supplicant) supPaeStep() bool {
	p := s.port

	// Global transitions.
	if p.UserLogoff && !p.LogoffSent && !p.Initialize && p.PortEnabled &&
		p.PaeState != SupPaeLogoff {
		s.supPaeChangeState(SupPaeLogoff)
		return true
	}
	if (p.Initialize || !p.PortEnabled) && p.PaeState != SupPaeDisconnected {
		s.supPaeChangeState(SupPaeDisconnected)
		return true
	}
	if !p.Initialize && p.PortEnabled {
		if p.Params.PortControl == ControlForceAuthorized &&
			p.PortMode != ControlForceAuthorized {
			s.supPaeChangeState(SupPaeForceAuth)
			return true
		}
		if p.Params.PortControl == ControlForceUnauthorized &&
			p.PortMode != ControlForceUnauthorized {
			s.supPaeChangeState(SupPaeForceUnauth)
			return true
		}
		if p.Params.PortControl == ControlAuto && p.PortMode != ControlAuto {
			s.supPaeChangeState(SupPaeDisconnected)
			return true
		}
	}

	switch p.PaeState {
	case SupPaeLogoff:
		if !p.UserLogoff {
			s.supPaeChangeState(SupPaeDisconnected)
			return true
		}

	case SupPaeDisconnected:
		if p.PortEnabled && !p.Initialize && !p.UserLogoff {
			s.supPaeChangeState(SupPaeConnecting)
			return true
		}

	case SupPaeConnecting:
		switch {
		case p.EapolEap:
			s.supPaeChangeState(SupPaeRestart)
			return true
		case p.StartWhen == 0 && p.StartCount < p.Params.MaxStart:
			s.supPaeChangeState(SupPaeConnecting)
			return true
		case p.StartWhen == 0 && p.StartCount >= p.Params.MaxStart && p.PortValid:
			// No authenticator answered: treat the network as open
			// (Section 8.2.11.2 behaviour for absent authenticators).
			s.supPaeChangeState(SupPaeAuthenticated)
			return true
		case p.StartWhen == 0 && p.StartCount >= p.Params.MaxStart && !p.PortValid:
			s.supPaeChangeState(SupPaeHeld)
			return true
		}

	case SupPaeRestart:
		if !p.Peer.EapRestart {
			s.supPaeChangeState(SupPaeAuthenticating)
			return true
		}

	case SupPaeAuthenticating:
		switch {
		case p.SuppSuccess && p.PortValid:
			s.supPaeChangeState(SupPaeAuthenticated)
			return true
		case p.SuppFail || (p.KeyDone && !p.PortValid):
			s.supPaeChangeState(SupPaeHeld)
			return true
		case p.SuppTimeout:
			s.supPaeChangeState(SupPaeConnecting)
			return true
		}

	case SupPaeAuthenticated:
		switch {
		case p.EapolEap:
			s.supPaeChangeState(SupPaeRestart)
			return true
		case !p.PortValid:
			s.supPaeChangeState(SupPaeDisconnected)
			return true
		}

	case SupPaeHeld:
		switch {
		case p.HeldWhile == 0:
			s.supPaeChangeState(SupPaeConnecting)
			return true
		case p.EapolEap:
			s.supPaeChangeState(SupPaeRestart)
			return true
		}

	case SupPaeForceAuth, SupPaeForceUnauth:
		// Held until portControl changes.
	}

	return false
}

// supPaeChangeState executes the entry actions of the target state.
func (s *Supplicant) supPaeChangeState(next SupPaeState) {
	p := s.port
	old := p.PaeState
	p.PaeState = next

	switch next {
	case SupPaeLogoff:
		s.txLogoff()
		p.LogoffSent = true
		p.SuppPortStatus = StatusUnauthorized
		p.Stats.TerminateCause = CauseSupplicantLogoff

	case SupPaeDisconnected:
		p.PortMode = ControlAuto
		p.StartCount = 0
		p.LogoffSent = false
		p.SuppPortStatus = StatusUnauthorized
		p.SuppAbort = true

	case SupPaeConnecting:
		p.StartWhen = p.Params.StartPeriod
		p.StartCount++
		s.txStart()

	case SupPaeRestart:
		p.Peer.EapRestart = true

	case SupPaeAuthenticating:
		p.StartCount = 0
		p.SuppSuccess = false
		p.SuppFail = false
		p.SuppTimeout = false
		p.SuppStart = true

	case SupPaeAuthenticated:
		p.SuppPortStatus = StatusAuthorized

	case SupPaeHeld:
		p.HeldWhile = p.Params.HeldPeriod
		p.SuppPortStatus = StatusUnauthorized

	case SupPaeForceAuth:
		p.SuppPortStatus = StatusAuthorized
		p.PortMode = ControlForceAuthorized

	case SupPaeForceUnauth:
		p.SuppPortStatus = StatusUnauthorized
		p.PortMode = ControlForceUnauthorized
	}

	if old != next {
		s.notifyState(machineSupPAE, old.String(), next.String())
	}
}

// -------------------------------------------------------------------------
// Supplicant Backend machine — Section 8.2.12 / Figure 8-18
// -------------------------------------------------------------------------

// supBackendStep evaluates the Supplicant Backend transition conditions.
func (s *Supplicant) supBackendStep() bool {
	p := s.port

	if (p.Initialize || p.SuppAbort) && p.BackendState != SupBackendInitialize {
		s.supBackendChangeState(SupBackendInitialize)
		return true
	}

	switch p.BackendState {
	case SupBackendInitialize:
		if !p.Initialize && !p.SuppAbort {
			s.supBackendChangeState(SupBackendIdle)
			return true
		}

	case SupBackendIdle:
		if p.SuppStart && p.EapolEap {
			s.supBackendChangeState(SupBackendRequest)
			return true
		}

	case SupBackendRequest:
		switch {
		case p.Peer.EapResp:
			s.supBackendChangeState(SupBackendResponse)
			return true
		case p.Peer.EapNoResp:
			s.supBackendChangeState(SupBackendReceive)
			return true
		case p.Peer.EapFail:
			s.supBackendChangeState(SupBackendFail)
			return true
		case p.Peer.EapSuccess:
			s.supBackendChangeState(SupBackendSuccess)
			return true
		}

	case SupBackendResponse:
		s.supBackendChangeState(SupBackendReceive)
		return true

	case SupBackendReceive:
		switch {
		case p.EapolEap:
			s.supBackendChangeState(SupBackendRequest)
			return true
		case p.Peer.EapFail:
			s.supBackendChangeState(SupBackendFail)
			return true
		case p.Peer.EapSuccess:
			s.supBackendChangeState(SupBackendSuccess)
			return true
		case p.AuthWhile == 0:
			s.supBackendChangeState(SupBackendTimeout)
			return true
		}

	case SupBackendFail, SupBackendTimeout, SupBackendSuccess:
		s.supBackendChangeState(SupBackendIdle)
		return true
	}

	return false
}

// supBackendChangeState executes the entry actions of the target state.
func (s *Supplicant) supBackendChangeState(next SupBackendState) {
	p := s.port
	old := p.BackendState
	p.BackendState = next

	switch next {
	case SupBackendInitialize:
		// abortSupp: drop the exchange and quiet the peer signals.
		p.SuppAbort = false
		p.EapolEap = false
		p.Peer.EapResp = false
		p.Peer.EapNoResp = false

	case SupBackendIdle:
		p.SuppStart = false

	case SupBackendRequest:
		// getSuppRsp: hand the packet to the EAP peer.
		p.EapolEap = false
		p.Peer.EapReq = true

	case SupBackendResponse:
		s.txSuppRsp()
		p.Peer.EapResp = false

	case SupBackendReceive:
		p.AuthWhile = p.Params.AuthPeriod
		p.EapolEap = false
		p.Peer.EapNoResp = false

	case SupBackendFail:
		p.SuppFail = true
		p.Stats.TerminateCause = CauseReauthFailed

	case SupBackendTimeout:
		p.SuppTimeout = true

	case SupBackendSuccess:
		p.SuppSuccess = true
	}

	if old != next {
		s.notifyState(machineSupBack, old.String(), next.String())
	}
}

// -------------------------------------------------------------------------
// Supplicant transmit paths
// -------------------------------------------------------------------------

// txStart transmits an EAPOL-Start frame.
func (s *Supplicant) txStart() {
	s.txFrame(TypeStart, nil)
}

// txLogoff transmits an EAPOL-Logoff frame.
func (s *Supplicant) txLogoff() {
	s.txFrame(TypeLogoff, nil)
}

// txSuppRsp transmits the EAP peer's Response.
func (s *Supplicant) txSuppRsp() {
	s.txFrame(TypeEAPPacket, s.port.Peer.EapRespData)
}

// txFrame encodes and sends one EAPOL frame from the supplicant.
func (s *Supplicant) txFrame(typ PacketType, body []byte) {
	p := s.port

	var buf [txBufSize]byte
	n, err := MarshalFrame(buf[:], p.SourceMAC, typ, body)
	if err != nil {
		s.logger.Error("EAPOL marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := s.l2.WriteFrame(p.Index, buf[:n]); err != nil {
		s.logger.Warn("EAPOL send failed", slog.String("error", err.Error()))
		return
	}

	p.Stats.EapolFramesTx++
	p.Stats.SessionFramesTx++
	p.Stats.SessionOctetsTx += uint64(n)
	s.metrics.FrameTx(p.Index, typ.String())
}

// notifyState fans a supplicant machine transition out to the logger,
// metrics and the notification channel.
func (s *Supplicant) notifyState(machine, from, to string) {
	p := s.port
	s.logger.Debug("state transition",
		slog.Int("port", p.Index),
		slog.String("machine", machine),
		slog.String("from", from),
		slog.String("to", to),
	)
	s.metrics.StateTransition(p.Index, machine, from, to)

	select {
	case s.stateCh <- StateChange{
		Port:       p.Index,
		Machine:    machine,
		OldState:   from,
		NewState:   to,
		Authorized: p.SuppPortStatus == StatusAuthorized,
		Timestamp:  time.Now(),
	}:
	default:
	}
}
