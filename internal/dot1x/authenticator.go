// Package dot1x implements the IEEE 802.1X port access control engine:
// the EAPOL codec, the per-port state aggregate, the Authenticator PAE,
// Backend Authentication and Reauthentication Timer machines, their
// supplicant mirrors, and the composite runner that drives them to
// quiescence after every event (IEEE Std 802.1X-2004 Section 8.2.1).
package dot1x

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/dantte-lp/godot1x/internal/aaa"
	"github.com/dantte-lp/godot1x/internal/eap"
)

// -------------------------------------------------------------------------
// Endpoints — consumed interfaces
// -------------------------------------------------------------------------

// EapolFrame is one Ethernet frame delivered by the L2 endpoint.
type EapolFrame struct {
	// Port is the 1-based switch port the frame arrived on; endpoints
	// without port tagging deliver 1.
	Port int

	// Data is the full Ethernet frame starting at the destination MAC.
	Data []byte
}

// L2Endpoint is the raw Ethernet endpoint the authenticator consumes.
// ReadFrame blocks; the context runs it in a reader goroutine.
type L2Endpoint interface {
	ReadFrame(ctx context.Context) (EapolFrame, error)
	WriteFrame(port int, frame []byte) error

	// PortLink reports the physical link state of a port; the tick
	// procedure snapshots it into portEnabled.
	PortLink(port int) bool

	Close() error
}

// RadiusDatagram is one UDP datagram delivered by the AAA endpoint.
type RadiusDatagram struct {
	Data []byte
	From netip.AddrPort
}

// AAAEndpoint is the UDP endpoint toward the RADIUS server.
type AAAEndpoint interface {
	ReadPacket(ctx context.Context) (RadiusDatagram, error)
	WritePacket(b []byte, to netip.AddrPort) error
	Close() error
}

// -------------------------------------------------------------------------
// Configuration
// -------------------------------------------------------------------------

// AAA retransmission defaults (RFC 2865 Section 2.4 leaves the
// policy to the client; these match common NAS practice).
const (
	// DefaultRadiusTimeout is the Access-Request retransmission interval
	// in seconds.
	DefaultRadiusTimeout = 5

	// DefaultRadiusMaxRetrans is the retransmission limit after which
	// aaaTimeout asserts.
	DefaultRadiusMaxRetrans = 4

	// DefaultFramedMTU is the Framed-MTU advertised to the server.
	DefaultFramedMTU = 1400
)

// ServerConfig describes the RADIUS server.
type ServerConfig struct {
	// Addr is the server address and port (default port 1812).
	Addr netip.AddrPort

	// Secret is the shared secret (≤ 64 octets).
	Secret []byte

	// SourceAddr is the NAS source address used for NAS-IP-Address /
	// NAS-IPv6-Address selection.
	SourceAddr netip.Addr
}

// AuthenticatorConfig configures an authenticator context.
type AuthenticatorConfig struct {
	// NumPorts is the number of controlled ports (1-based indices).
	NumPorts int

	// InterfaceName is the NAS-facing interface name, used in
	// NAS-Port-Id.
	InterfaceName string

	// BaseMAC is the bridge MAC; per-port source addresses derive from
	// it (PortSourceAddr) and it is the Called-Station-Id.
	BaseMAC MACAddr

	// Server is the AAA server; nil runs without RADIUS (backend
	// exchanges time out).
	Server *ServerConfig

	// RadiusTimeout and RadiusMaxRetrans tune the AAA retransmission
	// discipline; zero selects the defaults.
	RadiusTimeout    uint32
	RadiusMaxRetrans int

	// FramedMTU is the advertised EAP fragment budget; zero selects the
	// default.
	FramedMTU int

	// PortParams seeds every port's managed parameters.
	PortParams PortParams

	// EAP tunes the per-port full authenticator.
	EAP eap.AuthConfig
}

// -------------------------------------------------------------------------
// Authenticator — per-context engine
// -------------------------------------------------------------------------

// stateChangeChSize buffers state-change notifications so a slow
// consumer cannot stall the engine; overflow drops with a counter.
const stateChangeChSize = 256

// Authenticator owns an ordered set of Ports and the two endpoints, and
// runs the single-threaded cooperative engine: every event (frame,
// RADIUS reply, tick, management write) takes the context lock, mutates
// per-port state and runs the composite machine to quiescence.
type Authenticator struct {
	mu    sync.Mutex
	ports []*Port

	cfg     AuthenticatorConfig
	l2      L2Endpoint
	radius  AAAEndpoint
	driver  SwitchDriver
	metrics MetricsReporter
	logger  *slog.Logger

	// aaaNextID seeds the context-wide RADIUS identifier allocator.
	aaaNextID uint8

	stateCh      chan StateChange
	droppedNotif uint64
}

// AuthenticatorOption configures optional Authenticator collaborators.
type AuthenticatorOption func(*Authenticator)

// WithMetrics attaches a MetricsReporter.
func WithMetrics(mr MetricsReporter) AuthenticatorOption {
	return func(a *Authenticator) {
		if mr != nil {
			a.metrics = mr
		}
	}
}

// WithSwitchDriver attaches a switch driver that mirrors the controlled
// port status into hardware.
func WithSwitchDriver(d SwitchDriver) AuthenticatorOption {
	return func(a *Authenticator) { a.driver = d }
}

// NewAuthenticator creates an authenticator context with all ports in
// the INITIALIZE state. Run starts the engine.
func NewAuthenticator(
	cfg AuthenticatorConfig,
	l2 L2Endpoint,
	radiusEP AAAEndpoint,
	logger *slog.Logger,
	opts ...AuthenticatorOption,
) (*Authenticator, error) {
	if cfg.NumPorts < 1 {
		return nil, fmt.Errorf("new authenticator: %d ports: %w", cfg.NumPorts, ErrInvalidPort)
	}
	if cfg.Server != nil && (len(cfg.Server.Secret) == 0 || len(cfg.Server.Secret) > aaa.MaxSecretLen) {
		return nil, fmt.Errorf("new authenticator: secret length %d: %w",
			len(cfg.Server.Secret), ErrInvalidLength)
	}
	if cfg.RadiusTimeout == 0 {
		cfg.RadiusTimeout = DefaultRadiusTimeout
	}
	if cfg.RadiusMaxRetrans == 0 {
		cfg.RadiusMaxRetrans = DefaultRadiusMaxRetrans
	}
	if cfg.FramedMTU == 0 {
		cfg.FramedMTU = DefaultFramedMTU
	}
	if cfg.PortParams == (PortParams{}) {
		cfg.PortParams = DefaultPortParams()
	}

	a := &Authenticator{
		cfg:     cfg,
		l2:      l2,
		radius:  radiusEP,
		metrics: noopMetrics{},
		logger:  logger.With(slog.String("component", "authenticator")),
		stateCh: make(chan StateChange, stateChangeChSize),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.ports = make([]*Port, cfg.NumPorts)
	for i := range a.ports {
		idx := i + 1
		p := &Port{
			Index:     idx,
			SourceMAC: PortSourceAddr(cfg.BaseMAC, idx),
			Params:    cfg.PortParams,
			// No key machine: the port is always valid for
			// authorization purposes.
			PortValid:  true,
			Initialize: true,
			Eap:        eap.NewAuthenticator(cfg.EAP, logger.With(slog.Int("port", idx))),
		}
		p.Eap.SetObserver(a.eapObserver(p))
		a.ports[i] = p
	}

	return a, nil
}

// eapObserver forwards full-authenticator transitions into the common
// notification path.
func (a *Authenticator) eapObserver(p *Port) func(old, next eap.AuthState) {
	return func(old, next eap.AuthState) {
		a.notifyState(p, machineEapAuth, old.String(), next.String(), true)
	}
}

// StateChanges returns the notification channel. Exactly one consumer
// should drain it.
func (a *Authenticator) StateChanges() <-chan StateChange { return a.stateCh }

// NumPorts returns the number of controlled ports.
func (a *Authenticator) NumPorts() int { return len(a.ports) }

// port returns the Port for a 1-based index. Callers hold the lock.
func (a *Authenticator) port(index int) (*Port, error) {
	if index < 1 || index > len(a.ports) {
		return nil, fmt.Errorf("port %d: %w", index, ErrInvalidPort)
	}
	return a.ports[index-1], nil
}

// -------------------------------------------------------------------------
// Event loop
// -------------------------------------------------------------------------

// Run drives the engine until ctx is cancelled: one goroutine per
// endpoint feeds the select loop, a 1 Hz ticker drives the tick
// procedure, and every event is processed under the context lock.
func (a *Authenticator) Run(ctx context.Context) error {
	frameCh := make(chan EapolFrame, 16)
	radiusCh := make(chan RadiusDatagram, 16)

	readCtx, cancelReaders := context.WithCancel(ctx)
	defer cancelReaders()

	go a.readFrames(readCtx, frameCh)
	if a.radius != nil {
		go a.readRadius(readCtx, radiusCh)
	}

	// Run the machines once so every port leaves INITIALIZE.
	a.mu.Lock()
	a.runMachines()
	a.mu.Unlock()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()

		case f := <-frameCh:
			a.mu.Lock()
			a.handleFrame(f)
			a.runMachines()
			a.mu.Unlock()

		case d := <-radiusCh:
			a.mu.Lock()
			a.handleRadius(d)
			a.runMachines()
			a.mu.Unlock()

		case <-ticker.C:
			a.mu.Lock()
			a.tick()
			a.runMachines()
			a.mu.Unlock()
		}
	}
}

// readFrames is the L2 reader goroutine.
func (a *Authenticator) readFrames(ctx context.Context, out chan<- EapolFrame) {
	for {
		f, err := a.l2.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("L2 read failed", slog.String("error", err.Error()))
			continue
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return
		}
	}
}

// readRadius is the AAA reader goroutine.
func (a *Authenticator) readRadius(ctx context.Context, out chan<- RadiusDatagram) {
	for {
		d, err := a.radius.ReadPacket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("RADIUS read failed", slog.String("error", err.Error()))
			continue
		}
		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
	}
}

// shutdown closes the endpoints and marks every session terminated.
func (a *Authenticator) shutdown() {
	a.mu.Lock()
	for _, p := range a.ports {
		if p.Stats.TerminateCause == CauseNotTerminatedYet {
			p.Stats.TerminateCause = CausePortAdminDisabled
		}
	}
	a.mu.Unlock()

	if err := a.l2.Close(); err != nil {
		a.logger.Warn("L2 close failed", slog.String("error", err.Error()))
	}
	if a.radius != nil {
		if err := a.radius.Close(); err != nil {
			a.logger.Warn("RADIUS close failed", slog.String("error", err.Error()))
		}
	}
	a.logger.Info("authenticator stopped")
}

// -------------------------------------------------------------------------
// Frame handling — IEEE Std 802.1X-2004 Section 7.5.7
// -------------------------------------------------------------------------

// handleFrame decodes an EAPOL frame and routes it to the port's signal
// variables. Malformed frames are counted and dropped; the engine never
// returns an error for wire input.
func (a *Authenticator) handleFrame(f EapolFrame) {
	idx := f.Port
	if idx < 1 {
		idx = 1
	}
	p, err := a.port(idx)
	if err != nil {
		a.metrics.FrameDropped(idx, "bad-port")
		return
	}

	p.Stats.SessionFramesRx++
	p.Stats.SessionOctetsRx += uint64(len(f.Data))

	var pdu EapolPDU
	if err := UnmarshalFrame(f.Data, &pdu); err != nil {
		if errors.Is(err, ErrBodyTruncated) {
			p.Stats.EapLengthErrorFramesRx++
			a.metrics.FrameDropped(p.Index, "length-error")
		} else {
			p.Stats.InvalidEapolFramesRx++
			a.metrics.FrameDropped(p.Index, "invalid")
		}
		return
	}

	p.Stats.EapolFramesRx++
	p.Stats.LastEapolFrameVersion = pdu.Version
	copy(p.SupplicantMAC[:], f.Data[6:12])
	a.metrics.FrameRx(p.Index, pdu.Type.String())

	switch pdu.Type {
	case TypeStart:
		p.Stats.EapolStartFramesRx++
		p.EapolStart = true

	case TypeLogoff:
		p.Stats.EapolLogoffFramesRx++
		p.EapolLogoff = true

	case TypeEAPPacket:
		a.handleEapPacket(p, pdu.Body)

	case TypeKey, TypeASFAlert:
		// Counted above; the key machine and ASF alerting are out of
		// scope.

	default:
		p.Stats.InvalidEapolFramesRx++
		a.metrics.FrameDropped(p.Index, "unknown-type")
	}
}

// handleEapPacket routes the EAP packet inside an EAPOL EAP-Packet
// frame. The authenticator accepts only Responses (RFC 3748
// Section 4.1); anything else is silently discarded.
func (a *Authenticator) handleEapPacket(p *Port, body []byte) {
	h, err := eap.Parse(body)
	if err != nil {
		p.Stats.InvalidEapolFramesRx++
		a.metrics.FrameDropped(p.Index, "bad-eap")
		return
	}
	if h.Code != eap.CodeResponse {
		a.metrics.FrameDropped(p.Index, "not-response")
		return
	}

	if h.Type == eap.MethodIdentity {
		p.Stats.EapolRespIDFramesRx++
	} else {
		p.Stats.EapolRespFramesRx++
	}

	p.Eap.EapRespData = append([]byte(nil), body...)
	p.EapolEap = true
}

// -------------------------------------------------------------------------
// RADIUS handling — RFC 2865 Section 3, RFC 3579 Section 3.2
// -------------------------------------------------------------------------

// handleRadius verifies a RADIUS reply and maps it onto the matching
// port's AAA signal variables. Every failure is a silent discard.
func (a *Authenticator) handleRadius(d RadiusDatagram) {
	srv := a.cfg.Server
	if srv == nil {
		return
	}
	if d.From.Addr().Unmap() != srv.Addr.Addr().Unmap() || d.From.Port() != srv.Addr.Port() {
		a.logger.Debug("RADIUS reply from unexpected source",
			slog.String("from", d.From.String()))
		return
	}
	if len(d.Data) < 2 {
		return
	}

	// Identifier match: a port in AAA_IDLE with its request outstanding.
	var p *Port
	for _, cand := range a.ports {
		if cand.AAAPending && !cand.Eap.AAAEapResp && cand.AAAReqID == d.Data[1] {
			p = cand
			break
		}
	}
	if p == nil {
		a.logger.Debug("RADIUS reply matches no port", slog.Int("id", int(d.Data[1])))
		return
	}

	rep, err := aaa.VerifyReply(d.Data, p.ReqAuthenticator, srv.Secret)
	if err != nil {
		a.logger.Debug("RADIUS reply discarded",
			slog.Int("port", p.Index), slog.String("error", err.Error()))
		a.metrics.FrameDropped(p.Index, "radius-verify")
		return
	}

	p.AAAPending = false
	p.AAARetransTimer = 0
	if rep.State != nil {
		p.ServerState = rep.State
	}

	h, err := eap.Parse(rep.EAPMessage)
	if err != nil {
		p.Eap.AAAEapNoReq = true
		return
	}
	p.Eap.AAAEapReqData = append([]byte(nil), rep.EAPMessage...)
	p.Eap.AAAMethodTimeout = rep.SessionTimeout

	switch h.Code {
	case eap.CodeRequest:
		p.Eap.AAAEapReq = true
	case eap.CodeSuccess:
		p.Eap.AAASuccess = true
	case eap.CodeFailure:
		p.Eap.AAAFail = true
	default:
		p.Eap.AAAEapNoReq = true
	}
}

// -------------------------------------------------------------------------
// Tick procedure
// -------------------------------------------------------------------------

// tick runs once per second: link-state snapshot, session accounting,
// timer decrement.
func (a *Authenticator) tick() {
	for _, p := range a.ports {
		up := a.l2.PortLink(p.Index)
		switch {
		case up && !p.PortEnabled:
			// Link came up: a fresh session begins.
			p.resetSession()
		case !up && p.PortEnabled:
			p.Stats.TerminateCause = CausePortFailure
		case up:
			p.Stats.SessionTime++
		}
		p.PortEnabled = up

		p.tickTimers()
	}
}

// -------------------------------------------------------------------------
// Composite runner — IEEE Std 802.1X-2004 Section 8.2.1
// -------------------------------------------------------------------------

// maxRunnerIterations bounds the composite loop; a correct machine set
// quiesces in a handful of iterations, so hitting the bound means an
// internal invariant broke. The affected engine resets fail-closed.
const maxRunnerIterations = 1000

// runMachines iterates every port's machines until none has anything
// left to do, then lets the AAA glue act on the resulting signal state.
// Callers hold the context lock.
func (a *Authenticator) runMachines() {
	for iter := 0; ; iter++ {
		if iter >= maxRunnerIterations {
			a.logger.Error("composite runner did not quiesce; reinitializing")
			for _, p := range a.ports {
				p.Initialize = true
				p.PaeState = PaeInitialize
				p.BackendState = BackendInitialize
				a.setPortStatus(p, StatusUnauthorized)
			}
			return
		}

		busy := false
		for _, p := range a.ports {
			// The EAP machine runs only on Auto ports; in the forced
			// modes the PAE emits canned packets itself and the EAP
			// identifier space must not be disturbed.
			p.Eap.PortEnabled = p.PortEnabled && p.Params.PortControl == ControlAuto

			if a.paeStep(p) {
				busy = true
			}
			if a.backendStep(p) {
				busy = true
			}
			if a.reauthStep(p) {
				busy = true
			}
			if p.Eap.Step() {
				busy = true
			}
			// Management asserts initialize; one full evaluation of the
			// machines deasserts it.
			if p.Initialize {
				p.Initialize = false
				busy = true
			}
		}
		if !busy {
			break
		}
	}

	for _, p := range a.ports {
		a.aaaGlue(p)
	}
}

// -------------------------------------------------------------------------
// AAA pass-through glue
// -------------------------------------------------------------------------

// aaaGlue bridges the full authenticator's AAA_IDLE signals to the
// RADIUS codec: send on aaaEapResp, retransmit on timer expiry, assert
// aaaTimeout after the retransmission budget.
func (a *Authenticator) aaaGlue(p *Port) {
	if p.Eap.State() != eap.AuthStateAAAIdle {
		return
	}

	if p.Eap.AAAEapResp {
		if a.cfg.Server == nil || a.radius == nil {
			// No AAA server: leave the response pending; the backend
			// aWhile timer concludes the exchange.
			return
		}
		if err := a.sendAccessRequest(p); err != nil {
			a.logger.Warn("access-request send failed",
				slog.Int("port", p.Index), slog.String("error", err.Error()))
			return
		}
		p.Eap.AAAEapResp = false
		p.Eap.AAATimeout = false
		return
	}

	if p.AAAPending && p.AAARetransTimer == 0 {
		if p.AAARetransCount < a.cfg.RadiusMaxRetrans {
			// Byte-identical retransmission: same identifier, same
			// Request Authenticator, same signature (RFC 2865
			// Section 2.4).
			p.AAARetransCount++
			p.AAARetransTimer = a.cfg.RadiusTimeout
			a.metrics.RadiusRetransmit(p.Index)
			if err := a.radius.WritePacket(p.AAAReqData, a.cfg.Server.Addr); err != nil {
				a.logger.Warn("access-request retransmit failed",
					slog.Int("port", p.Index), slog.String("error", err.Error()))
			}
		} else {
			p.AAAPending = false
			p.Eap.AAATimeout = true
			a.metrics.AuthResult(p.Index, "timeout")
			a.runPortMachines(p)
		}
	}
}

// runPortMachines re-runs one port's machines after the glue changed
// its signals.
func (a *Authenticator) runPortMachines(p *Port) {
	for iter := 0; iter < maxRunnerIterations; iter++ {
		busy := a.paeStep(p)
		if a.backendStep(p) {
			busy = true
		}
		if a.reauthStep(p) {
			busy = true
		}
		if p.Eap.Step() {
			busy = true
		}
		if !busy {
			return
		}
	}
}

// sendAccessRequest builds, stores and transmits a fresh Access-Request
// for the port's pending EAP response.
func (a *Authenticator) sendAccessRequest(p *Port) error {
	srv := a.cfg.Server

	p.AAAReqID = a.nextAAAReqID()
	if _, err := rand.Read(p.ReqAuthenticator[:]); err != nil {
		return fmt.Errorf("request authenticator: %w", err)
	}

	wire, err := aaa.BuildAccessRequest(aaa.RequestParams{
		Secret:           srv.Secret,
		ID:               p.AAAReqID,
		Authenticator:    p.ReqAuthenticator,
		Identity:         p.Eap.AAAIdentity,
		EAPMessage:       p.Eap.AAAEapRespData,
		State:            p.ServerState,
		NASAddr:          srv.SourceAddr,
		NASPort:          p.Index,
		NASPortID:        fmt.Sprintf("%s_%d", a.cfg.InterfaceName, p.Index),
		CalledStationID:  a.cfg.BaseMAC.DashString(),
		CallingStationID: p.SupplicantMAC.DashString(),
		FramedMTU:        a.cfg.FramedMTU,
	})
	if err != nil {
		return err
	}

	p.AAAReqData = wire
	p.AAAPending = true
	p.AAARetransCount = 0
	p.AAARetransTimer = a.cfg.RadiusTimeout
	a.metrics.RadiusRequest(p.Index)

	return a.radius.WritePacket(wire, srv.Addr)
}

// nextAAAReqID allocates a RADIUS identifier unique among the ports
// with an outstanding request (RFC 2865 Section 3: the identifier
// matches replies to requests).
func (a *Authenticator) nextAAAReqID() uint8 {
	for {
		id := a.aaaNextID
		a.aaaNextID++
		inUse := false
		for _, p := range a.ports {
			if p.AAAPending && p.AAAReqID == id {
				inUse = true
				break
			}
		}
		if !inUse {
			return id
		}
	}
}

// -------------------------------------------------------------------------
// Transmit paths
// -------------------------------------------------------------------------

// txBuf is sized for the largest EAPOL frame the engine emits.
const txBufSize = 14 + EapolHeaderSize + MaxFrameSize

// txReq wraps the EAP layer's current request in EAPOL and transmits it
// (Backend REQUEST/SUCCESS/FAIL entry action txReq).
func (a *Authenticator) txReq(p *Port) {
	a.txEapol(p, p.Eap.EapReqData)
}

// txCanned emits a canned EAP Success or Failure with the identifier
// advanced past the last delivered one (PAE FORCE_AUTH / FORCE_UNAUTH
// entry action).
func (a *Authenticator) txCanned(p *Port, success bool) {
	id := p.Eap.AdvanceID()
	if success {
		a.txEapol(p, eap.BuildSuccess(id))
	} else {
		a.txEapol(p, eap.BuildFailure(id))
	}
}

// txEapol encodes and sends one EAPOL EAP-Packet frame, updating the
// transmit counters.
func (a *Authenticator) txEapol(p *Port, body []byte) {
	if len(body) == 0 {
		return
	}

	var buf [txBufSize]byte
	n, err := MarshalFrame(buf[:], p.SourceMAC, TypeEAPPacket, body)
	if err != nil {
		a.logger.Error("EAPOL marshal failed",
			slog.Int("port", p.Index), slog.String("error", err.Error()))
		return
	}
	if err := a.l2.WriteFrame(p.Index, buf[:n]); err != nil {
		a.logger.Warn("EAPOL send failed",
			slog.Int("port", p.Index), slog.String("error", err.Error()))
		return
	}

	p.Stats.EapolFramesTx++
	p.Stats.SessionFramesTx++
	p.Stats.SessionOctetsTx += uint64(n)
	a.metrics.FrameTx(p.Index, TypeEAPPacket.String())

	if h, err := eap.Parse(body); err == nil && h.Code == eap.CodeRequest {
		if h.Type == eap.MethodIdentity {
			p.Stats.EapolReqIDFramesTx++
		} else {
			p.Stats.EapolReqFramesTx++
		}
	}
}

// -------------------------------------------------------------------------
// Status & notifications
// -------------------------------------------------------------------------

// setPortStatus moves the controlled-port status, mirrors it into the
// switch driver, and reports it.
func (a *Authenticator) setPortStatus(p *Port, status PortStatus) {
	if p.AuthPortStatus == status {
		return
	}
	p.AuthPortStatus = status

	a.logger.Info("port status changed",
		slog.Int("port", p.Index),
		slog.String("status", status.String()),
	)
	a.metrics.PortStatus(p.Index, status == StatusAuthorized)

	if a.driver != nil {
		if err := a.driver.SetPortState(p.Index, status == StatusAuthorized); err != nil {
			a.logger.Warn("switch driver update failed",
				slog.Int("port", p.Index), slog.String("error", err.Error()))
		}
	}
}

// notifyState fans a machine transition out to the logger, metrics and
// the notification channel. Self-loop reentries (changed == false) are
// not reported at all.
func (a *Authenticator) notifyState(p *Port, machine, from, to string, changed bool) {
	if !changed {
		return
	}

	a.logger.Debug("state transition",
		slog.Int("port", p.Index),
		slog.String("machine", machine),
		slog.String("from", from),
		slog.String("to", to),
	)
	a.metrics.StateTransition(p.Index, machine, from, to)

	select {
	case a.stateCh <- StateChange{
		Port:       p.Index,
		Machine:    machine,
		OldState:   from,
		NewState:   to,
		Authorized: p.AuthPortStatus == StatusAuthorized,
		Timestamp:  time.Now(),
	}:
	default:
		a.droppedNotif++
	}
}
