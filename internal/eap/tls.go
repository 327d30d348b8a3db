package eap

import (
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// EAP-TLS Flags — RFC 5216 Section 3.1
// -------------------------------------------------------------------------

const (
	// tlsFlagLength (L) indicates the 4-octet TLS Message Length field
	// is present.
	tlsFlagLength = 0x80

	// tlsFlagMore (M) indicates more fragments follow.
	tlsFlagMore = 0x40

	// tlsFlagStart (S) indicates an EAP-TLS Start.
	tlsFlagStart = 0x20
)

// tlsLengthFieldSize is the size of the optional TLS Message Length
// field (RFC 5216 Section 3.1).
const tlsLengthFieldSize = 4

// DefaultFragmentSize is the default TLS payload budget per EAP-TLS
// fragment, excluding the EAP and EAP-TLS headers. Sized so a full
// fragment fits an untagged Ethernet EAPOL frame.
const DefaultFragmentSize = 1398

// handshakeSettleTimeout bounds how long the driver waits for the TLS
// stack to either produce its next flight or finish. The handshake is
// in-memory; this only guards against a wedged TLS goroutine.
const handshakeSettleTimeout = 10 * time.Second

// errBadCommitment reports a TLS 1.3 protected success indicator other
// than the single 0x00 octet required by RFC 9190 Section 2.5.
var errBadCommitment = errors.New("TLS 1.3 commitment octet is not 0x00")

// errTLSWedged reports a TLS stack that neither produced output nor
// finished within the settle timeout.
var errTLSWedged = errors.New("TLS handshake driver stalled")

// -------------------------------------------------------------------------
// TLSMethodConfig
// -------------------------------------------------------------------------

// TLSMethodConfig carries the peer-side EAP-TLS parameters.
type TLSMethodConfig struct {
	// TLS is the client TLS configuration: roots, client certificate,
	// ServerName. A ClientSessionCache enables session resumption
	// across conversations; one is installed if absent.
	TLS *tls.Config

	// FragmentSize is the TLS payload budget per EAP-TLS fragment in
	// bytes. The first fragment of a multi-fragment message additionally
	// spends tlsLengthFieldSize of this budget on the TLS Message
	// Length field. Zero selects DefaultFragmentSize.
	FragmentSize int

	// Logger receives handshake progress at debug level.
	Logger *slog.Logger
}

// -------------------------------------------------------------------------
// TLSMethod — RFC 5216 / RFC 9190 peer method
// -------------------------------------------------------------------------

// TLSMethod implements the peer side of EAP-TLS. The TLS handshake runs
// in a dedicated goroutine over an in-memory transport whose read side
// is fed by reassembled inbound fragments and whose write side fills
// the outbound fragment queue. "Handshake would block" surfaces as the
// transport waiting for more input with the client flight collected.
type TLSMethod struct {
	cfg TLSMethodConfig

	state    MethodState
	decision Decision

	// Inbound reassembly (RFC 5216 Section 2.1.5).
	rxBuf      []byte
	rxTotal    int
	pendingAck bool

	// Outbound fragment queue: the current TLS flight and the offset of
	// the next fragment.
	txMsg   []byte
	txOff   int
	txFirst bool

	conn    *eapTLSConn
	tlsConn *tls.Conn
	hsDone  chan error
	started bool
	key     []byte
}

// NewTLSMethod creates an EAP-TLS peer method.
func NewTLSMethod(cfg TLSMethodConfig) *TLSMethod {
	if cfg.FragmentSize == 0 {
		cfg.FragmentSize = DefaultFragmentSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TLS == nil {
		cfg.TLS = &tls.Config{}
	}
	if cfg.TLS.ClientSessionCache == nil {
		cfg.TLS = cfg.TLS.Clone()
		cfg.TLS.ClientSessionCache = tls.NewLRUClientSessionCache(8)
	}
	return &TLSMethod{cfg: cfg, state: MethodStateNone, decision: DecisionFail}
}

// Type implements PeerMethod.
func (m *TLSMethod) Type() MethodType { return MethodTLS }

// Init implements PeerMethod. Any previous TLS session is torn down.
func (m *TLSMethod) Init() {
	m.teardown()
	m.state = MethodStateInit
	m.decision = DecisionFail
	m.rxBuf = nil
	m.rxTotal = 0
	m.pendingAck = false
	m.txMsg = nil
	m.txOff = 0
	m.key = nil
}

// Check implements PeerMethod. The Type-Data must carry the flags octet
// and, when L is set, the 4-octet TLS Message Length.
func (m *TLSMethod) Check(typeData []byte) bool {
	if len(typeData) == 0 {
		return false
	}
	if typeData[0]&tlsFlagLength != 0 && len(typeData) < 1+tlsLengthFieldSize {
		return false
	}
	return true
}

// Process implements PeerMethod: it consumes one EAP-TLS Request.
func (m *TLSMethod) Process(typeData []byte) {
	flags := typeData[0]
	payload := typeData[1:]
	if flags&tlsFlagLength != 0 {
		m.rxTotal = int(binary.BigEndian.Uint32(payload[:tlsLengthFieldSize]))
		payload = payload[tlsLengthFieldSize:]
	}

	switch {
	case flags&tlsFlagStart != 0:
		// Fresh conversation (RFC 5216 Section 2.1.1): reset state,
		// open a TLS client over the in-memory transport, and collect
		// the ClientHello. A cached session is resumed automatically
		// through the ClientSessionCache.
		m.Init()
		m.startHandshake()
		m.drive(nil)

	case m.txOff < len(m.txMsg):
		// An ACK for our previous fragment: the server sent no payload,
		// it wants the next piece of our pending flight.
		m.continueFlight(payload)

	case flags&tlsFlagMore != 0:
		// Intermediate inbound fragment: buffer it and answer with an
		// ACK (RFC 5216 Section 2.1.5).
		m.rxBuf = append(m.rxBuf, payload...)
		m.pendingAck = true
		m.state = MethodStateMayCont
		m.decision = DecisionFail

	default:
		// Final (or only) fragment: reassemble and hand the message to
		// the TLS stack.
		m.rxBuf = append(m.rxBuf, payload...)
		flight := m.rxBuf
		m.rxBuf = nil
		if !m.started {
			// A non-Start packet with no session in progress is a
			// protocol violation; fail the method.
			m.fail(errors.New("EAP-TLS data before Start"))
			return
		}
		m.drive(flight)
	}
}

// continueFlight handles an ACK while an outbound flight is still being
// fragmented. Any payload in the ACK is a violation and is ignored.
func (m *TLSMethod) continueFlight(payload []byte) {
	if len(payload) != 0 {
		m.cfg.Logger.Debug("EAP-TLS ACK carried payload; ignoring",
			slog.Int("len", len(payload)))
	}
	m.pendingAck = false
	if m.state != MethodStateDone {
		m.state = MethodStateMayCont
		m.decision = DecisionFail
	}
}

// BuildResp implements PeerMethod.
func (m *TLSMethod) BuildResp(id uint8) []byte {
	if m.pendingAck || m.txOff >= len(m.txMsg) {
		// Fragment ACK, or nothing to send (e.g. after the final
		// handshake message): an EAP-TLS Response with no data.
		m.pendingAck = false
		return Build(CodeResponse, id, MethodTLS, []byte{0})
	}

	budget := m.cfg.FragmentSize
	withLength := m.txFirst && len(m.txMsg) > budget-tlsLengthFieldSize
	if withLength {
		budget -= tlsLengthFieldSize
	}

	remaining := len(m.txMsg) - m.txOff
	n := remaining
	if n > budget {
		n = budget
	}

	var flags byte
	if withLength {
		flags |= tlsFlagLength
	}
	if m.txOff+n < len(m.txMsg) {
		flags |= tlsFlagMore
	}

	data := make([]byte, 0, 1+tlsLengthFieldSize+n)
	data = append(data, flags)
	if withLength {
		var lenField [tlsLengthFieldSize]byte
		binary.BigEndian.PutUint32(lenField[:], uint32(len(m.txMsg)))
		data = append(data, lenField[:]...)
	}
	data = append(data, m.txMsg[m.txOff:m.txOff+n]...)

	m.txOff += n
	m.txFirst = false
	if m.txOff >= len(m.txMsg) {
		// Flight fully queued; rewind for the next one.
		m.txMsg = nil
		m.txOff = 0
	}

	return Build(CodeResponse, id, MethodTLS, data)
}

// State implements PeerMethod.
func (m *TLSMethod) State() MethodState { return m.state }

// Decision implements PeerMethod.
func (m *TLSMethod) Decision() Decision { return m.decision }

// Key implements PeerMethod: the MSK derived per RFC 5216 Section 2.3
// (TLS < 1.3) or RFC 9190 Section 2.3.
func (m *TLSMethod) Key() []byte { return m.key }

// -------------------------------------------------------------------------
// Handshake driver
// -------------------------------------------------------------------------

// startHandshake opens the TLS client goroutine.
func (m *TLSMethod) startHandshake() {
	m.conn = newEapTLSConn()
	m.tlsConn = tls.Client(m.conn, m.cfg.TLS)
	m.hsDone = make(chan error, 1)
	m.started = true

	go func(c *tls.Conn, done chan<- error) {
		err := c.Handshake()
		if err == nil && c.ConnectionState().Version == tls.VersionTLS13 {
			// RFC 9190 Section 2.5: the server commits to not sending
			// any more handshake messages with one 0x00 octet of
			// application data.
			var b [1]byte
			if _, rerr := io.ReadFull(c, b[:]); rerr != nil {
				err = rerr
			} else if b[0] != 0x00 {
				err = errBadCommitment
			}
		}
		done <- err
	}(m.tlsConn, m.hsDone)
}

// drive feeds one reassembled inbound TLS message (nil right after
// Start) to the handshake goroutine and waits until the TLS stack has
// either finished or emitted its next flight and blocked for more input.
func (m *TLSMethod) drive(flight []byte) {
	m.conn.drainWaiting()
	if flight != nil {
		select {
		case m.conn.in <- flight:
		case err := <-m.hsDone:
			m.finish(err)
			return
		}
	}

	select {
	case err := <-m.hsDone:
		m.finish(err)
	case <-m.conn.waiting:
		// More fragments are needed: the stack consumed the input,
		// wrote its flight, and blocked reading the next message.
		m.txMsg = m.conn.takeOut()
		m.txOff = 0
		m.txFirst = true
		m.state = MethodStateMayCont
		m.decision = DecisionFail
	case <-time.After(handshakeSettleTimeout):
		m.fail(errTLSWedged)
	}
}

// finish concludes the handshake: derive keys on success, tear down on
// failure. Any final flight (e.g. the TLS 1.3 Finished) is still queued
// for transmission.
func (m *TLSMethod) finish(err error) {
	m.txMsg = m.conn.takeOut()
	m.txOff = 0
	m.txFirst = true

	if err != nil {
		m.fail(err)
		return
	}

	m.key = exportKey(m.tlsConn)
	m.state = MethodStateDone
	m.decision = DecisionUncondSucc
	m.cfg.Logger.Debug("EAP-TLS handshake complete",
		slog.String("version", tls.VersionName(m.tlsConn.ConnectionState().Version)))
}

// fail marks the method failed and closes the TLS session.
func (m *TLSMethod) fail(err error) {
	m.cfg.Logger.Debug("EAP-TLS handshake failed", slog.String("error", err.Error()))
	m.state = MethodStateDone
	m.decision = DecisionFail
	m.teardown()
}

// teardown closes the transport and the TLS goroutine, if any.
func (m *TLSMethod) teardown() {
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn = nil
	m.tlsConn = nil
	m.started = false
}

// exportKey derives the 64-octet MSK from the finished handshake.
// RFC 5216 Section 2.3 (label "client EAP encryption") for TLS ≤ 1.2;
// RFC 9190 Section 2.3 (label "EXPORTER_EAP_TLS_Key_Material", context
// 0x0D) for TLS 1.3.
func exportKey(c *tls.Conn) []byte {
	cs := c.ConnectionState()
	var (
		key []byte
		err error
	)
	if cs.Version == tls.VersionTLS13 {
		key, err = cs.ExportKeyingMaterial("EXPORTER_EAP_TLS_Key_Material", []byte{0x0D}, 64)
	} else {
		key, err = cs.ExportKeyingMaterial("client EAP encryption", nil, 64)
	}
	if err != nil {
		return nil
	}
	return key
}

// -------------------------------------------------------------------------
// eapTLSConn — in-memory net.Conn fed by the fragmenter
// -------------------------------------------------------------------------

// eapTLSConn is the record transport between the TLS stack and the
// EAP-TLS fragmenter. Reads block on the in channel; writes accumulate
// in the out buffer until the driver collects them. The waiting channel
// carries a token whenever a Read blocks with nothing buffered, which
// is how the driver detects "handshake would block".
type eapTLSConn struct {
	in      chan []byte
	waiting chan struct{}

	mu  sync.Mutex
	out bytes.Buffer
	rd  []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newEapTLSConn() *eapTLSConn {
	return &eapTLSConn{
		in:      make(chan []byte),
		waiting: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

// Read implements net.Conn.
func (c *eapTLSConn) Read(p []byte) (int, error) {
	if len(c.rd) > 0 {
		n := copy(p, c.rd)
		c.rd = c.rd[n:]
		return n, nil
	}

	select {
	case c.waiting <- struct{}{}:
	default:
	}

	select {
	case b := <-c.in:
		n := copy(p, b)
		c.rd = b[n:]
		return n, nil
	case <-c.closed:
		return 0, io.EOF
	}
}

// Write implements net.Conn.
func (c *eapTLSConn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Write(p)
	return len(p), nil
}

// takeOut drains and returns the accumulated outbound records.
func (c *eapTLSConn) takeOut() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out.Len() == 0 {
		return nil
	}
	b := make([]byte, c.out.Len())
	copy(b, c.out.Bytes())
	c.out.Reset()
	return b
}

// drainWaiting clears a stale waiting token before new input is fed.
func (c *eapTLSConn) drainWaiting() {
	select {
	case <-c.waiting:
	default:
	}
}

// Close implements net.Conn.
func (c *eapTLSConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// LocalAddr implements net.Conn.
func (c *eapTLSConn) LocalAddr() net.Addr { return eapAddr{} }

// RemoteAddr implements net.Conn.
func (c *eapTLSConn) RemoteAddr() net.Addr { return eapAddr{} }

// SetDeadline implements net.Conn; deadlines are meaningless on the
// in-memory transport.
func (c *eapTLSConn) SetDeadline(time.Time) error { return nil }

// SetReadDeadline implements net.Conn.
func (c *eapTLSConn) SetReadDeadline(time.Time) error { return nil }

// SetWriteDeadline implements net.Conn.
func (c *eapTLSConn) SetWriteDeadline(time.Time) error { return nil }

// eapAddr is the placeholder address of the in-memory transport.
type eapAddr struct{}

func (eapAddr) Network() string { return "eap-tls" }
func (eapAddr) String() string  { return "eap-tls" }

// ensure interface compliance.
var _ net.Conn = (*eapTLSConn)(nil)
var _ PeerMethod = (*TLSMethod)(nil)
