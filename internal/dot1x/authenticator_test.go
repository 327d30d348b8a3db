package dot1x

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/binary"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/dantte-lp/godot1x/internal/eap"
)

// -------------------------------------------------------------------------
// Fakes
// -------------------------------------------------------------------------

// sentFrame records one transmitted EAPOL frame.
type sentFrame struct {
	port int
	data []byte
}

// fakeL2 implements L2Endpoint for white-box scenario tests. Frames are
// injected by calling the handlers directly; the Read side is unused.
type fakeL2 struct {
	sent []sentFrame
	link map[int]bool
}

func newFakeL2() *fakeL2 { return &fakeL2{link: map[int]bool{}} }

func (f *fakeL2) ReadFrame(ctx context.Context) (EapolFrame, error) {
	<-ctx.Done()
	return EapolFrame{}, ctx.Err()
}

func (f *fakeL2) WriteFrame(port int, frame []byte) error {
	f.sent = append(f.sent, sentFrame{port: port, data: append([]byte(nil), frame...)})
	return nil
}

func (f *fakeL2) PortLink(port int) bool { return f.link[port] }
func (f *fakeL2) Close() error           { return nil }

// fakeAAA implements AAAEndpoint, recording every datagram.
type fakeAAA struct {
	sent [][]byte
}

func (f *fakeAAA) ReadPacket(ctx context.Context) (RadiusDatagram, error) {
	<-ctx.Done()
	return RadiusDatagram{}, ctx.Err()
}

func (f *fakeAAA) WritePacket(b []byte, _ netip.AddrPort) error {
	f.sent = append(f.sent, append([]byte(nil), b...))
	return nil
}

func (f *fakeAAA) Close() error { return nil }

// -------------------------------------------------------------------------
// Harness
// -------------------------------------------------------------------------

var (
	testServerAddr = netip.MustParseAddrPort("192.0.2.1:1812")
	testSecret     = []byte("radiussecret")
	supplicantMAC  = MACAddr{0x02, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
)

// harness bundles an authenticator with its fake endpoints.
type harness struct {
	t    *testing.T
	auth *Authenticator
	l2   *fakeL2
	aaa  *fakeAAA
}

// newHarness builds an authenticator over fake endpoints. withServer
// wires the fake RADIUS server.
func newHarness(t *testing.T, numPorts int, withServer bool, params PortParams) *harness {
	t.Helper()

	l2 := newFakeL2()
	aaaEP := &fakeAAA{}

	cfg := AuthenticatorConfig{
		NumPorts:      numPorts,
		InterfaceName: "swp0",
		BaseMAC:       MACAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x00},
		PortParams:    params,
	}
	var ep AAAEndpoint
	if withServer {
		cfg.Server = &ServerConfig{
			Addr:       testServerAddr,
			Secret:     testSecret,
			SourceAddr: netip.MustParseAddr("192.0.2.2"),
		}
		ep = aaaEP
	}

	auth, err := NewAuthenticator(cfg, l2, ep, slog.Default())
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	return &harness{t: t, auth: auth, l2: l2, aaa: aaaEP}
}

// bringUp raises the link on every port and ticks once.
func (h *harness) bringUp() {
	for i := 1; i <= h.auth.NumPorts(); i++ {
		h.l2.link[i] = true
	}
	h.tick(1)
}

// tick advances n seconds.
func (h *harness) tick(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.auth.mu.Lock()
		h.auth.tick()
		h.auth.runMachines()
		h.auth.mu.Unlock()
	}
}

// inject delivers one EAPOL frame on a port and runs the machines.
func (h *harness) inject(port int, typ PacketType, body []byte) {
	h.t.Helper()
	buf := make([]byte, txBufSize)
	n, err := MarshalFrame(buf, supplicantMAC, typ, body)
	if err != nil {
		h.t.Fatalf("MarshalFrame: %v", err)
	}
	h.auth.mu.Lock()
	h.auth.handleFrame(EapolFrame{Port: port, Data: buf[:n]})
	h.auth.runMachines()
	h.auth.mu.Unlock()
}

// injectRadius delivers one RADIUS datagram from the server address.
func (h *harness) injectRadius(b []byte) {
	h.t.Helper()
	h.auth.mu.Lock()
	h.auth.handleRadius(RadiusDatagram{Data: b, From: testServerAddr})
	h.auth.runMachines()
	h.auth.mu.Unlock()
}

// lastEapTx decodes the most recent transmitted EAPOL frame's EAP body.
func (h *harness) lastEapTx() (eap.Header, []byte) {
	h.t.Helper()
	if len(h.l2.sent) == 0 {
		h.t.Fatal("nothing transmitted")
	}
	var pdu EapolPDU
	frame := h.l2.sent[len(h.l2.sent)-1]
	if err := UnmarshalFrame(frame.data, &pdu); err != nil {
		h.t.Fatalf("UnmarshalFrame: %v", err)
	}
	if pdu.Type != TypeEAPPacket {
		h.t.Fatalf("last frame type = %v, want EAP-Packet", pdu.Type)
	}
	hd, err := eap.Parse(pdu.Body)
	if err != nil {
		h.t.Fatalf("Parse EAP: %v", err)
	}
	return hd, pdu.Body
}

// port returns a port record.
func (h *harness) port(i int) *Port { return h.auth.ports[i-1] }

// buildReply crafts a verifiable RADIUS reply: Response Authenticator
// per RFC 2865 Section 3 and Message-Authenticator per RFC 3579
// Section 3.2, computed over the supplied attributes.
func buildReply(t *testing.T, code, id uint8, reqAuth [16]byte, attrs []byte) []byte {
	t.Helper()

	// Reserve the Message-Authenticator attribute.
	attrs = append(attrs, 80, 18)
	maOff := 20 + len(attrs)
	attrs = append(attrs, make([]byte, 16)...)

	length := 20 + len(attrs)
	pkt := make([]byte, length)
	pkt[0] = code
	pkt[1] = id
	binary.BigEndian.PutUint16(pkt[2:4], uint16(length))
	copy(pkt[20:], attrs)

	// Message-Authenticator: HMAC-MD5 with the Request Authenticator in
	// the authenticator field and the MA value zeroed.
	copy(pkt[4:20], reqAuth[:])
	mac := hmac.New(md5.New, testSecret)
	mac.Write(pkt)
	copy(pkt[maOff:maOff+16], mac.Sum(nil))

	// Response Authenticator: MD5 over code/id/length, the Request
	// Authenticator, the final attributes and the secret.
	sum := md5.New()
	sum.Write(pkt[0:4])
	sum.Write(reqAuth[:])
	sum.Write(pkt[20:])
	sum.Write(testSecret)
	copy(pkt[4:20], sum.Sum(nil))

	return pkt
}

// attr encodes one RADIUS TLV.
func attr(typ uint8, value []byte) []byte {
	out := []byte{typ, uint8(2 + len(value))}
	return append(out, value...)
}

// findRadiusAttr walks a RADIUS packet image for the first attribute of
// the given type.
func findRadiusAttr(pkt []byte, typ uint8) ([]byte, bool) {
	off := 20
	for off+2 <= len(pkt) {
		alen := int(pkt[off+1])
		if alen < 2 || off+alen > len(pkt) {
			return nil, false
		}
		if pkt[off] == typ {
			return pkt[off+2 : off+alen], true
		}
		off += alen
	}
	return nil, false
}

// -------------------------------------------------------------------------
// Scenarios
// -------------------------------------------------------------------------

// TestIdentityRequestOnLinkUp verifies that an enabled Auto port opens
// the conversation with EAP-Request/Identity, identifier 0.
func TestIdentityRequestOnLinkUp(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, false, PortParams{})
	h.bringUp()

	hd, _ := h.lastEapTx()
	if hd.Code != eap.CodeRequest || hd.Type != eap.MethodIdentity {
		t.Fatalf("first tx = %v/%v, want Request/Identity", hd.Code, hd.Type)
	}
	if hd.Identifier != 0 {
		t.Errorf("identifier = %d, want 0", hd.Identifier)
	}
	if got := h.port(1).Stats.EapolReqIDFramesTx; got != 1 {
		t.Errorf("eapolReqIdFramesTx = %d, want 1", got)
	}
	if h.port(1).PaeState != PaeAuthenticating {
		t.Errorf("PAE state = %v, want AUTHENTICATING", h.port(1).PaeState)
	}
}

// TestServerTimeoutWithoutRadius is the no-server path: with no AAA
// server configured the backend waits aWhile out and reports timeout;
// the port stays Unauthorized.
func TestServerTimeoutWithoutRadius(t *testing.T) {
	t.Parallel()

	params := DefaultPortParams()
	params.ServerTimeout = 3
	h := newHarness(t, 1, false, params)
	h.bringUp()

	h.inject(1, TypeStart, nil)
	h.inject(1, TypeEAPPacket, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, []byte("alice")))

	p := h.port(1)
	if got := p.Stats.EapolRespIDFramesRx; got != 1 {
		t.Errorf("eapolRespIdFramesRx = %d, want 1", got)
	}
	if p.Eap.State() != eap.AuthStateAAAIdle {
		t.Fatalf("EAP state = %v, want AAA_IDLE", p.Eap.State())
	}
	if p.Eap.AAAIdentity != "alice" {
		t.Errorf("aaaIdentity = %q, want alice", p.Eap.AAAIdentity)
	}
	if p.BackendState != BackendResponse {
		t.Fatalf("backend state = %v, want RESPONSE", p.BackendState)
	}

	// No AAA server: aWhile runs out and the exchange fails closed.
	h.tick(int(params.ServerTimeout) + 1)

	if p.AuthPortStatus != StatusUnauthorized {
		t.Error("port became Authorized without a server verdict")
	}
	cause := p.Stats.TerminateCause
	if cause != CauseNotTerminatedYet && cause != CauseReauthFailed {
		t.Errorf("terminate cause = %v", cause)
	}
}

// TestForceAuthCannedSuccess verifies that ForceAuthorized emits a
// canned EAP Success and authorizes immediately; every EAPOL-Start
// re-emits with the identifier advanced.
func TestForceAuthCannedSuccess(t *testing.T) {
	t.Parallel()

	params := DefaultPortParams()
	params.PortControl = ControlForceAuthorized
	h := newHarness(t, 1, false, params)
	h.bringUp()

	p := h.port(1)
	if p.AuthPortStatus != StatusAuthorized {
		t.Fatal("port not Authorized under ForceAuthorized")
	}
	if p.PaeState != PaeForceAuth {
		t.Fatalf("PAE state = %v, want FORCE_AUTH", p.PaeState)
	}

	hd, body := h.lastEapTx()
	if hd.Code != eap.CodeSuccess || len(body) != 4 {
		t.Fatalf("canned packet = %v len %d, want Success len 4", hd.Code, len(body))
	}
	firstID := hd.Identifier

	h.inject(1, TypeStart, nil)
	hd, _ = h.lastEapTx()
	if hd.Code != eap.CodeSuccess {
		t.Fatalf("re-entry packet = %v, want Success", hd.Code)
	}
	if hd.Identifier != firstID+1 {
		t.Errorf("re-entry identifier = %d, want %d", hd.Identifier, firstID+1)
	}
	if p.AuthPortStatus != StatusAuthorized {
		t.Error("port left Authorized on EAPOL-Start")
	}
}

// authenticate drives a full Identity->Accept exchange and leaves the
// port Authorized.
func authenticate(t *testing.T, h *harness) {
	t.Helper()

	h.inject(1, TypeEAPPacket, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, []byte("alice")))
	if len(h.aaa.sent) != 1 {
		t.Fatalf("access-requests sent = %d, want 1", len(h.aaa.sent))
	}
	req := h.aaa.sent[0]

	accept := buildReply(t, 2, req[1], h.port(1).ReqAuthenticator,
		attr(79, eap.BuildSuccess(1)))
	h.injectRadius(accept)

	if h.port(1).AuthPortStatus != StatusAuthorized {
		t.Fatal("port not Authorized after Access-Accept")
	}
}

// TestAccessAcceptAuthorizes drives the full happy path through the
// fake RADIUS server.
func TestAccessAcceptAuthorizes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, true, PortParams{})
	h.bringUp()
	authenticate(t, h)

	// The Accept-carried EAP Success reached the supplicant.
	hd, _ := h.lastEapTx()
	if hd.Code != eap.CodeSuccess {
		t.Errorf("last tx = %v, want the relayed Success", hd.Code)
	}
	if h.port(1).PaeState != PaeAuthenticated {
		t.Errorf("PAE state = %v, want AUTHENTICATED", h.port(1).PaeState)
	}
}

// TestLogoffDisconnects verifies that an EAPOL-Logoff from
// AUTHENTICATED unauthorizes the port with SupplicantLogoff.
func TestLogoffDisconnects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, true, PortParams{})
	h.bringUp()
	authenticate(t, h)

	h.inject(1, TypeLogoff, nil)

	p := h.port(1)
	if p.AuthPortStatus != StatusUnauthorized {
		t.Error("port still Authorized after Logoff")
	}
	if p.Stats.TerminateCause != CauseSupplicantLogoff {
		t.Errorf("terminate cause = %v, want SupplicantLogoff", p.Stats.TerminateCause)
	}
	if got := p.Stats.EapolLogoffFramesRx; got != 1 {
		t.Errorf("eapolLogoffFramesRx = %d, want 1", got)
	}
}

// TestChallengeStateEcho verifies that the State attribute from an
// Access-Challenge is echoed verbatim in the next Access-Request.
func TestChallengeStateEcho(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, true, PortParams{})
	h.bringUp()

	h.inject(1, TypeEAPPacket, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, []byte("alice")))
	if len(h.aaa.sent) != 1 {
		t.Fatalf("access-requests sent = %d, want 1", len(h.aaa.sent))
	}
	req1 := h.aaa.sent[0]

	state := []byte{0x01, 0x02, 0x03}
	mdreq := eap.Build(eap.CodeRequest, 100, eap.MethodMD5Challenge,
		[]byte{4, 0xAA, 0xBB, 0xCC, 0xDD})
	challenge := buildReply(t, 11, req1[1], h.port(1).ReqAuthenticator,
		append(attr(24, state), attr(79, mdreq)...))
	h.injectRadius(challenge)

	// The challenge was relayed to the supplicant with the AAA-chosen
	// identifier.
	hd, _ := h.lastEapTx()
	if hd.Type != eap.MethodMD5Challenge || hd.Identifier != 100 {
		t.Fatalf("relayed request = %v id %d, want MD5-Challenge id 100", hd.Type, hd.Identifier)
	}
	if !bytes.Equal(h.port(1).ServerState, state) {
		t.Fatalf("serverState = %x, want %x", h.port(1).ServerState, state)
	}

	// The peer answers; the next Access-Request must echo the State.
	h.inject(1, TypeEAPPacket, eap.Build(eap.CodeResponse, 100, eap.MethodMD5Challenge,
		[]byte{16, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}))
	if len(h.aaa.sent) != 2 {
		t.Fatalf("access-requests sent = %d, want 2", len(h.aaa.sent))
	}

	echoed, ok := findRadiusAttr(h.aaa.sent[1], 24)
	if !ok {
		t.Fatal("second Access-Request carries no State attribute")
	}
	if !bytes.Equal(echoed, state) {
		t.Errorf("echoed State = %x, want %x", echoed, state)
	}
}

// TestRadiusRetransmitIdentical verifies that a silent server
// triggers byte-identical retransmissions every timeout, and after the
// retransmission budget the EAP layer reports timeout.
func TestRadiusRetransmitIdentical(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, true, PortParams{})
	h.bringUp()

	h.inject(1, TypeEAPPacket, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, []byte("alice")))
	if len(h.aaa.sent) != 1 {
		t.Fatalf("access-requests sent = %d, want 1", len(h.aaa.sent))
	}
	first := h.aaa.sent[0]

	for i := 0; i < 4; i++ {
		h.tick(int(DefaultRadiusTimeout))
		if len(h.aaa.sent) != 2+i {
			t.Fatalf("after retransmit %d: %d datagrams", i+1, len(h.aaa.sent))
		}
		if !bytes.Equal(h.aaa.sent[1+i], first) {
			t.Fatalf("retransmit %d differs from the original", i+1)
		}
	}

	// The fifth expiry exhausts the budget: aaaTimeout asserts, the
	// machines abort the exchange and restart the conversation.
	h.tick(int(DefaultRadiusTimeout))
	if len(h.aaa.sent) != 5 {
		t.Errorf("datagrams = %d, want 5 (no sixth transmission)", len(h.aaa.sent))
	}
	if h.port(1).AuthPortStatus != StatusUnauthorized {
		t.Error("port Authorized despite AAA timeout")
	}
	hd, _ := h.lastEapTx()
	if hd.Code != eap.CodeRequest || hd.Type != eap.MethodIdentity {
		t.Errorf("post-timeout tx = %v/%v, want a fresh Request/Identity", hd.Code, hd.Type)
	}
}

// TestAAAReqIDUniqueness verifies that concurrent
// outstanding requests never share an identifier.
func TestAAAReqIDUniqueness(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, true, PortParams{})
	h.bringUp()

	h.inject(1, TypeEAPPacket, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, []byte("alice")))
	h.inject(2, TypeEAPPacket, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, []byte("bob")))

	if len(h.aaa.sent) != 2 {
		t.Fatalf("access-requests sent = %d, want 2", len(h.aaa.sent))
	}
	if h.port(1).AAAReqID == h.port(2).AAAReqID {
		t.Errorf("both ports use RADIUS identifier %d", h.port(1).AAAReqID)
	}
}

// TestTimerSaturation verifies that a tick decrements each
// timer by one, saturating at zero.
func TestTimerSaturation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, false, PortParams{})
	p := h.port(1)
	p.AWhile = 2
	p.QuietWhile = 1
	p.ReAuthWhen = 0
	p.AAARetransTimer = 3

	p.tickTimers()
	if p.AWhile != 1 || p.QuietWhile != 0 || p.ReAuthWhen != 0 || p.AAARetransTimer != 2 {
		t.Errorf("after tick: aWhile=%d quietWhile=%d reAuthWhen=%d aaaRetrans=%d",
			p.AWhile, p.QuietWhile, p.ReAuthWhen, p.AAARetransTimer)
	}
	p.tickTimers()
	p.tickTimers()
	if p.QuietWhile != 0 || p.ReAuthWhen != 0 {
		t.Error("timers went below zero")
	}
}

// TestMalformedFramesCounted verifies the silent-discard policy: bad
// frames increment counters and change nothing else.
func TestMalformedFramesCounted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, false, PortParams{})
	h.bringUp()
	p := h.port(1)

	// Truncated body: declared length beyond the payload.
	frame := make([]byte, txBufSize)
	n, err := MarshalFrame(frame, supplicantMAC, TypeEAPPacket, []byte{2, 0, 0, 4})
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}
	frame[17] = 200 // packet body length now exceeds the payload
	h.auth.mu.Lock()
	h.auth.handleFrame(EapolFrame{Port: 1, Data: frame[:n]})
	h.auth.runMachines()
	h.auth.mu.Unlock()

	if p.Stats.EapLengthErrorFramesRx != 1 {
		t.Errorf("eapLengthErrorFramesRx = %d, want 1", p.Stats.EapLengthErrorFramesRx)
	}

	// An EAP Request at the authenticator is discarded.
	h.inject(1, TypeEAPPacket, eap.Build(eap.CodeRequest, 0, eap.MethodIdentity, nil))
	if p.EapolEap {
		t.Error("a Request set eapolEap at the authenticator")
	}
}

// TestRadiusVerificationRejects verifies that tampered replies are
// silently dropped (RFC 2865 Section 3, RFC 3579 Section 3.2).
func TestRadiusVerificationRejects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, true, PortParams{})
	h.bringUp()
	h.inject(1, TypeEAPPacket, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, []byte("alice")))
	req := h.aaa.sent[0]
	p := h.port(1)

	good := buildReply(t, 2, req[1], p.ReqAuthenticator, attr(79, eap.BuildSuccess(1)))

	// Tampered Response Authenticator.
	bad := append([]byte(nil), good...)
	bad[4] ^= 0xFF
	h.injectRadius(bad)
	if p.AuthPortStatus == StatusAuthorized {
		t.Fatal("tampered reply authorized the port")
	}

	// Wrong source address.
	h.auth.mu.Lock()
	h.auth.handleRadius(RadiusDatagram{
		Data: good,
		From: netip.MustParseAddrPort("192.0.2.99:1812"),
	})
	h.auth.runMachines()
	h.auth.mu.Unlock()
	if p.AuthPortStatus == StatusAuthorized {
		t.Fatal("reply from a foreign source authorized the port")
	}

	// The genuine reply still works (the request is still pending).
	h.injectRadius(good)
	if p.AuthPortStatus != StatusAuthorized {
		t.Fatal("genuine reply rejected")
	}
}

// TestPortZeroRejected verifies the Open Question decision: port index
// 0 is a configuration error, not an untagged alias.
func TestPortZeroRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, false, PortParams{})
	if err := h.auth.SetQuietPeriod(0, 10, true); err == nil {
		t.Fatal("port 0 accepted by the management surface")
	}
}
