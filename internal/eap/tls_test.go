package eap_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/dantte-lp/godot1x/internal/eap"
)

// eapTLSStart is a Start Request Type-Data: the S flag alone
// (RFC 5216 Section 2.1.1).
var eapTLSStart = []byte{0x20}

// eapTLSAck is an ACK Request Type-Data: no flags, no payload.
var eapTLSAck = []byte{0x00}

// tlsPayload strips the EAP header, Type octet, flags and optional
// length field from an EAP-TLS packet, returning flags and the TLS
// payload.
func tlsPayload(t *testing.T, pkt []byte) (byte, []byte) {
	t.Helper()
	h, err := eap.Parse(pkt)
	if err != nil {
		t.Fatalf("Parse EAP-TLS packet: %v", err)
	}
	if h.Type != eap.MethodTLS {
		t.Fatalf("type = %v, want TLS", h.Type)
	}
	flags := h.TypeData[0]
	payload := h.TypeData[1:]
	if flags&0x80 != 0 {
		payload = payload[4:]
	}
	return flags, payload
}

// TestTLSFragmentation verifies the outbound fragmentation rules of
// RFC 5216 Section 2.1.5: L only on the first fragment (with the total
// message length), M on every fragment but the last, and payload
// concatenation equal to the original message.
func TestTLSFragmentation(t *testing.T) {
	t.Parallel()

	const fragSize = 64
	m := eap.NewTLSMethod(eap.TLSMethodConfig{
		TLS:          &tls.Config{InsecureSkipVerify: true},
		FragmentSize: fragSize,
	})
	m.Init()
	t.Cleanup(func() { m.Init() })

	// Start the handshake; the queued flight is a real ClientHello,
	// which is comfortably larger than one fragment.
	if !m.Check(eapTLSStart) {
		t.Fatal("Check rejected Start")
	}
	m.Process(eapTLSStart)

	var (
		frags   [][]byte
		flagsAt []byte
	)
	id := uint8(1)
	for {
		flags, payload := tlsPayload(t, m.BuildResp(id))
		frags = append(frags, payload)
		flagsAt = append(flagsAt, flags)
		if flags&0x40 == 0 {
			break
		}
		// The server ACKs each non-final fragment.
		m.Process(eapTLSAck)
		id++
	}

	if len(frags) < 2 {
		t.Fatalf("ClientHello did not fragment (got %d fragments)", len(frags))
	}

	var total []byte
	for i, f := range frags {
		total = append(total, f...)

		hasL := flagsAt[i]&0x80 != 0
		hasM := flagsAt[i]&0x40 != 0
		if (i == 0) != hasL {
			t.Errorf("fragment %d: L = %t, want %t", i, hasL, i == 0)
		}
		if (i < len(frags)-1) != hasM {
			t.Errorf("fragment %d: M = %t, want %t", i, hasM, i < len(frags)-1)
		}
	}

	// Fragment budget: every fragment fits the configured size.
	for i, f := range frags {
		budget := fragSize
		if i == 0 {
			budget -= 4
		}
		if len(f) > budget {
			t.Errorf("fragment %d: %d bytes exceeds budget %d", i, len(f), budget)
		}
	}

	// The payload must be a TLS handshake record (content type 22).
	if total[0] != 22 {
		t.Errorf("reassembled payload does not start a TLS handshake record: %#x", total[0])
	}
}

// TestTLSFragmentLengthField verifies that the L-flagged first fragment
// announces the exact total message length.
func TestTLSFragmentLengthField(t *testing.T) {
	t.Parallel()

	const fragSize = 64
	m := eap.NewTLSMethod(eap.TLSMethodConfig{
		TLS:          &tls.Config{InsecureSkipVerify: true},
		FragmentSize: fragSize,
	})
	m.Init()
	t.Cleanup(func() { m.Init() })
	m.Process(eapTLSStart)

	first := m.BuildResp(1)
	h, err := eap.Parse(first)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.TypeData[0]&0x80 == 0 {
		t.Fatal("first fragment missing the L flag")
	}
	announced := int(binary.BigEndian.Uint32(h.TypeData[1:5]))

	total := len(h.TypeData[5:])
	for h.TypeData[0]&0x40 != 0 {
		m.Process(eapTLSAck)
		next := m.BuildResp(2)
		h, err = eap.Parse(next)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		payload := h.TypeData[1:]
		if h.TypeData[0]&0x80 != 0 {
			payload = payload[4:]
		}
		total += len(payload)
	}

	if announced != total {
		t.Errorf("announced length %d != reassembled %d", announced, total)
	}
}

// TestTLSHandshake drives a complete EAP-TLS conversation against a
// real crypto/tls server, fragmenting in both directions, and expects
// UNCOND_SUCC with exported key material (RFC 5216 Sections 2.1.3, 2.3).
func TestTLSHandshake(t *testing.T) {
	t.Parallel()

	serverCfg := testServerTLSConfig(t)

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	srv := tls.Server(serverSide, serverCfg)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Handshake()
	}()

	m := eap.NewTLSMethod(eap.TLSMethodConfig{
		TLS: &tls.Config{
			InsecureSkipVerify: true,
			MaxVersion:         tls.VersionTLS12,
		},
		FragmentSize: 500,
	})
	m.Init()
	t.Cleanup(func() { m.Init() })
	m.Process(eapTLSStart)

	id := uint8(1)
	deadline := time.Now().Add(15 * time.Second)
	for m.State() != eap.MethodStateDone {
		if time.Now().After(deadline) {
			t.Fatal("handshake did not finish in time")
		}

		// Drain the method's pending flight toward the server.
		flight := collectFlight(t, m, &id)
		if len(flight) > 0 {
			if err := writeAll(clientSide, flight, deadline); err != nil {
				t.Fatalf("write to server: %v", err)
			}
		}
		if m.State() == eap.MethodStateDone {
			break
		}

		// Read the server's answer flight and feed it in one final
		// fragment.
		answer := readServerFlight(t, clientSide, deadline)
		m.Process(append([]byte{0x00}, answer...))
		id++
	}

	if err := <-srvErr; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	if m.Decision() != eap.DecisionUncondSucc {
		t.Fatalf("decision = %v, want UNCOND_SUCC", m.Decision())
	}
	if len(m.Key()) != 64 {
		t.Errorf("exported key length = %d, want 64", len(m.Key()))
	}
}

// collectFlight drains every pending outbound fragment from the method.
func collectFlight(t *testing.T, m *eap.TLSMethod, id *uint8) []byte {
	t.Helper()
	var out []byte
	for {
		flags, payload := tlsPayload(t, m.BuildResp(*id))
		out = append(out, payload...)
		if flags&0x40 == 0 {
			return out
		}
		m.Process(eapTLSAck)
		*id++
	}
}

// writeAll writes the whole buffer under the deadline.
func writeAll(c net.Conn, b []byte, deadline time.Time) error {
	if err := c.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.Write(b)
	return err
}

// readServerFlight reads TLS records until the flight is complete: for
// the first server flight, through ServerHelloDone (handshake type 14);
// for the second, through the encrypted Finished after ChangeCipherSpec.
func readServerFlight(t *testing.T, c net.Conn, deadline time.Time) []byte {
	t.Helper()

	var (
		out     []byte
		sawCCS  bool
		records int
	)
	for {
		rec, typ := readRecord(t, c, deadline)
		out = append(out, rec...)
		records++

		switch typ {
		case 20: // ChangeCipherSpec: one more (Finished) record follows.
			sawCCS = true
		case 22: // Handshake.
			payload := rec[5:]
			if sawCCS {
				// The encrypted Finished ends the flight.
				return out
			}
			if len(payload) > 0 && payload[0] == 14 {
				// ServerHelloDone ends the first flight.
				return out
			}
		default:
			t.Fatalf("unexpected TLS record type %d", typ)
		}

		if records > 32 {
			t.Fatal("server flight did not terminate")
		}
	}
}

// readRecord reads one TLS record (5-byte header + payload).
func readRecord(t *testing.T, c net.Conn, deadline time.Time) ([]byte, byte) {
	t.Helper()
	if err := c.SetReadDeadline(deadline); err != nil {
		t.Fatalf("set deadline: %v", err)
	}

	hdr := make([]byte, 5)
	if _, err := io.ReadFull(c, hdr); err != nil {
		t.Fatalf("read record header: %v", err)
	}
	length := int(binary.BigEndian.Uint16(hdr[3:5]))
	payload := make([]byte, length)
	if _, err := io.ReadFull(c, payload); err != nil {
		t.Fatalf("read record payload: %v", err)
	}
	return append(hdr, payload...), hdr[0]
}

// testServerTLSConfig builds a TLS 1.2 server config with a fresh
// self-signed certificate.
func testServerTLSConfig(t *testing.T) *tls.Config {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "radius.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	if err != nil {
		t.Fatalf("key pair: %v", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
	}
}
