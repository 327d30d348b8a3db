package dot1x_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/dantte-lp/godot1x/internal/dot1x"
)

// testSrc is a per-port source address used across the codec tests.
var testSrc = dot1x.MACAddr{0x02, 0x00, 0x5E, 0x00, 0x00, 0x01}

// TestMarshalFrameLayout verifies the exact frame layout: PAE group
// destination, EtherType 88-8E, version 2, big-endian body length
// (IEEE Std 802.1X-2004 Sections 7.5.3, 7.8).
func TestMarshalFrameLayout(t *testing.T) {
	t.Parallel()

	body := []byte{0x01, 0x00, 0x00, 0x04}
	buf := make([]byte, 64)
	n, err := dot1x.MarshalFrame(buf, testSrc, dot1x.TypeEAPPacket, body)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}

	want := []byte{
		0x01, 0x80, 0xC2, 0x00, 0x00, 0x03, // PAE group address
		0x02, 0x00, 0x5E, 0x00, 0x00, 0x01, // source
		0x88, 0x8E, // EtherType
		0x02,       // protocol version
		0x00,       // EAP-Packet
		0x00, 0x04, // body length
		0x01, 0x00, 0x00, 0x04, // body
	}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("frame = %x\nwant    %x", buf[:n], want)
	}
}

// TestFrameRoundTrip verifies Marshal/Unmarshal for every packet type.
func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		typ  dot1x.PacketType
		body []byte
	}{
		{"EAP packet", dot1x.TypeEAPPacket, []byte{2, 1, 0, 9, 1, 'a', 'l', 'i', 'c'}},
		{"Start", dot1x.TypeStart, nil},
		{"Logoff", dot1x.TypeLogoff, nil},
		{"Key", dot1x.TypeKey, []byte{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := make([]byte, 128)
			n, err := dot1x.MarshalFrame(buf, testSrc, tt.typ, tt.body)
			if err != nil {
				t.Fatalf("MarshalFrame: %v", err)
			}

			var pdu dot1x.EapolPDU
			if err := dot1x.UnmarshalFrame(buf[:n], &pdu); err != nil {
				t.Fatalf("UnmarshalFrame: %v", err)
			}
			if pdu.Version != dot1x.ProtocolVersion {
				t.Errorf("version = %d, want %d", pdu.Version, dot1x.ProtocolVersion)
			}
			if pdu.Type != tt.typ {
				t.Errorf("type = %v, want %v", pdu.Type, tt.typ)
			}
			if !bytes.Equal(pdu.Body, tt.body) {
				t.Errorf("body = %x, want %x", pdu.Body, tt.body)
			}
		})
	}
}

// TestUnmarshalValidation verifies the Section 7.5.7 receive checks.
func TestUnmarshalValidation(t *testing.T) {
	t.Parallel()

	good := make([]byte, 64)
	n, err := dot1x.MarshalFrame(good, testSrc, dot1x.TypeStart, nil)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}
	good = good[:n]

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "too short",
			mutate:  func(f []byte) []byte { return f[:10] },
			wantErr: dot1x.ErrFrameTooShort,
		},
		{
			name: "wrong destination",
			mutate: func(f []byte) []byte {
				f[5] = 0x04
				return f
			},
			wantErr: dot1x.ErrNotPAEGroupAddress,
		},
		{
			name: "wrong ethertype",
			mutate: func(f []byte) []byte {
				f[13] = 0x00
				return f
			},
			wantErr: dot1x.ErrWrongEtherType,
		},
		{
			name: "body shorter than declared",
			mutate: func(f []byte) []byte {
				f[17] = 200
				return f
			},
			wantErr: dot1x.ErrBodyTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			frame := tt.mutate(append([]byte(nil), good...))
			var pdu dot1x.EapolPDU
			if err := dot1x.UnmarshalFrame(frame, &pdu); !errors.Is(err, tt.wantErr) {
				t.Errorf("UnmarshalFrame = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestUnmarshalIgnoresTrailingOctets verifies that padding beyond the
// declared body length is ignored (Section 7.5.6).
func TestUnmarshalIgnoresTrailingOctets(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 64)
	n, err := dot1x.MarshalFrame(buf, testSrc, dot1x.TypeEAPPacket, []byte{3, 1, 0, 4})
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}
	// Minimum-size Ethernet frames arrive zero-padded.
	padded := append(buf[:n], 0, 0, 0, 0, 0, 0)

	var pdu dot1x.EapolPDU
	if err := dot1x.UnmarshalFrame(padded, &pdu); err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if len(pdu.Body) != 4 {
		t.Errorf("body length = %d, want 4", len(pdu.Body))
	}
}

// TestGopacketCrossDecode decodes an emitted frame with gopacket's
// EAPOL layer, cross-checking the codec against an independent
// implementation.
func TestGopacketCrossDecode(t *testing.T) {
	t.Parallel()

	body := []byte{1, 7, 0, 9, 1, 'h', 'e', 'l', 'o'}
	buf := make([]byte, 128)
	n, err := dot1x.MarshalFrame(buf, testSrc, dot1x.TypeEAPPacket, body)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}

	pkt := gopacket.NewPacket(buf[:n], layers.LayerTypeEthernet, gopacket.Default)
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		t.Fatal("gopacket found no Ethernet layer")
	}
	eth := ethLayer.(*layers.Ethernet)
	if eth.EthernetType != layers.EthernetTypeEAPOL {
		t.Errorf("ethertype = %v, want EAPOL", eth.EthernetType)
	}
	if eth.DstMAC.String() != "01:80:c2:00:00:03" {
		t.Errorf("destination = %s, want the PAE group address", eth.DstMAC)
	}

	eapolLayer := pkt.Layer(layers.LayerTypeEAPOL)
	if eapolLayer == nil {
		t.Fatal("gopacket found no EAPOL layer")
	}
	eapol := eapolLayer.(*layers.EAPOL)
	if eapol.Version != 2 {
		t.Errorf("version = %d, want 2", eapol.Version)
	}
	if eapol.Type != layers.EAPOLTypeEAP {
		t.Errorf("type = %v, want EAP", eapol.Type)
	}
	if int(eapol.Length) != len(body) {
		t.Errorf("length = %d, want %d", eapol.Length, len(body))
	}

	eapLayer := pkt.Layer(layers.LayerTypeEAP)
	if eapLayer == nil {
		t.Fatal("gopacket found no EAP layer")
	}
	eapPkt := eapLayer.(*layers.EAP)
	if eapPkt.Code != layers.EAPCodeRequest || eapPkt.Id != 7 {
		t.Errorf("EAP = code %v id %d, want Request/7", eapPkt.Code, eapPkt.Id)
	}
}

// TestPortSourceAddr verifies the per-port source derivation with carry
// propagation.
func TestPortSourceAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base dot1x.MACAddr
		port int
		want dot1x.MACAddr
	}{
		{
			name: "simple add",
			base: dot1x.MACAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x00},
			port: 1,
			want: dot1x.MACAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x01},
		},
		{
			name: "carry into next octet",
			base: dot1x.MACAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0xFF},
			port: 1,
			want: dot1x.MACAddr{0x00, 0x11, 0x22, 0x33, 0x45, 0x00},
		},
		{
			name: "carry chain",
			base: dot1x.MACAddr{0x00, 0x11, 0x22, 0xFF, 0xFF, 0xFE},
			port: 3,
			want: dot1x.MACAddr{0x00, 0x11, 0x23, 0x00, 0x00, 0x01},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := dot1x.PortSourceAddr(tt.base, tt.port); got != tt.want {
				t.Errorf("PortSourceAddr = %s, want %s", got, tt.want)
			}
		})
	}
}
