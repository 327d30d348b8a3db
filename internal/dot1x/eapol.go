package dot1x

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// EAPOL Constants — IEEE Std 802.1X-2004 Section 7.5
// -------------------------------------------------------------------------

// EtherTypePAE is the PAE EtherType carried by every EAPOL frame
// (IEEE Std 802.1X-2004 Section 7.2: 88-8E).
const EtherTypePAE uint16 = 0x888E

// ProtocolVersion is the EAPOL protocol version emitted on transmit
// (IEEE Std 802.1X-2004 Section 7.5.5: version 2). Any version is
// accepted on receive; the last received version is recorded per port.
const ProtocolVersion uint8 = 2

// EapolHeaderSize is the EAPOL MPDU header size in bytes: Protocol
// Version (1) + Packet Type (1) + Packet Body Length (2)
// (IEEE Std 802.1X-2004 Section 7.5.3).
const EapolHeaderSize = 4

// MaxFrameSize bounds a full EAPOL frame body handled by the engine.
// Per-port rx/tx buffers are sized to the Ethernet MTU.
const MaxFrameSize = 1500

// PAEGroupAddress is the PAE group destination MAC address
// (IEEE Std 802.1X-2004 Section 7.8, Table 7-1: 01-80-C2-00-00-03).
var PAEGroupAddress = MACAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x03}

// MACAddr is a 48-bit IEEE MAC address.
type MACAddr [6]byte

// String returns the lowercase colon-separated representation.
func (a MACAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		a[0], a[1], a[2], a[3], a[4], a[5])
}

// DashString returns the lowercase dash-separated representation used by
// the RADIUS Called-Station-Id and Calling-Station-Id attributes
// (RFC 3580 Section 3.20/3.21).
func (a MACAddr) DashString() string {
	return fmt.Sprintf("%02x-%02x-%02x-%02x-%02x-%02x",
		a[0], a[1], a[2], a[3], a[4], a[5])
}

// -------------------------------------------------------------------------
// EAPOL Packet Types — IEEE Std 802.1X-2004 Section 7.5.4, Table 7-2
// -------------------------------------------------------------------------

// PacketType identifies the EAPOL packet type (IEEE Std 802.1X-2004
// Section 7.5.4).
type PacketType uint8

const (
	// TypeEAPPacket carries an encapsulated EAP packet (value 0).
	TypeEAPPacket PacketType = 0

	// TypeStart is an EAPOL-Start frame from a Supplicant (value 1).
	TypeStart PacketType = 1

	// TypeLogoff is an EAPOL-Logoff frame from a Supplicant (value 2).
	TypeLogoff PacketType = 2

	// TypeKey is an EAPOL-Key frame (value 3). Counted and discarded;
	// the key machine is not part of this engine.
	TypeKey PacketType = 3

	// TypeASFAlert is an EAPOL-Encapsulated-ASF-Alert frame (value 4).
	// Counted and discarded.
	TypeASFAlert PacketType = 4
)

// packetTypeNames maps packet type values to human-readable strings.
var packetTypeNames = [5]string{
	"EAP-Packet",
	"EAPOL-Start",
	"EAPOL-Logoff",
	"EAPOL-Key",
	"EAPOL-Encapsulated-ASF-Alert",
}

// String returns the human-readable name for the packet type.
func (t PacketType) String() string {
	if int(t) < len(packetTypeNames) {
		return packetTypeNames[t]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

// Sentinel errors for EAPOL frame validation failures. All of them are
// consumed internally: a malformed frame is counted and dropped, never
// surfaced to a caller of the engine.
var (
	// ErrFrameTooShort indicates the frame is shorter than the Ethernet
	// header plus the EAPOL MPDU header.
	ErrFrameTooShort = errors.New("EAPOL frame too short")

	// ErrNotPAEGroupAddress indicates the destination MAC is not the PAE
	// group address (IEEE Std 802.1X-2004 Section 7.8).
	ErrNotPAEGroupAddress = errors.New("destination is not the PAE group address")

	// ErrWrongEtherType indicates the EtherType is not 88-8E.
	ErrWrongEtherType = errors.New("EtherType is not PAE (0x888E)")

	// ErrBodyTruncated indicates the frame payload is shorter than the
	// declared Packet Body Length (counted as eapLengthErrorFramesRx).
	ErrBodyTruncated = errors.New("EAPOL body shorter than packet body length")

	// ErrBufTooSmall indicates the caller-provided buffer cannot hold
	// the encoded frame.
	ErrBufTooSmall = errors.New("buffer too small for EAPOL frame")
)

// -------------------------------------------------------------------------
// EapolPDU
// -------------------------------------------------------------------------

// EapolPDU is a decoded EAPOL MPDU (IEEE Std 802.1X-2004 Section 7.5).
//
// Body references the receive buffer after UnmarshalFrame (zero-copy);
// the FSMs copy it into the per-port working buffers before the next
// frame is read.
type EapolPDU struct {
	// Version is the received protocol version. Recorded per port as
	// lastEapolFrameVersion; never a reason to discard (Section 7.5.5).
	Version uint8

	// Type is the EAPOL packet type.
	Type PacketType

	// Body is the packet body, exactly Packet Body Length octets.
	// Trailing octets beyond the declared length are ignored
	// (Section 7.5.6).
	Body []byte
}

// -------------------------------------------------------------------------
// MarshalFrame / UnmarshalFrame
// -------------------------------------------------------------------------

// MarshalFrame serializes a full Ethernet frame carrying an EAPOL MPDU
// into buf and returns the number of bytes written.
//
// The destination is always the PAE group address; src is the per-port
// source address (see PortSourceAddr). The EtherType is 88-8E. Layout:
//
//	Bytes 0-5:   destination MAC (01-80-C2-00-00-03)
//	Bytes 6-11:  source MAC
//	Bytes 12-13: EtherType (0x888E, big-endian)
//	Byte  14:    protocol version (2)
//	Byte  15:    packet type
//	Bytes 16-17: packet body length (big-endian)
//	Bytes 18+:   packet body
func MarshalFrame(buf []byte, src MACAddr, typ PacketType, body []byte) (int, error) {
	total := 14 + EapolHeaderSize + len(body)
	if len(buf) < total {
		return 0, fmt.Errorf("marshal EAPOL frame: need %d bytes, got %d: %w",
			total, len(buf), ErrBufTooSmall)
	}

	copy(buf[0:6], PAEGroupAddress[:])
	copy(buf[6:12], src[:])
	binary.BigEndian.PutUint16(buf[12:14], EtherTypePAE)

	buf[14] = ProtocolVersion
	buf[15] = uint8(typ)
	binary.BigEndian.PutUint16(buf[16:18], uint16(len(body)))
	copy(buf[18:], body)

	return total, nil
}

// UnmarshalFrame decodes an Ethernet frame into an EapolPDU.
//
// Validation order (IEEE Std 802.1X-2004 Section 7.5.7):
//  1. The frame must carry at least the Ethernet + EAPOL headers.
//  2. The destination MAC must equal the PAE group address.
//  3. The EtherType must be 88-8E.
//  4. The payload must be at least Packet Body Length octets; a shorter
//     payload is a length error (eapLengthErrorFramesRx).
//
// Octets beyond Packet Body Length are ignored. The returned Body
// aliases frame; callers copy before reusing the buffer.
func UnmarshalFrame(frame []byte, pdu *EapolPDU) error {
	if len(frame) < 14+EapolHeaderSize {
		return fmt.Errorf("unmarshal EAPOL frame: %d bytes: %w", len(frame), ErrFrameTooShort)
	}

	var dst MACAddr
	copy(dst[:], frame[0:6])
	if dst != PAEGroupAddress {
		return fmt.Errorf("unmarshal EAPOL frame: dst %s: %w", dst, ErrNotPAEGroupAddress)
	}

	if et := binary.BigEndian.Uint16(frame[12:14]); et != EtherTypePAE {
		return fmt.Errorf("unmarshal EAPOL frame: ethertype 0x%04x: %w", et, ErrWrongEtherType)
	}

	pdu.Version = frame[14]
	pdu.Type = PacketType(frame[15])

	bodyLen := int(binary.BigEndian.Uint16(frame[16:18]))
	payload := frame[14+EapolHeaderSize:]
	if len(payload) < bodyLen {
		return fmt.Errorf("unmarshal EAPOL frame: body %d < declared %d: %w",
			len(payload), bodyLen, ErrBodyTruncated)
	}
	pdu.Body = payload[:bodyLen]

	return nil
}

// PortSourceAddr derives the per-port source MAC from the interface base
// address by adding the 1-based port index to the low octet, propagating
// the carry upward. A switch with base address ...:00:fe and three ports
// sources frames from ...:00:ff, ...:01:00 and ...:01:01.
func PortSourceAddr(base MACAddr, portIndex int) MACAddr {
	addr := base
	carry := uint16(portIndex)
	for i := 5; i >= 0 && carry != 0; i-- {
		sum := uint16(addr[i]) + (carry & 0xFF)
		addr[i] = byte(sum)
		carry = (carry >> 8) + (sum >> 8)
	}
	return addr
}
