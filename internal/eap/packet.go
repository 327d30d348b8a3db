// Package eap implements the EAP state machines of RFC 4137 — the peer
// and the full (stand-alone + pass-through) authenticator — together
// with the EAP packet codec (RFC 3748 Section 4) and the Identity,
// MD5-Challenge and EAP-TLS methods used by the 802.1X engine.
package eap

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// EAP Codes — RFC 3748 Section 4
// -------------------------------------------------------------------------

// Code is the EAP packet code (RFC 3748 Section 4: 1 octet).
type Code uint8

const (
	// CodeRequest is an EAP Request (value 1).
	CodeRequest Code = 1

	// CodeResponse is an EAP Response (value 2).
	CodeResponse Code = 2

	// CodeSuccess is an EAP Success (value 3).
	CodeSuccess Code = 3

	// CodeFailure is an EAP Failure (value 4).
	CodeFailure Code = 4
)

// codeNames maps EAP codes to human-readable strings.
var codeNames = [5]string{"", "Request", "Response", "Success", "Failure"}

// String returns the human-readable name for the EAP code.
func (c Code) String() string {
	if c >= 1 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(c))
}

// -------------------------------------------------------------------------
// EAP Method Types — RFC 3748 Section 5
// -------------------------------------------------------------------------

// MethodType is the EAP method type (RFC 3748 Section 5: 1 octet leading
// the Request/Response Type-Data).
type MethodType uint8

const (
	// MethodNone is the sentinel for "no method selected".
	MethodNone MethodType = 0

	// MethodIdentity is the Identity method (RFC 3748 Section 5.1).
	MethodIdentity MethodType = 1

	// MethodNotification is the Notification method (RFC 3748 Section 5.2).
	MethodNotification MethodType = 2

	// MethodNak is the Legacy Nak (RFC 3748 Section 5.3.1, Response only).
	MethodNak MethodType = 3

	// MethodMD5Challenge is the MD5-Challenge method (RFC 3748 Section 5.4).
	MethodMD5Challenge MethodType = 4

	// MethodTLS is EAP-TLS (RFC 5216).
	MethodTLS MethodType = 13

	// MethodExpandedNak is the Expanded Nak (RFC 3748 Section 5.3.2).
	MethodExpandedNak MethodType = 254
)

// String returns the human-readable name for the method type.
func (m MethodType) String() string {
	switch m {
	case MethodNone:
		return "None"
	case MethodIdentity:
		return "Identity"
	case MethodNotification:
		return "Notification"
	case MethodNak:
		return "Nak"
	case MethodMD5Challenge:
		return "MD5-Challenge"
	case MethodTLS:
		return "TLS"
	case MethodExpandedNak:
		return "ExpandedNak"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(m))
	}
}

// -------------------------------------------------------------------------
// Packet Layout — RFC 3748 Section 4.1
// -------------------------------------------------------------------------

// HeaderSize is the EAP packet header size: Code (1) + Identifier (1) +
// Length (2, includes the header).
const HeaderSize = 4

// NoID is the identifier sentinel distinct from every 8-bit value
// (RFC 4137: lastId/currentId "NONE"). It cannot be a uint8 because 0
// is a valid identifier.
const NoID = -1

// NextID advances an EAP identifier modulo 256. The first advance from
// NoID yields 0.
func NextID(id int) int {
	if id == NoID {
		return 0
	}
	return (id + 1) % 256
}

// Sentinel errors for EAP packet validation failures.
var (
	// ErrPacketTooShort indicates fewer than HeaderSize octets.
	ErrPacketTooShort = errors.New("EAP packet too short")

	// ErrLengthMismatch indicates the Length field exceeds the received
	// octets (RFC 3748 Section 4.1: such packets are silently discarded).
	ErrLengthMismatch = errors.New("EAP length exceeds received data")

	// ErrInvalidCode indicates a code outside 1..4.
	ErrInvalidCode = errors.New("invalid EAP code")
)

// Header is a decoded EAP packet header.
type Header struct {
	// Code is the EAP packet code.
	Code Code

	// Identifier matches Responses to Requests (RFC 3748 Section 4.1).
	Identifier uint8

	// Type is the method type for Request/Response packets; MethodNone
	// for Success/Failure.
	Type MethodType

	// TypeData is the method payload after the Type octet; aliases the
	// input buffer.
	TypeData []byte
}

// Parse decodes an EAP packet. A packet whose Length field exceeds the
// received octets is a protocol violation and the caller discards it
// silently (RFC 3748 Section 4.1). Octets beyond Length are ignored.
func Parse(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("parse EAP packet: %d bytes: %w", len(b), ErrPacketTooShort)
	}

	length := int(binary.BigEndian.Uint16(b[2:4]))
	if length < HeaderSize {
		return h, fmt.Errorf("parse EAP packet: length %d: %w", length, ErrPacketTooShort)
	}
	if length > len(b) {
		return h, fmt.Errorf("parse EAP packet: length %d > %d received: %w",
			length, len(b), ErrLengthMismatch)
	}

	h.Code = Code(b[0])
	h.Identifier = b[1]
	if h.Code != CodeRequest && h.Code != CodeResponse &&
		h.Code != CodeSuccess && h.Code != CodeFailure {
		return h, fmt.Errorf("parse EAP packet: code %d: %w", b[0], ErrInvalidCode)
	}

	if (h.Code == CodeRequest || h.Code == CodeResponse) && length > HeaderSize {
		h.Type = MethodType(b[4])
		h.TypeData = b[HeaderSize+1 : length]
	}

	return h, nil
}

// Build serializes an EAP Request or Response with the given method type
// and type data.
func Build(code Code, id uint8, typ MethodType, typeData []byte) []byte {
	length := HeaderSize + 1 + len(typeData)
	b := make([]byte, length)
	b[0] = uint8(code)
	b[1] = id
	binary.BigEndian.PutUint16(b[2:4], uint16(length))
	b[4] = uint8(typ)
	copy(b[5:], typeData)
	return b
}

// BuildSuccess serializes an EAP Success: code 3, the given identifier,
// length 4 (RFC 3748 Section 4.2).
func BuildSuccess(id uint8) []byte {
	b := make([]byte, HeaderSize)
	b[0] = uint8(CodeSuccess)
	b[1] = id
	binary.BigEndian.PutUint16(b[2:4], HeaderSize)
	return b
}

// BuildFailure serializes an EAP Failure: code 4, the given identifier,
// length 4 (RFC 3748 Section 4.2).
func BuildFailure(id uint8) []byte {
	b := make([]byte, HeaderSize)
	b[0] = uint8(CodeFailure)
	b[1] = id
	binary.BigEndian.PutUint16(b[2:4], HeaderSize)
	return b
}

// BuildNak serializes a Legacy Nak Response listing the peer's preferred
// method types. With no acceptable alternative the Type-Data is a single
// zero octet (RFC 3748 Section 5.3.1).
func BuildNak(id uint8, preferred []MethodType) []byte {
	data := make([]byte, 0, len(preferred))
	for _, m := range preferred {
		data = append(data, uint8(m))
	}
	if len(data) == 0 {
		data = []byte{0}
	}
	return Build(CodeResponse, id, MethodNak, data)
}
