// Package aaa implements the RADIUS side of the authenticator: the
// Access-Request builder, the reply verifier, and the attribute
// conventions of RFC 2865, RFC 2869 Section 5.14 and RFC 3579.
//
// The attribute dictionary and packet framing come from layeh.com/radius;
// the Message-Authenticator HMAC-MD5 and the Response Authenticator
// check are computed explicitly because they must be bit-exact over the
// final wire image.
package aaa

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2869"
	"layeh.com/radius/rfc3162"
)

// -------------------------------------------------------------------------
// Constants — RFC 2865, RFC 3580
// -------------------------------------------------------------------------

const (
	// headerSize is the RADIUS packet header: Code (1) + Identifier (1)
	// + Length (2) + Authenticator (16) (RFC 2865 Section 3).
	headerSize = 20

	// maxAttrValueLen is the maximum attribute value length
	// (RFC 2865 Section 5: length octet covers type+length+value ≤ 255).
	maxAttrValueLen = 253

	// maxPacketLen bounds a RADIUS packet handled by the engine.
	maxPacketLen = 1500

	// maxStateLen bounds the copied State attribute value.
	maxStateLen = 64

	// MaxSecretLen bounds the shared secret.
	MaxSecretLen = 64

	// serviceTypeFramed is Service-Type Framed (RFC 2865 Section 5.6).
	serviceTypeFramed = 2

	// nasPortTypeEthernet is NAS-Port-Type Ethernet (RFC 3580
	// Section 3.26: value 15).
	nasPortTypeEthernet = 15

	// digestSize is the MD5 / HMAC-MD5 digest length.
	digestSize = 16
)

// DefaultServerPort is the RADIUS authentication UDP port
// (RFC 2865 Section 3).
const DefaultServerPort = 1812

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

// Sentinel errors for reply verification. Every one of them results in
// a silent discard upstream; they exist so tests and debug logs can
// tell the discard reasons apart.
var (
	// ErrShortPacket indicates fewer than 20 octets.
	ErrShortPacket = errors.New("RADIUS packet shorter than header")

	// ErrLengthMismatch indicates the declared length exceeds the
	// received datagram (RFC 2865 Section 3: silently discard).
	ErrLengthMismatch = errors.New("RADIUS length exceeds datagram")

	// ErrUnexpectedCode indicates a code other than Access-Accept,
	// Access-Reject or Access-Challenge.
	ErrUnexpectedCode = errors.New("unexpected RADIUS code")

	// ErrBadResponseAuth indicates a Response Authenticator mismatch
	// (RFC 2865 Section 3).
	ErrBadResponseAuth = errors.New("response authenticator mismatch")

	// ErrNoMessageAuthenticator indicates a reply without the
	// Message-Authenticator required for EAP (RFC 3579 Section 3.2).
	ErrNoMessageAuthenticator = errors.New("missing Message-Authenticator")

	// ErrBadMessageAuthenticator indicates an HMAC-MD5 mismatch.
	ErrBadMessageAuthenticator = errors.New("Message-Authenticator mismatch")

	// ErrNoEAPMessage indicates the concatenated EAP-Message attributes
	// are shorter than an EAP header.
	ErrNoEAPMessage = errors.New("EAP-Message shorter than EAP header")

	// ErrStateTooLong indicates a State attribute beyond the engine's
	// copy limit.
	ErrStateTooLong = errors.New("State attribute too long")

	// ErrIdentityTooLong indicates an over-long User-Name.
	ErrIdentityTooLong = errors.New("identity too long")
)

// -------------------------------------------------------------------------
// RequestParams — Access-Request construction input
// -------------------------------------------------------------------------

// RequestParams carries everything needed to build one Access-Request.
type RequestParams struct {
	// Secret is the shared secret (≤ 64 octets).
	Secret []byte

	// ID is the RADIUS identifier chosen by the context-wide allocator.
	ID uint8

	// Authenticator is the 16-octet random Request Authenticator. The
	// caller stores it for reply verification and byte-identical
	// retransmission.
	Authenticator [16]byte

	// Identity is the User-Name value (the EAP identity).
	Identity string

	// EAPMessage is the peer's full EAP Response; it is split across
	// EAP-Message attributes of at most 253 octets each, in order
	// (RFC 3579 Section 3.1).
	EAPMessage []byte

	// State is the opaque State from the previous Access-Challenge,
	// echoed verbatim when non-empty (RFC 2865 Section 5.24).
	State []byte

	// NASAddr selects NAS-IP-Address or NAS-IPv6-Address by family.
	NASAddr netip.Addr

	// NASPort is the 1-based port index.
	NASPort int

	// NASPortID is "<if_name>_<port>" (RFC 2869 Section 5.17).
	NASPortID string

	// CalledStationID is the bridge MAC, lowercase with dashes
	// (RFC 3580 Section 3.20).
	CalledStationID string

	// CallingStationID is the supplicant MAC, same format
	// (RFC 3580 Section 3.21).
	CallingStationID string

	// FramedMTU is the EAP fragment budget advertised to the server
	// (RFC 3579 Section 2.4).
	FramedMTU int
}

// BuildAccessRequest encodes a complete, signed Access-Request.
//
// Attribute order: User-Name, Service-Type, Framed-MTU,
// NAS-IP-Address/NAS-IPv6-Address, NAS-Port, NAS-Port-Type, NAS-Port-Id,
// Called-Station-Id, Calling-Station-Id, State (if any), EAP-Message(s),
// Message-Authenticator. The Message-Authenticator value is zero during
// the HMAC-MD5 computation and overwritten in the final image
// (RFC 2869 Section 5.14).
func BuildAccessRequest(p RequestParams) ([]byte, error) {
	if len(p.Secret) == 0 || len(p.Secret) > MaxSecretLen {
		return nil, fmt.Errorf("build access-request: secret length %d: %w",
			len(p.Secret), ErrLengthMismatch)
	}

	pkt := radius.New(radius.CodeAccessRequest, p.Secret)
	pkt.Identifier = p.ID
	copy(pkt.Authenticator[:], p.Authenticator[:])

	pkt.Attributes.Add(rfc2865.UserName_Type, radius.Attribute(p.Identity))
	pkt.Attributes.Add(rfc2865.ServiceType_Type, radius.NewInteger(serviceTypeFramed))
	pkt.Attributes.Add(rfc2865.FramedMTU_Type, radius.NewInteger(uint32(p.FramedMTU)))

	if err := addNASAddr(pkt, p.NASAddr); err != nil {
		return nil, err
	}

	pkt.Attributes.Add(rfc2865.NASPort_Type, radius.NewInteger(uint32(p.NASPort)))
	pkt.Attributes.Add(rfc2865.NASPortType_Type, radius.NewInteger(nasPortTypeEthernet))
	pkt.Attributes.Add(rfc2869.NASPortID_Type, radius.Attribute(p.NASPortID))
	pkt.Attributes.Add(rfc2865.CalledStationID_Type, radius.Attribute(p.CalledStationID))
	pkt.Attributes.Add(rfc2865.CallingStationID_Type, radius.Attribute(p.CallingStationID))

	if len(p.State) > 0 {
		pkt.Attributes.Add(rfc2865.State_Type, radius.Attribute(p.State))
	}

	for off := 0; off < len(p.EAPMessage); off += maxAttrValueLen {
		end := off + maxAttrValueLen
		if end > len(p.EAPMessage) {
			end = len(p.EAPMessage)
		}
		pkt.Attributes.Add(rfc2869.EAPMessage_Type, radius.Attribute(p.EAPMessage[off:end]))
	}

	pkt.Attributes.Add(rfc2869.MessageAuthenticator_Type,
		radius.Attribute(make([]byte, digestSize)))

	wire, err := pkt.Encode()
	if err != nil {
		return nil, fmt.Errorf("build access-request: %w", err)
	}

	// Sign: HMAC-MD5 over the final image with the Message-Authenticator
	// value zero-filled (it already is), then splice the digest in.
	maOff, ok := findAttr(wire, uint8(rfc2869.MessageAuthenticator_Type))
	if !ok {
		return nil, fmt.Errorf("build access-request: %w", ErrNoMessageAuthenticator)
	}
	mac := hmac.New(md5.New, p.Secret)
	mac.Write(wire)
	copy(wire[maOff+2:maOff+2+digestSize], mac.Sum(nil))

	return wire, nil
}

// addNASAddr appends NAS-IP-Address or NAS-IPv6-Address depending on
// the source address family (RFC 3162 Section 2.1).
func addNASAddr(pkt *radius.Packet, addr netip.Addr) error {
	if !addr.IsValid() {
		return nil
	}
	if addr.Is4() {
		a, err := radius.NewIPAddr(net.IP(addr.AsSlice()))
		if err != nil {
			return fmt.Errorf("build access-request: NAS-IP-Address: %w", err)
		}
		pkt.Attributes.Add(rfc2865.NASIPAddress_Type, a)
		return nil
	}
	a, err := radius.NewIPv6Addr(net.IP(addr.AsSlice()))
	if err != nil {
		return fmt.Errorf("build access-request: NAS-IPv6-Address: %w", err)
	}
	pkt.Attributes.Add(rfc3162.NASIPv6Address_Type, a)
	return nil
}

// -------------------------------------------------------------------------
// Reply verification — RFC 2865 Section 3, RFC 3579 Section 3.2
// -------------------------------------------------------------------------

// Reply is a verified Access-Accept/Reject/Challenge.
type Reply struct {
	// Code is the RADIUS code.
	Code radius.Code

	// Identifier matches the Access-Request.
	Identifier uint8

	// State is the State attribute value (≤ 64 octets), nil if absent.
	State []byte

	// EAPMessage is the concatenation of every EAP-Message attribute in
	// order; always at least an EAP header long.
	EAPMessage []byte

	// SessionTimeout is the Session-Timeout hint in seconds, zero if
	// absent (RFC 3579 Section 2.6.4: retransmission hint on a
	// Challenge).
	SessionTimeout uint32
}

// VerifyReply validates a RADIUS reply datagram against the outstanding
// request's Authenticator and shared secret, and extracts the fields the
// pass-through needs. Verification order:
//
//  1. Structural: at least 20 octets, declared length within the
//     datagram (trailing octets are ignored per RFC 2865 Section 3).
//  2. Code must be Access-Accept, Access-Reject or Access-Challenge.
//  3. Response Authenticator: MD5(Code || ID || Length || RequestAuth
//     || Attributes || Secret) must equal the received authenticator.
//  4. Message-Authenticator must be present and verify under HMAC-MD5
//     with its value zeroed and the Request Authenticator in the
//     authenticator field (RFC 3579 Section 3.2).
//  5. The concatenated EAP-Message must hold at least an EAP header.
//
// The identifier-to-port match is the caller's job; this function only
// checks and extracts.
func VerifyReply(raw []byte, reqAuth [16]byte, secret []byte) (Reply, error) {
	var rep Reply

	if len(raw) < headerSize {
		return rep, fmt.Errorf("verify reply: %d bytes: %w", len(raw), ErrShortPacket)
	}
	declared := int(binary.BigEndian.Uint16(raw[2:4]))
	if declared < headerSize || declared > len(raw) || declared > maxPacketLen {
		return rep, fmt.Errorf("verify reply: declared %d of %d: %w",
			declared, len(raw), ErrLengthMismatch)
	}
	raw = raw[:declared]

	rep.Code = radius.Code(raw[0])
	rep.Identifier = raw[1]
	switch rep.Code {
	case radius.CodeAccessAccept, radius.CodeAccessReject, radius.CodeAccessChallenge:
	default:
		return rep, fmt.Errorf("verify reply: code %d: %w", raw[0], ErrUnexpectedCode)
	}

	// Response Authenticator (RFC 2865 Section 3).
	sum := md5.New()
	sum.Write(raw[0:4])
	sum.Write(reqAuth[:])
	sum.Write(raw[headerSize:])
	sum.Write(secret)
	if !hmac.Equal(sum.Sum(nil), raw[4:headerSize]) {
		return rep, ErrBadResponseAuth
	}

	// Message-Authenticator (RFC 3579 Section 3.2).
	maOff, ok := findAttr(raw, uint8(rfc2869.MessageAuthenticator_Type))
	if !ok {
		return rep, ErrNoMessageAuthenticator
	}
	scratch := make([]byte, len(raw))
	copy(scratch, raw)
	copy(scratch[4:headerSize], reqAuth[:])
	received := make([]byte, digestSize)
	copy(received, scratch[maOff+2:maOff+2+digestSize])
	for i := 0; i < digestSize; i++ {
		scratch[maOff+2+i] = 0
	}
	mac := hmac.New(md5.New, secret)
	mac.Write(scratch)
	if !hmac.Equal(mac.Sum(nil), received) {
		return rep, ErrBadMessageAuthenticator
	}

	// Attribute extraction via the dictionary walk.
	pkt, err := radius.Parse(raw, secret)
	if err != nil {
		return rep, fmt.Errorf("verify reply: %w", err)
	}
	for _, avp := range pkt.Attributes {
		switch avp.Type {
		case rfc2865.State_Type:
			if len(avp.Attribute) > maxStateLen {
				return rep, fmt.Errorf("verify reply: state %d octets: %w",
					len(avp.Attribute), ErrStateTooLong)
			}
			rep.State = append([]byte(nil), avp.Attribute...)
		case rfc2869.EAPMessage_Type:
			rep.EAPMessage = append(rep.EAPMessage, avp.Attribute...)
		case rfc2865.SessionTimeout_Type:
			if v, err := radius.Integer(avp.Attribute); err == nil {
				rep.SessionTimeout = v
			}
		}
	}

	if len(rep.EAPMessage) < 4 {
		return rep, fmt.Errorf("verify reply: %d EAP octets: %w",
			len(rep.EAPMessage), ErrNoEAPMessage)
	}

	return rep, nil
}

// findAttr walks the TLV space of a RADIUS packet image and returns the
// byte offset of the first attribute with the given type.
func findAttr(wire []byte, typ uint8) (int, bool) {
	off := headerSize
	for off+2 <= len(wire) {
		alen := int(wire[off+1])
		if alen < 2 || off+alen > len(wire) {
			return 0, false
		}
		if wire[off] == typ {
			if alen != 2+digestSize && typ == uint8(rfc2869.MessageAuthenticator_Type) {
				return 0, false
			}
			return off, true
		}
		off += alen
	}
	return 0, false
}
