package netio

import (
	"errors"
	"net"

	"github.com/dantte-lp/godot1x/internal/dot1x"
)

// -------------------------------------------------------------------------
// EAPOL endpoint constants
// -------------------------------------------------------------------------

// EtherTypePAE is the PAE EtherType in host representation; the Linux
// endpoint converts it to network byte order for bind().
const EtherTypePAE = 0x888E

// maxFrameRead bounds a single frame read. EAPOL never exceeds the
// Ethernet MTU.
const maxFrameRead = 1518

// Sentinel errors for endpoint construction.
var (
	// ErrNoInterfaces indicates an endpoint with no interfaces.
	ErrNoInterfaces = errors.New("no interfaces configured")

	// ErrInterfaceNotFound indicates a nonexistent interface name.
	ErrInterfaceNotFound = errors.New("interface not found")

	// ErrClosed indicates a read on a closed endpoint.
	ErrClosed = errors.New("endpoint closed")
)

// InterfaceMAC returns the hardware address of a named interface as the
// engine's MAC type.
func InterfaceMAC(name string) (dot1x.MACAddr, error) {
	var mac dot1x.MACAddr
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return mac, errors.Join(ErrInterfaceNotFound, err)
	}
	copy(mac[:], ifc.HardwareAddr)
	return mac, nil
}
