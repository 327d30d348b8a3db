//go:build linux

package netio

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/godot1x/internal/dot1x"
)

// -------------------------------------------------------------------------
// LinuxEAPOLConn — AF_PACKET endpoint for EAPOL
// -------------------------------------------------------------------------

// LinuxEAPOLConn implements dot1x.L2Endpoint with one AF_PACKET socket
// per controlled port. Each port maps to one network interface; the
// 1-based port index is the position in the configured interface list.
//
// Socket configuration per port:
//  1. AF_PACKET, SOCK_RAW, protocol ETH_P_PAE (0x888E) so the kernel
//     filters on the EtherType.
//  2. bind() to the interface index.
//  3. PACKET_ADD_MEMBERSHIP with PACKET_MR_MULTICAST for the PAE group
//     address 01-80-C2-00-00-03 — link-local multicast is not received
//     without explicit membership (IEEE Std 802.1X-2004 Section 7.8).
type LinuxEAPOLConn struct {
	ports []*eapolPort

	mu     sync.Mutex
	closed bool

	// frames fans every socket's reads into one channel for ReadFrame.
	frames chan dot1x.EapolFrame
	done   chan struct{}
}

// eapolPort is one AF_PACKET socket bound to one interface.
type eapolPort struct {
	fd      int
	ifName  string
	ifIndex int
}

// htons converts a 16-bit value to network byte order for socket(2)
// and bind(2) protocol fields.
func htons(v uint16) uint16 { return v<<8 | v>>8 }

// NewLinuxEAPOLConn opens one AF_PACKET socket per interface, in port
// order.
func NewLinuxEAPOLConn(ifNames []string) (*LinuxEAPOLConn, error) {
	if len(ifNames) == 0 {
		return nil, fmt.Errorf("new EAPOL endpoint: %w", ErrNoInterfaces)
	}

	c := &LinuxEAPOLConn{
		frames: make(chan dot1x.EapolFrame, 32),
		done:   make(chan struct{}),
	}

	for _, name := range ifNames {
		p, err := openEapolPort(name)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.ports = append(c.ports, p)
	}

	for i, p := range c.ports {
		go c.readLoop(i+1, p)
	}

	return c, nil
}

// openEapolPort opens and configures the AF_PACKET socket for one
// interface.
func openEapolPort(name string) (*eapolPort, error) {
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("open EAPOL port %q: %w", name, ErrInterfaceNotFound)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC,
		int(htons(EtherTypePAE)))
	if err != nil {
		return nil, fmt.Errorf("open EAPOL port %q: socket: %w", name, err)
	}

	sll := &unix.SockaddrLinklayer{
		Protocol: htons(EtherTypePAE),
		Ifindex:  ifc.Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("open EAPOL port %q: bind: %w", name, err)
	}

	// Join the PAE group address so the NIC delivers it.
	group := dot1x.PAEGroupAddress
	mreq := &unix.PacketMreq{
		Ifindex: int32(ifc.Index),
		Type:    unix.PACKET_MR_MULTICAST,
		Alen:    6,
	}
	copy(mreq.Address[:], group[:])
	if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET,
		unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("open EAPOL port %q: group membership: %w", name, err)
	}

	return &eapolPort{fd: fd, ifName: name, ifIndex: ifc.Index}, nil
}

// readLoop pumps frames from one socket into the shared channel until
// the endpoint closes.
func (c *LinuxEAPOLConn) readLoop(port int, p *eapolPort) {
	buf := make([]byte, maxFrameRead)
	for {
		n, _, err := unix.Recvfrom(p.fd, buf, 0)
		if err != nil {
			// EBADF after Close, EINTR on signals.
			if err == unix.EINTR {
				continue
			}
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case c.frames <- dot1x.EapolFrame{Port: port, Data: frame}:
		case <-c.done:
			return
		}
	}
}

// ReadFrame blocks until a frame arrives on any port or ctx is
// cancelled.
func (c *LinuxEAPOLConn) ReadFrame(ctx context.Context) (dot1x.EapolFrame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		return dot1x.EapolFrame{}, ErrClosed
	case <-ctx.Done():
		return dot1x.EapolFrame{}, ctx.Err()
	}
}

// WriteFrame transmits a full Ethernet frame on the given port.
func (c *LinuxEAPOLConn) WriteFrame(port int, frame []byte) error {
	p, err := c.portByIndex(port)
	if err != nil {
		return err
	}

	sll := &unix.SockaddrLinklayer{
		Protocol: htons(EtherTypePAE),
		Ifindex:  p.ifIndex,
		Halen:    6,
	}
	copy(sll.Addr[:6], frame[:6])

	if err := unix.Sendto(p.fd, frame, 0, sll); err != nil {
		return fmt.Errorf("write EAPOL frame on %q: %w", p.ifName, err)
	}
	return nil
}

// PortLink reports the interface's operational state (IFF_UP and
// IFF_RUNNING).
func (c *LinuxEAPOLConn) PortLink(port int) bool {
	p, err := c.portByIndex(port)
	if err != nil {
		return false
	}
	ifc, err := net.InterfaceByIndex(p.ifIndex)
	if err != nil {
		return false
	}
	return ifc.Flags&net.FlagUp != 0 && ifc.Flags&net.FlagRunning != 0
}

// portByIndex resolves a 1-based port index.
func (c *LinuxEAPOLConn) portByIndex(port int) (*eapolPort, error) {
	if port < 1 || port > len(c.ports) {
		return nil, fmt.Errorf("port %d of %d: %w", port, len(c.ports), ErrInterfaceNotFound)
	}
	return c.ports[port-1], nil
}

// Close drops the group memberships and closes every socket. Blocked
// reads fail and their goroutines exit.
func (c *LinuxEAPOLConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var firstErr error
	for _, p := range c.ports {
		if p == nil {
			continue
		}
		group := dot1x.PAEGroupAddress
		mreq := &unix.PacketMreq{
			Ifindex: int32(p.ifIndex),
			Type:    unix.PACKET_MR_MULTICAST,
			Alen:    6,
		}
		copy(mreq.Address[:], group[:])
		// Best effort: the membership dies with the socket anyway.
		_ = unix.SetsockoptPacketMreq(p.fd, unix.SOL_PACKET,
			unix.PACKET_DROP_MEMBERSHIP, mreq)
		if err := unix.Close(p.fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close EAPOL port %q: %w", p.ifName, err)
		}
	}
	return firstErr
}

// ensure interface compliance.
var _ dot1x.L2Endpoint = (*LinuxEAPOLConn)(nil)
