package netio

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/dantte-lp/godot1x/internal/dot1x"
)

// -------------------------------------------------------------------------
// RadiusConn — UDP endpoint toward the AAA server
// -------------------------------------------------------------------------

// maxDatagramRead bounds one RADIUS datagram read (RFC 2865 Section 3:
// maximum packet length 4096; the engine caps at 1500).
const maxDatagramRead = 4096

// RadiusConn implements dot1x.AAAEndpoint over a connected-less UDP
// socket. The reply source address check belongs to the engine; the
// endpoint reports the sender verbatim.
type RadiusConn struct {
	conn *net.UDPConn

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	in     chan dot1x.RadiusDatagram
}

// NewRadiusConn binds a UDP socket for RADIUS exchanges. An invalid
// local gives an ephemeral port on the unspecified address.
func NewRadiusConn(local netip.AddrPort) (*RadiusConn, error) {
	var laddr *net.UDPAddr
	if local.IsValid() {
		laddr = net.UDPAddrFromAddrPort(local)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("new RADIUS endpoint: %w", err)
	}

	c := &RadiusConn{
		conn: conn,
		done: make(chan struct{}),
		in:   make(chan dot1x.RadiusDatagram, 16),
	}
	go c.readLoop()
	return c, nil
}

// readLoop pumps datagrams into the channel until the socket closes.
func (c *RadiusConn) readLoop() {
	buf := make([]byte, maxDatagramRead)
	for {
		n, from, err := c.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case c.in <- dot1x.RadiusDatagram{Data: data, From: from}:
		case <-c.done:
			return
		}
	}
}

// ReadPacket blocks until a datagram arrives or ctx is cancelled.
func (c *RadiusConn) ReadPacket(ctx context.Context) (dot1x.RadiusDatagram, error) {
	select {
	case d := <-c.in:
		return d, nil
	case <-c.done:
		return dot1x.RadiusDatagram{}, ErrClosed
	case <-ctx.Done():
		return dot1x.RadiusDatagram{}, ctx.Err()
	}
}

// WritePacket sends one datagram to the given server address.
func (c *RadiusConn) WritePacket(b []byte, to netip.AddrPort) error {
	if _, err := c.conn.WriteToUDPAddrPort(b, to); err != nil {
		return fmt.Errorf("write RADIUS datagram to %s: %w", to, err)
	}
	return nil
}

// LocalAddr returns the bound local address.
func (c *RadiusConn) LocalAddr() netip.AddrPort {
	return c.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Close shuts the socket; the reader goroutine exits on the read error.
func (c *RadiusConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close RADIUS endpoint: %w", err)
	}
	return nil
}

// ensure interface compliance.
var _ dot1x.AAAEndpoint = (*RadiusConn)(nil)
