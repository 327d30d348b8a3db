package netio_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/godot1x/internal/netio"
)

// TestRadiusConnLoopback verifies datagram delivery and sender metadata
// over the loopback.
func TestRadiusConnLoopback(t *testing.T) {
	t.Parallel()

	a, err := netio.NewRadiusConn(netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("NewRadiusConn a: %v", err)
	}
	defer a.Close()

	b, err := netio.NewRadiusConn(netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("NewRadiusConn b: %v", err)
	}
	defer b.Close()

	payload := []byte{1, 42, 0, 20, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if err := a.WritePacket(payload, b.LocalAddr()); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := b.ReadPacket(ctx)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if len(d.Data) != len(payload) {
		t.Errorf("payload length = %d, want %d", len(d.Data), len(payload))
	}
	if d.From.Port() != a.LocalAddr().Port() {
		t.Errorf("sender port = %d, want %d", d.From.Port(), a.LocalAddr().Port())
	}
}

// TestRadiusConnClose verifies that Close unblocks readers and is
// idempotent.
func TestRadiusConnClose(t *testing.T) {
	t.Parallel()

	c, err := netio.NewRadiusConn(netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("NewRadiusConn: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.ReadPacket(context.Background())
		done <- err
	}()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, netio.ErrClosed) {
			t.Errorf("ReadPacket after Close = %v, want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not unblock on Close")
	}

	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// TestInterfaceMACUnknown verifies the error for a nonexistent
// interface.
func TestInterfaceMACUnknown(t *testing.T) {
	t.Parallel()

	if _, err := netio.InterfaceMAC("does-not-exist0"); !errors.Is(err, netio.ErrInterfaceNotFound) {
		t.Errorf("InterfaceMAC = %v, want ErrInterfaceNotFound", err)
	}
}
