package ovs

import (
	"context"
	"log/slog"
	"testing"
)

// fakeClient records quarantine updates.
type fakeClient struct {
	calls []struct {
		port        string
		quarantined bool
	}
	closed bool
}

func (f *fakeClient) SetQuarantine(_ context.Context, portName string, quarantined bool) error {
	f.calls = append(f.calls, struct {
		port        string
		quarantined bool
	}{portName, quarantined})
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

// TestDriverMapsPortState verifies the port-index-to-name mapping and
// the forwarding/quarantine polarity.
func TestDriverMapsPortState(t *testing.T) {
	t.Parallel()

	cl := &fakeClient{}
	d := NewDriver(cl, DriverConfig{
		PortNames: []string{"swp1", "swp2"},
	}, slog.Default())

	if err := d.SetPortState(2, true); err != nil {
		t.Fatalf("SetPortState: %v", err)
	}
	if err := d.SetPortState(1, false); err != nil {
		t.Fatalf("SetPortState: %v", err)
	}

	if len(cl.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(cl.calls))
	}
	if cl.calls[0].port != "swp2" || cl.calls[0].quarantined {
		t.Errorf("call 0 = %+v, want swp2 forwarding", cl.calls[0])
	}
	if cl.calls[1].port != "swp1" || !cl.calls[1].quarantined {
		t.Errorf("call 1 = %+v, want swp1 quarantined", cl.calls[1])
	}
}

// TestDriverRejectsUnknownPort verifies the bounds check.
func TestDriverRejectsUnknownPort(t *testing.T) {
	t.Parallel()

	d := NewDriver(&fakeClient{}, DriverConfig{PortNames: []string{"swp1"}}, slog.Default())
	if err := d.SetPortState(0, true); err == nil {
		t.Error("port 0 accepted")
	}
	if err := d.SetPortState(2, true); err == nil {
		t.Error("out-of-range port accepted")
	}
}

// TestDriverDampensFlaps verifies that rapid Unauthorized flaps stop
// reaching OVSDB once suppressed.
func TestDriverDampensFlaps(t *testing.T) {
	t.Parallel()

	cl := &fakeClient{}
	cfg := DriverConfig{
		PortNames: []string{"swp1"},
		Dampening: DampeningConfig{
			Enabled:           true,
			SuppressThreshold: 3,
			ReuseThreshold:    2,
			MaxSuppressTime:   60e9,
			HalfLife:          15e9,
		},
	}
	d := NewDriver(cl, cfg, slog.Default())

	for i := 0; i < 5; i++ {
		if err := d.SetPortState(1, false); err != nil {
			t.Fatalf("SetPortState: %v", err)
		}
	}

	// The first two flaps pass; from the third on the dampener holds
	// them back.
	if len(cl.calls) != 2 {
		t.Errorf("OVSDB transactions = %d, want 2", len(cl.calls))
	}
}
