package dot1xmetrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	dot1xmetrics "github.com/dantte-lp/godot1x/internal/metrics"
)

// TestCollectorRegisters verifies that every metric registers under the
// godot1x_port_ prefix and double registration panics are avoided by
// using a fresh registry.
func TestCollectorRegisters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := dot1xmetrics.NewCollector(reg)

	c.PortStatus(1, true)
	c.FrameRx(1, "EAPOL-Start")
	c.FrameTx(1, "EAP-Packet")
	c.FrameDropped(1, "invalid")
	c.StateTransition(1, "pae", "CONNECTING", "AUTHENTICATING")
	c.RadiusRequest(1)
	c.RadiusRetransmit(1)
	c.AuthResult(1, "success")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 8 {
		t.Errorf("metric families = %d, want 8", len(families))
	}
	for _, fam := range families {
		if !strings.HasPrefix(fam.GetName(), "godot1x_port_") {
			t.Errorf("metric %q lacks the godot1x_port_ prefix", fam.GetName())
		}
	}
}

// TestAuthorizedGauge verifies the controlled-port status gauge moves
// with the reported status.
func TestAuthorizedGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := dot1xmetrics.NewCollector(reg)

	c.PortStatus(2, true)
	if got := testutil.ToFloat64(c.Authorized.WithLabelValues("2")); got != 1 {
		t.Errorf("authorized = %v, want 1", got)
	}
	c.PortStatus(2, false)
	if got := testutil.ToFloat64(c.Authorized.WithLabelValues("2")); got != 0 {
		t.Errorf("authorized = %v, want 0", got)
	}
}

// TestCounterIncrements verifies counter labeling.
func TestCounterIncrements(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := dot1xmetrics.NewCollector(reg)

	c.FrameRx(1, "EAPOL-Start")
	c.FrameRx(1, "EAPOL-Start")
	c.FrameRx(1, "EAP-Packet")

	if got := testutil.ToFloat64(c.FramesRx.WithLabelValues("1", "EAPOL-Start")); got != 2 {
		t.Errorf("start frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.FramesRx.WithLabelValues("1", "EAP-Packet")); got != 1 {
		t.Errorf("eap frames = %v, want 1", got)
	}
}
