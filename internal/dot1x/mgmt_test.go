package dot1x

import (
	"errors"
	"testing"
)

// TestParameterValidation verifies the Section 9.4.1 ranges on the
// management surface.
func TestParameterValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, false, PortParams{})

	tests := []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{"quiet period in range", func() error { return h.auth.SetQuietPeriod(1, 65535, false) }, nil},
		{"quiet period too large", func() error { return h.auth.SetQuietPeriod(1, 65536, false) }, ErrWrongValue},
		{"server timeout zero", func() error { return h.auth.SetServerTimeout(1, 0, false) }, ErrWrongValue},
		{"server timeout max", func() error { return h.auth.SetServerTimeout(1, 3600, false) }, nil},
		{"server timeout too large", func() error { return h.auth.SetServerTimeout(1, 3601, false) }, ErrWrongValue},
		{"reauth period too small", func() error { return h.auth.SetReAuthPeriod(1, 9, false) }, ErrWrongValue},
		{"reauth period min", func() error { return h.auth.SetReAuthPeriod(1, 10, false) }, nil},
		{"reauth period max", func() error { return h.auth.SetReAuthPeriod(1, 86400, false) }, nil},
		{"reauth period too large", func() error { return h.auth.SetReAuthPeriod(1, 86401, false) }, ErrWrongValue},
		{"bad port", func() error { return h.auth.SetQuietPeriod(3, 10, false) }, ErrInvalidPort},
		{"port zero", func() error { return h.auth.SetQuietPeriod(0, 10, false) }, ErrInvalidPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.op()
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestValidateOnlyDoesNotCommit verifies the validate/commit split: a
// validate-only write leaves the parameter untouched.
func TestValidateOnlyDoesNotCommit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, false, PortParams{})
	before := h.port(1).Params.QuietPeriod

	if err := h.auth.SetQuietPeriod(1, 120, false); err != nil {
		t.Fatalf("validate-only: %v", err)
	}
	if h.port(1).Params.QuietPeriod != before {
		t.Error("validate-only write changed the parameter")
	}

	if err := h.auth.SetQuietPeriod(1, 120, true); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if h.port(1).Params.QuietPeriod != 120 {
		t.Error("committed write did not apply")
	}
}

// TestForceUnauthorizedCommit verifies that committing ForceUnauthorized
// takes effect on the next machine run and records the cause.
func TestForceUnauthorizedCommit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, false, PortParams{})
	h.bringUp()

	if err := h.auth.SetPortControl(1, ControlForceUnauthorized, true); err != nil {
		t.Fatalf("SetPortControl: %v", err)
	}

	p := h.port(1)
	if p.PaeState != PaeForceUnauth {
		t.Fatalf("PAE state = %v, want FORCE_UNAUTH", p.PaeState)
	}
	if p.AuthPortStatus != StatusUnauthorized {
		t.Error("port not Unauthorized under ForceUnauthorized")
	}
	if p.Stats.TerminateCause != CauseAuthControlForceUnauth {
		t.Errorf("terminate cause = %v, want AuthControlForceUnauth", p.Stats.TerminateCause)
	}
}

// TestInitializePortResets verifies the initialize control: the port
// drops to Unauthorized, the machines reinitialize, and the signal
// deasserts after one run.
func TestInitializePortResets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, true, PortParams{})
	h.bringUp()
	authenticate(t, h)

	if err := h.auth.InitializePort(1, true); err != nil {
		t.Fatalf("InitializePort: %v", err)
	}

	p := h.port(1)
	if p.Initialize {
		t.Error("initialize still asserted after the machine run")
	}
	if p.AuthPortStatus != StatusUnauthorized {
		t.Error("port still Authorized after initialize")
	}
	if p.Stats.TerminateCause != CausePortReInit {
		t.Errorf("terminate cause = %v, want PortReInit", p.Stats.TerminateCause)
	}
}

// TestReauthTimerFires verifies the reauthentication timer machine:
// with reAuthEnabled, reAuthWhen expiry restarts the conversation on an
// authorized port.
func TestReauthTimerFires(t *testing.T) {
	t.Parallel()

	params := DefaultPortParams()
	params.ReAuthEnabled = true
	params.ReAuthPeriod = 10
	h := newHarness(t, 1, true, params)
	h.bringUp()
	authenticate(t, h)

	sentBefore := len(h.l2.sent)
	h.tick(11)

	p := h.port(1)
	// The reauth kicked a new conversation: a fresh Request/Identity
	// went out.
	if len(h.l2.sent) <= sentBefore {
		t.Fatal("no frames transmitted after reAuthWhen expiry")
	}
	if p.Stats.EapolReqIDFramesTx < 2 {
		t.Errorf("eapolReqIdFramesTx = %d, want >= 2", p.Stats.EapolReqIDFramesTx)
	}
}
