package eap_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/dantte-lp/godot1x/internal/eap"
)

// runAuth steps the authenticator machine until quiescent.
func runAuth(t *testing.T, a *eap.Authenticator) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if !a.Step() {
			return
		}
	}
	t.Fatal("authenticator machine did not quiesce")
}

// newTestAuth builds an enabled full authenticator. After the initial
// run it has proposed Identity and asserted eapReq.
func newTestAuth(t *testing.T) *eap.Authenticator {
	t.Helper()
	a := eap.NewAuthenticator(eap.AuthConfig{}, slog.Default())
	a.PortEnabled = true
	runAuth(t, a)
	return a
}

// respond hands a peer Response to the machine and runs it.
func respond(t *testing.T, a *eap.Authenticator, pkt []byte) {
	t.Helper()
	a.EapRespData = pkt
	a.EapResp = true
	runAuth(t, a)
}

// TestAuthInitialIdentityRequest verifies the local half's first
// Request: Identity, identifier 0 (first advance from NONE), method
// timeout 5 s (RFC 4137 Section 6.5).
func TestAuthInitialIdentityRequest(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)

	if a.State() != eap.AuthStateIdle {
		t.Fatalf("state = %v, want IDLE", a.State())
	}
	if !a.EapReq {
		t.Fatal("eapReq not asserted")
	}
	h, err := eap.Parse(a.EapReqData)
	if err != nil {
		t.Fatalf("Parse request: %v", err)
	}
	if h.Code != eap.CodeRequest || h.Type != eap.MethodIdentity {
		t.Fatalf("request = %v/%v, want Request/Identity", h.Code, h.Type)
	}
	if h.Identifier != 0 {
		t.Errorf("identifier = %d, want 0", h.Identifier)
	}
	if a.RetransWhile != 5 {
		t.Errorf("retransWhile = %d, want the Identity default 5", a.RetransWhile)
	}
}

// TestAuthPassthroughAfterIdentity verifies that the Identity Response
// moves the machine into the pass-through half: AAA_IDLE with
// aaaEapResp asserted and the identity copied (RFC 4137 Section 7.4).
func TestAuthPassthroughAfterIdentity(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	a.EapReq = false

	respond(t, a, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, []byte("alice")))

	if a.State() != eap.AuthStateAAAIdle {
		t.Fatalf("state = %v, want AAA_IDLE", a.State())
	}
	if !a.AAAEapResp {
		t.Fatal("aaaEapResp not asserted on AAA_IDLE entry")
	}
	if a.AAAIdentity != "alice" {
		t.Errorf("aaaIdentity = %q, want alice", a.AAAIdentity)
	}
	if !bytes.Contains(a.AAAEapRespData, []byte("alice")) {
		t.Error("aaaEapRespData does not carry the Identity response")
	}
}

// TestAuthIdentityTruncation verifies the 64-octet identity bound
// (RFC 3748 Section 5.1 allows arbitrary lengths; the backend caps
// its stored copy at 64 octets).
func TestAuthIdentityTruncation(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	a.EapReq = false

	long := bytes.Repeat([]byte{'x'}, 100)
	respond(t, a, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, long))

	if len(a.AAAIdentity) != 64 {
		t.Errorf("aaaIdentity length = %d, want 64", len(a.AAAIdentity))
	}
}

// TestAuthAAARequestDelivery verifies AAA_RESPONSE: the AAA-supplied
// Request is delivered with the AAA-chosen identifier, not a locally
// advanced one (RFC 4137 Section 7.4).
func TestAuthAAARequestDelivery(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	a.EapReq = false
	respond(t, a, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, []byte("alice")))
	a.AAAEapResp = false

	// The server chose identifier 200 for its MD5 challenge.
	challenge := eap.Build(eap.CodeRequest, 200, eap.MethodMD5Challenge, []byte{4, 1, 2, 3, 4})
	a.AAAEapReqData = challenge
	a.AAAEapReq = true
	runAuth(t, a)

	if a.State() != eap.AuthStateIdle2 {
		t.Fatalf("state = %v, want IDLE2", a.State())
	}
	if !a.EapReq {
		t.Fatal("eapReq not asserted for the relayed request")
	}
	if !bytes.Equal(a.EapReqData, challenge) {
		t.Error("relayed request differs from the AAA packet")
	}
	if a.CurrentID() != 200 {
		t.Errorf("currentId = %d, want the AAA-chosen 200", a.CurrentID())
	}
}

// TestAuthRetransmitReusesBytes verifies the retransmission discipline:
// same identifier, same bytes, bounded by maxRetrans, then
// TIMEOUT_FAILURE (RFC 3748 Section 4.1, RFC 4137 Section 6.5).
func TestAuthRetransmitReusesBytes(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	first := append([]byte(nil), a.EapReqData...)
	a.EapReq = false

	for i := 0; i < 4; i++ {
		// Expire the retransmission timer.
		for a.RetransWhile > 0 {
			a.Tick()
		}
		runAuth(t, a)
		if !a.EapReq {
			t.Fatalf("retransmit %d: eapReq not asserted", i+1)
		}
		if !bytes.Equal(a.EapReqData, first) {
			t.Fatalf("retransmit %d changed the request bytes", i+1)
		}
		a.EapReq = false
	}

	// The fifth expiry exceeds maxRetrans.
	for a.RetransWhile > 0 {
		a.Tick()
	}
	runAuth(t, a)
	if a.State() != eap.AuthStateTimeoutFailure {
		t.Fatalf("state = %v, want TIMEOUT_FAILURE", a.State())
	}
	if !a.EapTimeout {
		t.Error("eapTimeout not asserted")
	}
}

// TestAuthAAAVerdicts verifies the AAA_IDLE exits for Success, Failure
// and timeout (RFC 4137 Section 7.4).
func TestAuthAAAVerdicts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		set       func(a *eap.Authenticator)
		wantState eap.AuthState
		check     func(t *testing.T, a *eap.Authenticator)
	}{
		{
			name: "aaaSuccess -> SUCCESS2",
			set: func(a *eap.Authenticator) {
				a.AAAEapReqData = eap.BuildSuccess(1)
				a.AAASuccess = true
			},
			wantState: eap.AuthStateSuccess2,
			check: func(t *testing.T, a *eap.Authenticator) {
				if !a.EapSuccess {
					t.Error("eapSuccess not asserted")
				}
			},
		},
		{
			name: "aaaFail -> FAILURE2",
			set: func(a *eap.Authenticator) {
				a.AAAEapReqData = eap.BuildFailure(1)
				a.AAAFail = true
			},
			wantState: eap.AuthStateFailure2,
			check: func(t *testing.T, a *eap.Authenticator) {
				if !a.EapFail {
					t.Error("eapFail not asserted")
				}
			},
		},
		{
			name:      "aaaTimeout -> TIMEOUT_FAILURE2",
			set:       func(a *eap.Authenticator) { a.AAATimeout = true },
			wantState: eap.AuthStateTimeoutFailure2,
			check: func(t *testing.T, a *eap.Authenticator) {
				if !a.EapTimeout {
					t.Error("eapTimeout not asserted")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := newTestAuth(t)
			a.EapReq = false
			respond(t, a, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, []byte("bob")))
			a.AAAEapResp = false

			tt.set(a)
			runAuth(t, a)

			if a.State() != tt.wantState {
				t.Fatalf("state = %v, want %v", a.State(), tt.wantState)
			}
			tt.check(t, a)
		})
	}
}

// TestAuthDiscardsMismatchedResponse verifies RECEIVED2 discards a
// Response with a stale identifier (RFC 4137 Section 7.4).
func TestAuthDiscardsMismatchedResponse(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	a.EapReq = false
	respond(t, a, eap.Build(eap.CodeResponse, 0, eap.MethodIdentity, []byte("bob")))
	a.AAAEapResp = false

	a.AAAEapReqData = eap.Build(eap.CodeRequest, 7, eap.MethodMD5Challenge, []byte{1, 0})
	a.AAAEapReq = true
	runAuth(t, a)
	a.EapReq = false

	// Stale identifier 3 (current is 7).
	respond(t, a, eap.Build(eap.CodeResponse, 3, eap.MethodMD5Challenge, []byte{1, 0}))

	if a.State() != eap.AuthStateIdle2 {
		t.Fatalf("state = %v, want IDLE2 after discard", a.State())
	}
	if !a.EapNoReq {
		t.Error("eapNoReq not asserted on discard")
	}
}
