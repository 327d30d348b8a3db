// Package server implements the management HTTP API for the 802.1X
// daemon: port snapshots, the Section 9.4 setters with validate/commit
// semantics, and an NDJSON event stream for state-change monitoring.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/dantte-lp/godot1x/internal/dot1x"
)

// Sentinel errors for the server package.
var (
	// ErrUnknownParameter indicates an unrecognized parameter name.
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrBadValue indicates a parameter value that does not parse.
	ErrBadValue = errors.New("bad parameter value")
)

// Server is a thin adapter between the HTTP API and the authenticator
// context. Each handler delegates to the context's management surface;
// the context's own lock provides the validate-then-commit atomicity.
type Server struct {
	auth   *dot1x.Authenticator
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan dot1x.StateChange]struct{}
}

// New creates a Server and its router.
func New(auth *dot1x.Authenticator, logger *slog.Logger) (*Server, http.Handler) {
	s := &Server{
		auth:   auth,
		logger: logger.With(slog.String("component", "server")),
		subs:   make(map[chan dot1x.StateChange]struct{}),
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/ports", s.handleListPorts).Methods(http.MethodGet)
	api.HandleFunc("/ports/{port:[0-9]+}", s.handleGetPort).Methods(http.MethodGet)
	api.HandleFunc("/ports/{port:[0-9]+}/initialize", s.handleInitialize).Methods(http.MethodPost)
	api.HandleFunc("/ports/{port:[0-9]+}/reauthenticate", s.handleReauthenticate).Methods(http.MethodPost)
	api.HandleFunc("/ports/{port:[0-9]+}/parameters", s.handleSetParameter).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	return s, r
}

// PumpEvents consumes the context's StateChanges channel and fans the
// events out to HTTP subscribers. Run it in its own goroutine; it
// returns when the channel closes or the done channel fires.
func (s *Server) PumpEvents(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sc, ok := <-s.auth.StateChanges():
			if !ok {
				return
			}
			s.mu.Lock()
			for ch := range s.subs {
				select {
				case ch <- sc:
				default:
					// A stalled subscriber loses events rather than
					// stalling the pump.
				}
			}
			s.mu.Unlock()
		}
	}
}

// subscribe registers an event subscriber.
func (s *Server) subscribe() chan dot1x.StateChange {
	ch := make(chan dot1x.StateChange, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// unsubscribe removes an event subscriber.
func (s *Server) unsubscribe(ch chan dot1x.StateChange) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// -------------------------------------------------------------------------
// Handlers
// -------------------------------------------------------------------------

// handleHealthz reports liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListPorts returns every port snapshot.
func (s *Server) handleListPorts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.auth.Snapshots())
}

// handleGetPort returns one port snapshot.
func (s *Server) handleGetPort(w http.ResponseWriter, r *http.Request) {
	port, err := portVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.auth.Snapshot(port)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// controlRequest is the body of initialize/reauthenticate requests.
type controlRequest struct {
	ValidateOnly bool `json:"validate_only"`
}

// handleInitialize asserts the initialize control.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, s.auth.InitializePort)
}

// handleReauthenticate asserts the reAuthenticate control.
func (s *Server) handleReauthenticate(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, s.auth.ReauthenticatePort)
}

// handleControl implements the shared shape of the two port controls.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request,
	op func(port int, commit bool) error) {
	port, err := portVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req controlRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := op(port, !req.ValidateOnly); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"committed": !req.ValidateOnly})
}

// parameterRequest is the body of a parameter write.
type parameterRequest struct {
	// Name is the parameter: port_control, quiet_period, server_timeout,
	// reauth_period, reauth_enabled, key_tx_enabled.
	Name string `json:"name"`

	// Value is the textual value; booleans take "true"/"false",
	// port_control takes auto/force_authorized/force_unauthorized.
	Value string `json:"value"`

	// ValidateOnly requests validation without commit.
	ValidateOnly bool `json:"validate_only"`
}

// handleSetParameter dispatches one managed-parameter write.
func (s *Server) handleSetParameter(w http.ResponseWriter, r *http.Request) {
	port, err := portVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req parameterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	commit := !req.ValidateOnly
	switch req.Name {
	case "port_control":
		var pc dot1x.PortControl
		switch req.Value {
		case "auto":
			pc = dot1x.ControlAuto
		case "force_authorized":
			pc = dot1x.ControlForceAuthorized
		case "force_unauthorized":
			pc = dot1x.ControlForceUnauthorized
		default:
			writeError(w, fmt.Errorf("port_control %q: %w", req.Value, ErrBadValue))
			return
		}
		err = s.auth.SetPortControl(port, pc, commit)

	case "quiet_period":
		err = s.setUint32(req.Value, func(v uint32) error {
			return s.auth.SetQuietPeriod(port, v, commit)
		})

	case "server_timeout":
		err = s.setUint32(req.Value, func(v uint32) error {
			return s.auth.SetServerTimeout(port, v, commit)
		})

	case "reauth_period":
		err = s.setUint32(req.Value, func(v uint32) error {
			return s.auth.SetReAuthPeriod(port, v, commit)
		})

	case "reauth_enabled":
		err = s.setBool(req.Value, func(v bool) error {
			return s.auth.SetReAuthEnabled(port, v, commit)
		})

	case "key_tx_enabled":
		err = s.setBool(req.Value, func(v bool) error {
			return s.auth.SetKeyTxEnabled(port, v, commit)
		})

	default:
		err = fmt.Errorf("parameter %q: %w", req.Name, ErrUnknownParameter)
	}

	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"committed": commit})
}

// handleEvents streams state changes as NDJSON until the client leaves.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case sc := <-ch:
			if err := enc.Encode(sc); err != nil {
				return
			}
			fl.Flush()
		}
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// portVar extracts the port path variable.
func portVar(r *http.Request) (int, error) {
	port, err := strconv.Atoi(mux.Vars(r)["port"])
	if err != nil {
		return 0, fmt.Errorf("port %q: %w", mux.Vars(r)["port"], dot1x.ErrInvalidPort)
	}
	return port, nil
}

// decodeBody decodes a JSON request body; an empty body yields the zero
// value.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w: %w", ErrBadValue, err)
	}
	return nil
}

// setUint32 parses a decimal value and applies it.
func (s *Server) setUint32(raw string, apply func(uint32) error) error {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return fmt.Errorf("value %q: %w", raw, ErrBadValue)
	}
	return apply(uint32(v))
}

// setBool parses a boolean value and applies it.
func (s *Server) setBool(raw string, apply func(bool) error) error {
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("value %q: %w", raw, ErrBadValue)
	}
	return apply(v)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dot1x.ErrInvalidPort):
		status = http.StatusNotFound
	case errors.Is(err, dot1x.ErrWrongValue),
		errors.Is(err, ErrBadValue),
		errors.Is(err, ErrUnknownParameter),
		errors.Is(err, dot1x.ErrInvalidParameter):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
