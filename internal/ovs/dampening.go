package ovs

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// Flap Dampening
// -------------------------------------------------------------------------
//
// An 802.1X port that oscillates between Authorized and Unauthorized
// (bad credentials retried on a timer, a flaky supplicant) would
// otherwise generate an OVSDB transaction per flap. The dampening
// algorithm follows the classic route-flap model (RFC 2439): each
// Unauthorized event accumulates a penalty that decays exponentially;
// past the suppress threshold, updates are withheld until the penalty
// decays below the reuse threshold.

// DampeningConfig configures the port flap dampening parameters.
type DampeningConfig struct {
	// Enabled controls whether flap dampening is active.
	// When false, all status changes are passed through immediately.
	Enabled bool

	// SuppressThreshold is the penalty value at or above which updates
	// are suppressed. Typical value: 3 (suppress after 3 rapid flaps).
	SuppressThreshold float64

	// ReuseThreshold is the penalty value below which suppressed
	// updates are allowed again. Must be less than SuppressThreshold.
	// Typical value: 2.
	ReuseThreshold float64

	// MaxSuppressTime is the maximum duration updates can be
	// suppressed for a single port. Typical value: 60s.
	MaxSuppressTime time.Duration

	// HalfLife is the time for the penalty to decay by half.
	// Typical value: 15s.
	HalfLife time.Duration
}

// DefaultDampeningConfig returns a sensible default dampening
// configuration for access-edge deployments.
func DefaultDampeningConfig() DampeningConfig {
	return DampeningConfig{
		Enabled:           false,
		SuppressThreshold: 3,
		ReuseThreshold:    2,
		MaxSuppressTime:   60 * time.Second,
		HalfLife:          15 * time.Second,
	}
}

// Dampener tracks flap penalties per port and decides whether status
// updates should be suppressed. Thread-safe.
type Dampener struct {
	cfg    DampeningConfig
	ports  map[int]*portPenalty
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time // injectable clock for testing
}

// portPenalty holds the dampening state for a single port.
type portPenalty struct {
	penalty         float64
	lastUpdate      time.Time
	suppressed      bool
	suppressedSince time.Time
}

// DampenerOption configures optional Dampener parameters.
type DampenerOption func(*Dampener)

// WithClock sets a custom time function for the dampener. Used in tests
// to control time progression without sleeping.
func WithClock(now func() time.Time) DampenerOption {
	return func(d *Dampener) { d.now = now }
}

// NewDampener creates a flap dampener.
func NewDampener(cfg DampeningConfig, logger *slog.Logger, opts ...DampenerOption) *Dampener {
	d := &Dampener{
		cfg:    cfg,
		ports:  make(map[int]*portPenalty),
		logger: logger.With(slog.String("component", "ovs.dampener")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ShouldSuppress records one Unauthorized event for the port and
// reports whether the update should be withheld.
//
// The algorithm:
//  1. Decay the existing penalty for the elapsed time.
//  2. Add 1.0 (one Unauthorized event).
//  3. Past SuppressThreshold, start suppression.
//  4. Past MaxSuppressTime, unsuppress regardless of penalty.
func (d *Dampener) ShouldSuppress(port int) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	pp := d.ports[port]
	if pp == nil {
		pp = &portPenalty{lastUpdate: now}
		d.ports[port] = pp
	}
	d.decay(pp, now)

	pp.penalty += 1.0
	pp.lastUpdate = now

	if pp.suppressed && now.Sub(pp.suppressedSince) >= d.cfg.MaxSuppressTime {
		pp.suppressed = false
		d.logger.Info("port unsuppressed after max suppress time",
			slog.Int("port", port))
		return false
	}

	if !pp.suppressed && pp.penalty >= d.cfg.SuppressThreshold {
		pp.suppressed = true
		pp.suppressedSince = now
		d.logger.Warn("port suppressed due to flap dampening",
			slog.Int("port", port),
			slog.Float64("penalty", pp.penalty),
		)
	}

	return pp.suppressed
}

// ShouldSuppressUp reports whether an Authorized update should be
// withheld. Updates are withheld while the port is suppressed so a
// partially recovered port does not oscillate the switch state.
func (d *Dampener) ShouldSuppressUp(port int) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pp := d.ports[port]
	if pp == nil {
		return false
	}

	now := d.now()
	d.decay(pp, now)

	if pp.suppressed && pp.penalty < d.cfg.ReuseThreshold {
		pp.suppressed = false
		d.logger.Info("port reusable after penalty decay", slog.Int("port", port))
	}
	if pp.suppressed && now.Sub(pp.suppressedSince) >= d.cfg.MaxSuppressTime {
		pp.suppressed = false
	}

	return pp.suppressed
}

// decay applies exponential penalty decay for the elapsed time.
func (d *Dampener) decay(pp *portPenalty, now time.Time) {
	if d.cfg.HalfLife <= 0 {
		return
	}
	elapsed := now.Sub(pp.lastUpdate)
	if elapsed <= 0 {
		return
	}
	pp.penalty *= math.Pow(0.5, elapsed.Seconds()/d.cfg.HalfLife.Seconds())
	pp.lastUpdate = now
}
