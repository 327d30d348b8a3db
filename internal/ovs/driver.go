package ovs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// -------------------------------------------------------------------------
// Driver — dot1x.SwitchDriver over OVSDB
// -------------------------------------------------------------------------

// transactTimeout bounds a single OVSDB transaction issued from the
// engine's status path.
const transactTimeout = 5 * time.Second

// DriverConfig configures the switch driver.
type DriverConfig struct {
	// PortNames maps 1-based port indices to OVS port names; entry 0 is
	// port 1.
	PortNames []string

	// Dampening configures flap suppression.
	Dampening DampeningConfig
}

// Driver implements the engine's SwitchDriver interface: controlled-port
// status changes become quarantine VLAN updates in OVS, filtered by the
// flap dampener.
type Driver struct {
	client   Client
	names    []string
	dampener *Dampener
	logger   *slog.Logger
}

// NewDriver creates a switch driver over an OVSDB client.
func NewDriver(cl Client, cfg DriverConfig, logger *slog.Logger) *Driver {
	return &Driver{
		client:   cl,
		names:    cfg.PortNames,
		dampener: NewDampener(cfg.Dampening, logger),
		logger:   logger.With(slog.String("component", "ovs.driver")),
	}
}

// SetPortState implements dot1x.SwitchDriver. forwarding == true maps
// to removing the quarantine tag.
func (d *Driver) SetPortState(port int, forwarding bool) error {
	if port < 1 || port > len(d.names) {
		return fmt.Errorf("ovs driver: port %d of %d: %w", port, len(d.names), ErrPortNotFound)
	}
	name := d.names[port-1]

	if forwarding {
		if d.dampener.ShouldSuppressUp(port) {
			d.logger.Info("authorize suppressed by dampener",
				slog.Int("port", port), slog.String("ovs_port", name))
			return nil
		}
	} else if d.dampener.ShouldSuppress(port) {
		// The port stays quarantined anyway while suppressed; skip the
		// redundant transaction.
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), transactTimeout)
	defer cancel()
	return d.client.SetQuarantine(ctx, name, !forwarding)
}

// Close releases the OVSDB connection.
func (d *Driver) Close() error {
	return d.client.Close()
}
