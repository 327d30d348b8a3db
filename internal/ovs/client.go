// Package ovs gates the physical forwarding state of controlled ports
// through Open vSwitch.
//
// When a port's controlled-port status goes Unauthorized, the driver
// steers the OVS port onto a quarantine VLAN; when it becomes
// Authorized, the tag is removed and user traffic forwards. A flap
// dampener prevents a bouncing authentication from churning OVSDB.
package ovs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"
)

// -------------------------------------------------------------------------
// Client Interface
// -------------------------------------------------------------------------

// Client abstracts the OVSDB operations needed by the switch driver.
// This interface enables testing without a running ovsdb-server.
type Client interface {
	// SetQuarantine places the named port on the quarantine VLAN
	// (blocking user traffic) or removes the tag (forwarding).
	SetQuarantine(ctx context.Context, portName string, quarantined bool) error

	// Close releases the underlying OVSDB connection.
	Close() error
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("ovsdb client is closed")

	// ErrConnectFailed indicates the OVSDB connection failed.
	ErrConnectFailed = errors.New("ovsdb connect failed")

	// ErrPortNotFound indicates the named port is not in the cache.
	ErrPortNotFound = errors.New("ovs port not found")
)

// -------------------------------------------------------------------------
// OVSDB schema model
// -------------------------------------------------------------------------

// PortRow models the columns of the Open_vSwitch "Port" table the
// driver touches.
type PortRow struct {
	UUID string `ovsdb:"_uuid"`
	Name string `ovsdb:"name"`
	Tag  *int   `ovsdb:"tag"`
}

// -------------------------------------------------------------------------
// OVSDBClient — production libovsdb-backed client
// -------------------------------------------------------------------------

// OVSDBClient connects to ovsdb-server and implements Client.
type OVSDBClient struct {
	ovs    client.Client
	vlan   int
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// OVSDBClientConfig holds connection parameters for the OVSDB client.
type OVSDBClientConfig struct {
	// Endpoint is the OVSDB endpoint, e.g.
	// "unix:/run/openvswitch/db.sock" or "tcp:127.0.0.1:6640".
	Endpoint string

	// QuarantineVLAN is the tag applied to blocked ports.
	QuarantineVLAN int

	// ConnectTimeout bounds the initial connection. Zero means the
	// context deadline governs.
	ConnectTimeout time.Duration
}

// NewOVSDBClient connects to ovsdb-server and starts monitoring the
// Port table so WhereCache predicates see live rows.
func NewOVSDBClient(ctx context.Context, cfg OVSDBClientConfig, logger *slog.Logger) (*OVSDBClient, error) {
	dbModel, err := model.NewClientDBModel("Open_vSwitch",
		map[string]model.Model{"Port": &PortRow{}})
	if err != nil {
		return nil, fmt.Errorf("ovsdb model: %w", err)
	}

	ovs, err := client.NewOVSDBClient(dbModel, client.WithEndpoint(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("ovsdb client for %q: %w", cfg.Endpoint, err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := ovs.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrConnectFailed, cfg.Endpoint, err)
	}
	if _, err := ovs.MonitorAll(ctx); err != nil {
		ovs.Disconnect()
		return nil, fmt.Errorf("ovsdb monitor: %w", err)
	}

	return &OVSDBClient{
		ovs:    ovs,
		vlan:   cfg.QuarantineVLAN,
		logger: logger.With(slog.String("component", "ovs.client")),
	}, nil
}

// SetQuarantine implements Client.
func (c *OVSDBClient) SetQuarantine(ctx context.Context, portName string, quarantined bool) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClientClosed
	}
	c.mu.RUnlock()

	row := &PortRow{}
	var tag *int
	if quarantined {
		v := c.vlan
		tag = &v
	}
	row.Tag = tag

	api := c.ovs.WhereCache(func(p *PortRow) bool { return p.Name == portName })
	ops, err := api.Update(row, &row.Tag)
	if err != nil {
		return fmt.Errorf("ovs update %q: %w", portName, err)
	}
	if len(ops) == 0 {
		return fmt.Errorf("ovs update %q: %w", portName, ErrPortNotFound)
	}

	if _, err := c.ovs.Transact(ctx, ops...); err != nil {
		return fmt.Errorf("ovs transact %q: %w", portName, err)
	}

	c.logger.Debug("port quarantine updated",
		slog.String("port", portName),
		slog.Bool("quarantined", quarantined),
	)
	return nil
}

// Close implements Client.
func (c *OVSDBClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.ovs.Disconnect()
	return nil
}
