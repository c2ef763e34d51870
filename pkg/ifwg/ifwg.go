// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package ifwg implements the driver side of the wg_data_io control
// operations for a set of in-memory WireGuard interfaces.
package ifwg

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/siderolabs/gen/maps"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/siderolabs/wgio/pkg/wgh"
	"github.com/siderolabs/wgio/pkg/wireguard"
)

// Cred describes the caller of a control operation.
type Cred struct {
	// Privileged callers may read secrets and change the configuration.
	Privileged bool
}

// Policy tunes the behavior of the driver.
type Policy struct {
	// StrictRemove makes removal of an absent peer or allowed IP fail with
	// wgh.ErrNotFound. Otherwise such a removal does nothing.
	StrictRemove bool

	// MaxPeers bounds the number of peers of one interface.
	MaxPeers int
	// MaxAllowedIPs bounds the number of allowed IPs of one interface.
	MaxAllowedIPs int
	// MaxBufferSize bounds the declared size of a request buffer.
	MaxBufferSize uint64
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		StrictRemove:  true,
		MaxPeers:      1 << 16,
		MaxAllowedIPs: 1 << 20,
		MaxBufferSize: 64 << 20,
	}
}

// Driver owns a set of named interfaces and serves control operations on them.
type Driver struct {
	logger *zap.Logger
	policy Policy

	mu         sync.Mutex
	interfaces map[string]*iface
}

type iface struct {
	mu    sync.Mutex
	state *state
}

// New creates a driver without interfaces.
func New(logger *zap.Logger, policy Policy) *Driver {
	return &Driver{
		logger:     logger,
		policy:     policy,
		interfaces: map[string]*iface{},
	}
}

// Create adds a new unconfigured interface.
func (d *Driver) Create(name string) error {
	if _, err := wgh.DeviceName(name); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.interfaces[name]; ok {
		return fmt.Errorf("%w: interface %q already exists", wgh.ErrInvalidArgument, name)
	}

	d.interfaces[name] = &iface{state: &state{}}

	d.logger.Info("interface created", zap.String("interface", name))

	return nil
}

// Destroy removes an interface together with its configuration.
func (d *Driver) Destroy(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.interfaces[name]; !ok {
		return fmt.Errorf("%w: interface %q", wgh.ErrNotFound, name)
	}

	delete(d.interfaces, name)

	d.logger.Info("interface destroyed", zap.String("interface", name))

	return nil
}

// Interfaces returns the sorted names of all interfaces.
func (d *Driver) Interfaces() []string {
	d.mu.Lock()
	names := maps.Keys(d.interfaces)
	d.mu.Unlock()

	slices.Sort(names)

	return names
}

func (d *Driver) lookup(name string) (*iface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ifc, ok := d.interfaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: interface %q", wgh.ErrNotFound, name)
	}

	return ifc, nil
}

// Ioctl performs a control operation on the interface named by req.
//
// SIOCGWG reads the configuration into the request buffer. A request with an
// empty buffer only learns the required size. A non-empty buffer which is too
// small receives as much of the configuration as fits and the call fails with
// wgh.ErrBufferTooSmall. In both cases Size is updated to the required size.
//
// SIOCSWG applies the configuration in the request buffer. It either applies
// completely or not at all.
func (d *Driver) Ioctl(cred Cred, req uint, data *wgh.DataIO) error {
	if d.policy.MaxBufferSize > 0 && data.Size > d.policy.MaxBufferSize {
		return fmt.Errorf("%w: buffer size %d exceeds %d", wgh.ErrInvalidArgument, data.Size, d.policy.MaxBufferSize)
	}

	name, err := data.CheckName()
	if err != nil {
		return err
	}

	switch req {
	case wgh.SIOCGWG:
		return d.get(cred, name, data)
	case wgh.SIOCSWG:
		return d.set(cred, name, data)
	default:
		return fmt.Errorf("request %#x: %w", req, unix.ENOTTY)
	}
}

func (d *Driver) get(cred Cred, name string, data *wgh.DataIO) error {
	ifc, err := d.lookup(name)
	if err != nil {
		return err
	}

	ifc.mu.Lock()
	tree := ifc.state.tree(cred.Privileged)
	ifc.mu.Unlock()

	if data.Size == 0 {
		data.Size = uint64(tree.Size())

		return nil
	}

	buf, err := data.Buffer()
	if err != nil {
		return err
	}

	_, required, err := wgh.MarshalInto(buf, tree)
	if err != nil {
		return err
	}

	data.Size = uint64(required)

	if required > len(buf) {
		return fmt.Errorf("%w: %d bytes required, %d supplied", wgh.ErrBufferTooSmall, required, len(buf))
	}

	return nil
}

func (d *Driver) set(cred Cred, name string, data *wgh.DataIO) error {
	if !cred.Privileged {
		return fmt.Errorf("%w: configuring interface %q", wgh.ErrPermissionDenied, name)
	}

	ifc, err := d.lookup(name)
	if err != nil {
		return err
	}

	buf, err := data.Buffer()
	if err != nil {
		return err
	}

	tree, err := wgh.Unmarshal(buf, wgh.Limits{MaxPeers: d.policy.MaxPeers, MaxAllowedIPs: d.policy.MaxAllowedIPs})
	if err != nil {
		return err
	}

	mutations, err := wireguard.Compile(tree)
	if err != nil {
		return err
	}

	ifc.mu.Lock()
	defer ifc.mu.Unlock()

	next := ifc.state.clone()

	for i, m := range mutations {
		if err = next.apply(m, d.policy.StrictRemove); err != nil {
			return fmt.Errorf("mutation %d: %w", i, err)
		}
	}

	if d.policy.MaxPeers > 0 && len(next.peers) > d.policy.MaxPeers {
		return fmt.Errorf("%w: interface would have %d peers, limit is %d", wgh.ErrInvalidArgument, len(next.peers), d.policy.MaxPeers)
	}

	if n := next.allowedIPCount(); d.policy.MaxAllowedIPs > 0 && n > d.policy.MaxAllowedIPs {
		return fmt.Errorf("%w: interface would have %d allowed IPs, limit is %d", wgh.ErrInvalidArgument, n, d.policy.MaxAllowedIPs)
	}

	ifc.state = next

	d.logger.Debug("interface configured",
		zap.String("interface", name),
		zap.Int("mutations", len(mutations)),
		zap.Int("peers", len(next.peers)),
	)

	return nil
}

// RecordHandshake stores the time of the last completed handshake with a peer.
func (d *Driver) RecordHandshake(name string, public wgtypes.Key, at time.Time) error {
	return d.updatePeer(name, public, func(p *peer) { p.lastHandshake = at })
}

// AddTraffic adds to the transfer counters of a peer.
func (d *Driver) AddTraffic(name string, public wgtypes.Key, tx, rx uint64) error {
	return d.updatePeer(name, public, func(p *peer) {
		p.txBytes += tx
		p.rxBytes += rx
	})
}

func (d *Driver) updatePeer(name string, public wgtypes.Key, update func(*peer)) error {
	ifc, err := d.lookup(name)
	if err != nil {
		return err
	}

	ifc.mu.Lock()
	defer ifc.mu.Unlock()

	p := ifc.state.findPeer(public)
	if p == nil {
		return fmt.Errorf("%w: peer %s on interface %q", wgh.ErrNotFound, public, name)
	}

	update(p)

	return nil
}
