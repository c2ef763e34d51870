// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package client reads and writes WireGuard interface configuration through
// the wg_data_io control operations.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/siderolabs/wgio/pkg/wgh"
	"github.com/siderolabs/wgio/pkg/wireguard"
)

// maxReadAttempts bounds how often a read is retried while the configuration keeps growing.
const maxReadAttempts = 5

// Transport carries control operations to a driver.
type Transport interface {
	// IoctlWGDataIO performs SIOCGWG or SIOCSWG. References in data.Mem are buffer offsets.
	IoctlWGDataIO(ctx context.Context, req uint, data *wgh.DataIO) error
	// Interfaces returns the names of all WireGuard interfaces.
	Interfaces(ctx context.Context) ([]string, error)
	Close() error
}

// Client provides access to WireGuard interfaces.
type Client struct {
	transport Transport
	limits    wgh.Limits
}

// NewClient creates a client on top of a transport.
func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

// WithLimits bounds the number of records the client accepts from a read.
func (c *Client) WithLimits(limits wgh.Limits) *Client {
	c.limits = limits

	return c
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Devices returns all WireGuard interfaces.
//
// Interfaces which disappear while being listed are skipped.
func (c *Client) Devices(ctx context.Context) ([]*wgtypes.Device, error) {
	names, err := c.transport.Interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing interfaces: %w", err)
	}

	devices := make([]*wgtypes.Device, 0, len(names))

	for _, name := range names {
		d, err := c.Device(ctx, name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, err
		}

		devices = append(devices, d)
	}

	return devices, nil
}

// Device returns the configuration of the named interface.
//
// The required size is requested first, then the configuration is read into a
// buffer of that size. A missing interface is reported as os.ErrNotExist.
func (c *Client) Device(ctx context.Context, name string) (*wgtypes.Device, error) {
	data, err := wgh.NewDataIO(name, nil)
	if err != nil {
		return nil, err
	}

	for range maxReadAttempts {
		err = c.transport.IoctlWGDataIO(ctx, wgh.SIOCGWG, data)

		switch {
		case err == nil && data.Mem != nil && data.Size <= uint64(len(data.Mem)):
			ifc, err := wgh.Unmarshal(data.Mem[:data.Size], c.limits)
			if err != nil {
				return nil, fmt.Errorf("error decoding interface %q: %w", name, err)
			}

			return wireguard.DeviceFromInterface(name, ifc), nil
		case err == nil, errors.Is(err, wgh.ErrBufferTooSmall):
			if data.Size == 0 {
				return nil, fmt.Errorf("interface %q reported an empty configuration", name)
			}

			data.Mem = make([]byte, data.Size)
		case errors.Is(err, wgh.ErrNotFound):
			return nil, fmt.Errorf("interface %q: %w", name, os.ErrNotExist)
		default:
			return nil, fmt.Errorf("error reading interface %q: %w", name, err)
		}
	}

	return nil, fmt.Errorf("interface %q kept changing after %d attempts: %w", name, maxReadAttempts, wgh.ErrBufferTooSmall)
}

// ConfigureDevice applies cfg to the named interface.
//
// A missing interface is reported as os.ErrNotExist.
func (c *Client) ConfigureDevice(ctx context.Context, name string, cfg wgtypes.Config) error {
	ifc, err := wireguard.InterfaceFromConfig(cfg)
	if err != nil {
		return err
	}

	b, err := wgh.Marshal(ifc)
	if err != nil {
		return err
	}

	data, err := wgh.NewDataIO(name, b)
	if err != nil {
		return err
	}

	err = c.transport.IoctlWGDataIO(ctx, wgh.SIOCSWG, data)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, wgh.ErrNotFound):
		return fmt.Errorf("interface %q: %w: %w", name, os.ErrNotExist, err)
	default:
		return fmt.Errorf("error configuring interface %q: %w", name, err)
	}
}
