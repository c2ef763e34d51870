// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config loads the declarative daemon and interface configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/siderolabs/gen/xslices"
	"github.com/siderolabs/go-pointer"
	"go4.org/netipx"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
	"gopkg.in/yaml.v3"

	"github.com/siderolabs/wgio/pkg/ifwg"
	"github.com/siderolabs/wgio/pkg/wgh"
)

// Config is the daemon configuration file.
//
//nolint:govet
type Config struct {
	Endpoint   string      `yaml:"endpoint,omitempty"`
	Token      string      `yaml:"token,omitempty"`
	Policy     Policy      `yaml:"policy,omitempty"`
	Interfaces []Interface `yaml:"interfaces,omitempty"`
}

// Policy overrides the driver policy, unset fields keep their defaults.
type Policy struct {
	StrictRemove  *bool   `yaml:"strictRemove,omitempty"`
	MaxPeers      *int    `yaml:"maxPeers,omitempty"`
	MaxAllowedIPs *int    `yaml:"maxAllowedIPs,omitempty"`
	MaxBufferSize *uint64 `yaml:"maxBufferSize,omitempty"`
}

// Interface declares a WireGuard interface and its peers.
//
// Keys are base64 encoded.
//
//nolint:govet
type Interface struct {
	Name       string `yaml:"name"`
	PrivateKey string `yaml:"privateKey,omitempty"`
	PublicKey  string `yaml:"publicKey,omitempty"`
	ListenPort *int   `yaml:"listenPort,omitempty"`
	Rtable     *int   `yaml:"rtable,omitempty"`
	Peers      []Peer `yaml:"peers,omitempty"`
}

// Peer declares a peer of an interface.
//
//nolint:govet
type Peer struct {
	PublicKey           string   `yaml:"publicKey"`
	PresharedKey        string   `yaml:"presharedKey,omitempty"`
	Endpoint            string   `yaml:"endpoint,omitempty"`
	PersistentKeepalive string   `yaml:"persistentKeepalive,omitempty"`
	AllowedIPs          []string `yaml:"allowedIPs,omitempty"`

	// Statistics, only filled when a device is rendered.
	LastHandshake string `yaml:"lastHandshake,omitempty"`
	ReceiveBytes  int64  `yaml:"receiveBytes,omitempty"`
	TransmitBytes int64  `yaml:"transmitBytes,omitempty"`
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close() //nolint:errcheck

	return Parse(f)
}

// Parse reads and validates a configuration.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration without applying it.
func (cfg *Config) Validate() error {
	seen := map[string]struct{}{}

	for i := range cfg.Interfaces {
		ifc := &cfg.Interfaces[i]

		if _, ok := seen[ifc.Name]; ok {
			return fmt.Errorf("interface %q is declared more than once", ifc.Name)
		}

		seen[ifc.Name] = struct{}{}

		if _, err := ifc.WireGuardConfig(true); err != nil {
			return err
		}
	}

	return nil
}

// DriverPolicy merges the overrides with ifwg.DefaultPolicy.
func (cfg *Config) DriverPolicy() ifwg.Policy {
	policy := ifwg.DefaultPolicy()

	override(&policy.StrictRemove, cfg.Policy.StrictRemove)
	override(&policy.MaxPeers, cfg.Policy.MaxPeers)
	override(&policy.MaxAllowedIPs, cfg.Policy.MaxAllowedIPs)
	override(&policy.MaxBufferSize, cfg.Policy.MaxBufferSize)

	return policy
}

func override[T any](dst, src *T) {
	if src != nil {
		*dst = *src
	}
}

// ParseInterface reads a single interface declaration.
func ParseInterface(r io.Reader) (*Interface, error) {
	var ifc Interface

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&ifc); err != nil {
		return nil, fmt.Errorf("error decoding interface: %w", err)
	}

	return &ifc, nil
}

// Marshal renders an interface declaration as YAML.
func (ifc *Interface) Marshal() ([]byte, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(ifc); err != nil {
		return nil, err
	}

	if err := enc.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WireGuardConfig converts the declaration into a device configuration.
//
// With replace set, the declared peers become the complete peer set and each
// peer's allowed IPs become its complete list. The public key of the
// interface is derived from the private key and is not part of the result.
func (ifc *Interface) WireGuardConfig(replace bool) (wgtypes.Config, error) {
	if _, err := wgh.DeviceName(ifc.Name); err != nil {
		return wgtypes.Config{}, err
	}

	cfg := wgtypes.Config{
		ListenPort:   ifc.ListenPort,
		FirewallMark: ifc.Rtable,
		ReplacePeers: replace,
		Peers:        make([]wgtypes.PeerConfig, 0, len(ifc.Peers)),
	}

	if ifc.PrivateKey != "" {
		key, err := wgtypes.ParseKey(ifc.PrivateKey)
		if err != nil {
			return wgtypes.Config{}, fmt.Errorf("interface %q: invalid private key: %w", ifc.Name, err)
		}

		cfg.PrivateKey = &key
	}

	for i, p := range ifc.Peers {
		pc, err := p.peerConfig(replace)
		if err != nil {
			return wgtypes.Config{}, fmt.Errorf("interface %q: peer %d: %w", ifc.Name, i, err)
		}

		cfg.Peers = append(cfg.Peers, pc)
	}

	return cfg, nil
}

func (p *Peer) peerConfig(replace bool) (wgtypes.PeerConfig, error) {
	public, err := wgtypes.ParseKey(p.PublicKey)
	if err != nil {
		return wgtypes.PeerConfig{}, fmt.Errorf("invalid public key: %w", err)
	}

	pc := wgtypes.PeerConfig{
		PublicKey:         public,
		ReplaceAllowedIPs: replace,
		AllowedIPs:        make([]net.IPNet, 0, len(p.AllowedIPs)),
	}

	if p.PresharedKey != "" {
		psk, err := wgtypes.ParseKey(p.PresharedKey)
		if err != nil {
			return wgtypes.PeerConfig{}, fmt.Errorf("invalid preshared key: %w", err)
		}

		pc.PresharedKey = &psk
	}

	if p.Endpoint != "" {
		endpoint, err := netip.ParseAddrPort(p.Endpoint)
		if err != nil {
			return wgtypes.PeerConfig{}, fmt.Errorf("invalid endpoint: %w", err)
		}

		pc.Endpoint = net.UDPAddrFromAddrPort(endpoint)
	}

	if p.PersistentKeepalive != "" {
		interval, err := time.ParseDuration(p.PersistentKeepalive)
		if err != nil {
			return wgtypes.PeerConfig{}, fmt.Errorf("invalid keepalive interval: %w", err)
		}

		pc.PersistentKeepaliveInterval = &interval
	}

	for _, s := range p.AllowedIPs {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return wgtypes.PeerConfig{}, fmt.Errorf("invalid allowed IP: %w", err)
		}

		pc.AllowedIPs = append(pc.AllowedIPs, *netipx.PrefixIPNet(prefix.Masked()))
	}

	return pc, nil
}

// FromDevice renders a device as an interface declaration.
//
// Secrets are only included when showKeys is set.
func FromDevice(d *wgtypes.Device, showKeys bool) *Interface {
	ifc := &Interface{
		Name:       d.Name,
		ListenPort: pointer.To(d.ListenPort),
		Peers:      make([]Peer, 0, len(d.Peers)),
	}

	if d.FirewallMark != 0 {
		ifc.Rtable = pointer.To(d.FirewallMark)
	}

	if d.PublicKey != (wgtypes.Key{}) {
		ifc.PublicKey = d.PublicKey.String()
	}

	if showKeys && d.PrivateKey != (wgtypes.Key{}) {
		ifc.PrivateKey = d.PrivateKey.String()
	}

	for _, dp := range d.Peers {
		p := Peer{
			PublicKey:     dp.PublicKey.String(),
			ReceiveBytes:  dp.ReceiveBytes,
			TransmitBytes: dp.TransmitBytes,
			AllowedIPs: xslices.Map(dp.AllowedIPs, func(n net.IPNet) string {
				return n.String()
			}),
		}

		if showKeys && dp.PresharedKey != (wgtypes.Key{}) {
			p.PresharedKey = dp.PresharedKey.String()
		}

		if dp.Endpoint != nil {
			p.Endpoint = dp.Endpoint.String()
		}

		if dp.PersistentKeepaliveInterval != 0 {
			p.PersistentKeepalive = dp.PersistentKeepaliveInterval.String()
		}

		if !dp.LastHandshakeTime.IsZero() {
			p.LastHandshake = dp.LastHandshakeTime.UTC().Format(time.RFC3339)
		}

		ifc.Peers = append(ifc.Peers, p)
	}

	return ifc
}
