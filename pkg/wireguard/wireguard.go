// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wireguard gives meaning to wg_data_io configuration trees: it
// compiles them into typed mutations and converts them from and to wgtypes.
package wireguard

import (
	"fmt"
	"math"
	"net"
	"net/netip"
	"time"

	"github.com/siderolabs/gen/xslices"
	"go4.org/netipx"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/siderolabs/wgio/pkg/wgh"
)

// ProtocolVersion is the only WireGuard protocol version in use.
const ProtocolVersion = 1

// DeviceFromInterface converts a tree returned by a read into a device.
//
// Fields are only taken over when their presence flag is set.
func DeviceFromInterface(name string, ifc *wgh.Interface) *wgtypes.Device {
	d := &wgtypes.Device{
		Name:  name,
		Type:  wgtypes.OpenBSDKernel,
		Peers: make([]wgtypes.Peer, 0, len(ifc.Peers)),
	}

	if ifc.Flags.Has(wgh.InterfaceHasPrivate) {
		d.PrivateKey = wgtypes.Key(ifc.Private)
	}

	if ifc.Flags.Has(wgh.InterfaceHasPublic) {
		d.PublicKey = wgtypes.Key(ifc.Public)
	}

	if ifc.Flags.Has(wgh.InterfaceHasPort) {
		d.ListenPort = int(ifc.Port)
	}

	if ifc.Flags.Has(wgh.InterfaceHasRtable) {
		d.FirewallMark = int(ifc.Rtable)
	}

	for i := range ifc.Peers {
		d.Peers = append(d.Peers, peerFromRecord(&ifc.Peers[i]))
	}

	return d
}

func peerFromRecord(p *wgh.Peer) wgtypes.Peer {
	peer := wgtypes.Peer{
		LastHandshakeTime: p.LastHandshake.Time(),
		ReceiveBytes:      int64(p.RxBytes),
		TransmitBytes:     int64(p.TxBytes),
		ProtocolVersion:   int(p.ProtocolVersion),
		AllowedIPs: xslices.Map(p.AllowedIPs, func(aip wgh.AllowedIP) net.IPNet {
			return *netipx.PrefixIPNet(aip.Prefix)
		}),
	}

	if p.Flags.Has(wgh.PeerHasPublic) {
		peer.PublicKey = wgtypes.Key(p.Public)
	}

	if p.Flags.Has(wgh.PeerHasPSK) {
		peer.PresharedKey = wgtypes.Key(p.PSK)
	}

	if p.Flags.Has(wgh.PeerHasPKA) {
		peer.PersistentKeepaliveInterval = time.Duration(p.PKA) * time.Second
	}

	if p.Flags.Has(wgh.PeerHasEndpoint) && p.Endpoint.IsValid() {
		peer.Endpoint = net.UDPAddrFromAddrPort(p.Endpoint)
	}

	return peer
}

// InterfaceFromConfig converts a device configuration into a tree for a write.
//
// Every peer which is not removed is sent as an update, so it is created
// when absent and merged otherwise. Update-only peers cannot be expressed
// and are rejected.
func InterfaceFromConfig(cfg wgtypes.Config) (*wgh.Interface, error) {
	ifc := &wgh.Interface{
		Peers: make([]wgh.Peer, 0, len(cfg.Peers)),
	}

	if cfg.PrivateKey != nil {
		ifc.Flags |= wgh.InterfaceHasPrivate
		ifc.Private = *cfg.PrivateKey
	}

	if cfg.ListenPort != nil {
		if *cfg.ListenPort < 0 || *cfg.ListenPort > math.MaxUint16 {
			return nil, fmt.Errorf("%w: listen port %d out of range", wgh.ErrInvalidArgument, *cfg.ListenPort)
		}

		ifc.Flags |= wgh.InterfaceHasPort
		ifc.Port = uint16(*cfg.ListenPort)
	}

	if cfg.FirewallMark != nil {
		if *cfg.FirewallMark < math.MinInt32 || *cfg.FirewallMark > math.MaxInt32 {
			return nil, fmt.Errorf("%w: routing table %d out of range", wgh.ErrInvalidArgument, *cfg.FirewallMark)
		}

		ifc.Flags |= wgh.InterfaceHasRtable
		ifc.Rtable = int32(*cfg.FirewallMark)
	}

	if cfg.ReplacePeers {
		ifc.Flags |= wgh.InterfaceReplacePeers
	}

	for _, pc := range cfg.Peers {
		p, err := peerFromConfig(pc)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", pc.PublicKey, err)
		}

		ifc.Peers = append(ifc.Peers, p)
	}

	return ifc, nil
}

func peerFromConfig(pc wgtypes.PeerConfig) (wgh.Peer, error) {
	p := wgh.Peer{
		Flags:  wgh.PeerHasPublic,
		Public: pc.PublicKey,
	}

	if pc.Remove {
		p.Flags |= wgh.PeerRemove

		return p, nil
	}

	if pc.UpdateOnly {
		return wgh.Peer{}, fmt.Errorf("%w: update-only peers are not supported", wgh.ErrInvalidArgument)
	}

	p.Flags |= wgh.PeerUpdate

	if pc.PresharedKey != nil {
		p.Flags |= wgh.PeerHasPSK
		p.PSK = *pc.PresharedKey
	}

	if pc.PersistentKeepaliveInterval != nil {
		seconds := *pc.PersistentKeepaliveInterval / time.Second
		if seconds < 0 || seconds > math.MaxUint16 {
			return wgh.Peer{}, fmt.Errorf("%w: keepalive interval %s out of range", wgh.ErrInvalidArgument, *pc.PersistentKeepaliveInterval)
		}

		p.Flags |= wgh.PeerHasPKA
		p.PKA = uint16(seconds)
	}

	if pc.Endpoint != nil {
		endpoint, err := endpointFromUDP(pc.Endpoint)
		if err != nil {
			return wgh.Peer{}, err
		}

		p.Flags |= wgh.PeerHasEndpoint
		p.Endpoint = endpoint
	}

	if pc.ReplaceAllowedIPs {
		p.Flags |= wgh.PeerReplaceAIPs
	}

	for _, ipNet := range pc.AllowedIPs {
		prefix, ok := netipx.FromStdIPNet(&ipNet)
		if !ok {
			return wgh.Peer{}, fmt.Errorf("%w: invalid allowed IP %s", wgh.ErrInvalidArgument, ipNet.String())
		}

		p.AllowedIPs = append(p.AllowedIPs, wgh.AllowedIP{Prefix: prefix})
	}

	return p, nil
}

func endpointFromUDP(addr *net.UDPAddr) (netip.AddrPort, error) {
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok || addr.Port < 0 || addr.Port > math.MaxUint16 {
		return netip.AddrPort{}, fmt.Errorf("%w: invalid endpoint %s", wgh.ErrInvalidArgument, addr)
	}

	return netip.AddrPortFrom(ip.Unmap(), uint16(addr.Port)), nil
}
