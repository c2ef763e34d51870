// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package ifwg

import (
	"fmt"
	"net/netip"
	"slices"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/siderolabs/wgio/pkg/wgh"
	"github.com/siderolabs/wgio/pkg/wireguard"
)

// state is the configuration of one interface.
//
//nolint:govet
type state struct {
	private    wgtypes.Key
	public     wgtypes.Key
	hasPrivate bool
	hasPublic  bool
	port       uint16
	rtable     int32
	peers      []*peer
}

//nolint:govet
type peer struct {
	public        wgtypes.Key
	psk           wgtypes.Key
	hasPSK        bool
	keepalive     uint16
	endpoint      netip.AddrPort
	txBytes       uint64
	rxBytes       uint64
	lastHandshake time.Time
	allowedIPs    []netip.Prefix
}

func (s *state) clone() *state {
	c := *s
	c.peers = make([]*peer, 0, len(s.peers))

	for _, p := range s.peers {
		pc := *p
		pc.allowedIPs = slices.Clone(p.allowedIPs)

		c.peers = append(c.peers, &pc)
	}

	return &c
}

func (s *state) peerIndex(public wgtypes.Key) int {
	return slices.IndexFunc(s.peers, func(p *peer) bool { return p.public == public })
}

func (s *state) findPeer(public wgtypes.Key) *peer {
	if i := s.peerIndex(public); i >= 0 {
		return s.peers[i]
	}

	return nil
}

func (s *state) allowedIPCount() int {
	var n int

	for _, p := range s.peers {
		n += len(p.allowedIPs)
	}

	return n
}

// apply performs a single mutation.
//
// With strict set, removing a peer or an allowed IP which does not exist fails with [wgh.ErrNotFound].
func (s *state) apply(m wireguard.Mutation, strict bool) error {
	switch m := m.(type) {
	case wireguard.SetInterface:
		if m.PrivateKey != nil {
			s.private = *m.PrivateKey
			s.hasPrivate = true
			s.public = m.PrivateKey.PublicKey()
			s.hasPublic = true
		}

		if m.PublicKey != nil {
			s.public = *m.PublicKey
			s.hasPublic = true
		}

		if m.ListenPort != nil {
			s.port = *m.ListenPort
		}

		if m.Rtable != nil {
			s.rtable = *m.Rtable
		}

		if m.ReplacePeers {
			s.peers = nil
		}
	case wireguard.UpsertPeer:
		p := s.findPeer(m.PublicKey)
		if p == nil {
			p = &peer{public: m.PublicKey}
			s.peers = append(s.peers, p)
		}

		if m.PresharedKey != nil {
			p.psk = *m.PresharedKey
			p.hasPSK = *m.PresharedKey != wgtypes.Key{}
		}

		if m.KeepaliveInterval != nil {
			p.keepalive = *m.KeepaliveInterval
		}

		if m.Endpoint != nil {
			p.endpoint = *m.Endpoint
		}

		if m.ReplaceAllowedIPs {
			p.allowedIPs = nil
		}
	case wireguard.RemovePeer:
		i := s.peerIndex(m.PublicKey)
		if i < 0 {
			if strict {
				return fmt.Errorf("%w: peer %s", wgh.ErrNotFound, m.PublicKey)
			}

			return nil
		}

		s.peers = slices.Delete(s.peers, i, i+1)
	case wireguard.UpsertAllowedIP:
		prefix := m.Prefix.Masked()

		p := s.findPeer(m.Peer)
		if p == nil {
			return fmt.Errorf("%w: peer %s", wgh.ErrNotFound, m.Peer)
		}

		for _, other := range s.peers {
			if other != p {
				other.allowedIPs = slices.DeleteFunc(other.allowedIPs, func(aip netip.Prefix) bool { return aip == prefix })
			}
		}

		if !slices.Contains(p.allowedIPs, prefix) {
			p.allowedIPs = append(p.allowedIPs, prefix)
		}
	case wireguard.RemoveAllowedIP:
		prefix := m.Prefix.Masked()

		p := s.findPeer(m.Peer)
		if p == nil {
			return fmt.Errorf("%w: peer %s", wgh.ErrNotFound, m.Peer)
		}

		i := slices.Index(p.allowedIPs, prefix)
		if i < 0 {
			if strict {
				return fmt.Errorf("%w: allowed IP %s of peer %s", wgh.ErrNotFound, prefix, m.Peer)
			}

			return nil
		}

		p.allowedIPs = slices.Delete(p.allowedIPs, i, i+1)
	default:
		return fmt.Errorf("%w: unexpected mutation %T", wgh.ErrInvalidArgument, m)
	}

	return nil
}

// tree builds the record tree returned by a read.
//
// Secrets are only included when withSecrets is set.
func (s *state) tree(withSecrets bool) *wgh.Interface {
	ifc := &wgh.Interface{
		Flags:  wgh.InterfaceHasPort | wgh.InterfaceHasRtable,
		Port:   s.port,
		Rtable: s.rtable,
		Peers:  make([]wgh.Peer, 0, len(s.peers)),
	}

	if s.hasPublic {
		ifc.Flags |= wgh.InterfaceHasPublic
		ifc.Public = s.public
	}

	if s.hasPrivate && withSecrets {
		ifc.Flags |= wgh.InterfaceHasPrivate
		ifc.Private = s.private
	}

	for _, p := range s.peers {
		rec := wgh.Peer{
			Flags:           wgh.PeerHasPublic | wgh.PeerHasPKA,
			ProtocolVersion: wireguard.ProtocolVersion,
			Public:          p.public,
			PKA:             p.keepalive,
			TxBytes:         p.txBytes,
			RxBytes:         p.rxBytes,
			LastHandshake:   wgh.TimespecFrom(p.lastHandshake),
			AllowedIPs:      make([]wgh.AllowedIP, 0, len(p.allowedIPs)),
		}

		if p.hasPSK && withSecrets {
			rec.Flags |= wgh.PeerHasPSK
			rec.PSK = p.psk
		}

		if p.endpoint.IsValid() {
			rec.Flags |= wgh.PeerHasEndpoint
			rec.Endpoint = p.endpoint
		}

		for _, prefix := range p.allowedIPs {
			rec.AllowedIPs = append(rec.AllowedIPs, wgh.AllowedIP{Prefix: prefix})
		}

		ifc.Peers = append(ifc.Peers, rec)
	}

	return ifc
}
