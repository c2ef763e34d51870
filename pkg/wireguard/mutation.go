// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wireguard

import (
	"fmt"
	"net/netip"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/siderolabs/wgio/pkg/wgh"
)

// Mutation is a single change requested by a configuration tree.
//
// A mutation is one of [SetInterface], [UpsertPeer], [RemovePeer],
// [UpsertAllowedIP] or [RemoveAllowedIP].
type Mutation interface {
	mutation()
}

// SetInterface replaces the interface fields which are not nil.
//
// ReplacePeers drops every existing peer before the following peer mutations are applied.
//
//nolint:govet
type SetInterface struct {
	PrivateKey   *wgtypes.Key
	PublicKey    *wgtypes.Key
	ListenPort   *uint16
	Rtable       *int32
	ReplacePeers bool
}

// UpsertPeer merges the non-nil fields into the peer identified by PublicKey, creating it if absent.
//
// ReplaceAllowedIPs drops the peer's allowed IPs before the following allowed IP mutations are applied.
//
//nolint:govet
type UpsertPeer struct {
	PublicKey         wgtypes.Key
	PresharedKey      *wgtypes.Key
	KeepaliveInterval *uint16 // seconds
	Endpoint          *netip.AddrPort
	ReplaceAllowedIPs bool
}

// RemovePeer deletes the peer identified by PublicKey.
type RemovePeer struct {
	PublicKey wgtypes.Key
}

// UpsertAllowedIP authorizes Prefix for the peer identified by Peer.
type UpsertAllowedIP struct {
	Prefix netip.Prefix
	Peer   wgtypes.Key
}

// RemoveAllowedIP revokes Prefix from the peer identified by Peer.
type RemoveAllowedIP struct {
	Prefix netip.Prefix
	Peer   wgtypes.Key
}

func (SetInterface) mutation()    {}
func (UpsertPeer) mutation()      {}
func (RemovePeer) mutation()      {}
func (UpsertAllowedIP) mutation() {}
func (RemoveAllowedIP) mutation() {}

// Compile turns a decoded configuration tree into an ordered list of mutations.
//
// Flags are checked for consistency: a peer must carry its public key, a
// removal carries nothing besides the key, an allowed IP cannot be removed
// from a list which is being replaced, and unknown bits are rejected. Any
// violation is reported as [wgh.ErrInvalidArgument].
func Compile(ifc *wgh.Interface) ([]Mutation, error) {
	if !ifc.Flags.Valid() {
		return nil, fmt.Errorf("%w: unknown interface flags %#x", wgh.ErrInvalidArgument, uint8(ifc.Flags))
	}

	mutations := make([]Mutation, 0, 1+len(ifc.Peers))

	if ifc.Flags != 0 {
		set := SetInterface{
			ReplacePeers: ifc.Flags.Has(wgh.InterfaceReplacePeers),
		}

		if ifc.Flags.Has(wgh.InterfaceHasPrivate) {
			set.PrivateKey = keyPtr(ifc.Private)
		}

		if ifc.Flags.Has(wgh.InterfaceHasPublic) {
			set.PublicKey = keyPtr(ifc.Public)
		}

		if ifc.Flags.Has(wgh.InterfaceHasPort) {
			port := ifc.Port
			set.ListenPort = &port
		}

		if ifc.Flags.Has(wgh.InterfaceHasRtable) {
			rtable := ifc.Rtable
			set.Rtable = &rtable
		}

		mutations = append(mutations, set)
	}

	for i := range ifc.Peers {
		peerMutations, err := compilePeer(&ifc.Peers[i], ifc.Flags.Has(wgh.InterfaceReplacePeers))
		if err != nil {
			return nil, fmt.Errorf("peer %d: %w", i, err)
		}

		mutations = append(mutations, peerMutations...)
	}

	return mutations, nil
}

func compilePeer(p *wgh.Peer, replacePeers bool) ([]Mutation, error) {
	switch {
	case !p.Flags.Valid():
		return nil, fmt.Errorf("%w: unknown peer flags %#x", wgh.ErrInvalidArgument, int32(p.Flags))
	case !p.Flags.Has(wgh.PeerHasPublic):
		return nil, fmt.Errorf("%w: peer has no public key", wgh.ErrInvalidArgument)
	case p.ProtocolVersion != 0 && p.ProtocolVersion != ProtocolVersion:
		return nil, fmt.Errorf("%w: unsupported protocol version %d", wgh.ErrInvalidArgument, p.ProtocolVersion)
	}

	public := wgtypes.Key(p.Public)

	if p.Flags.Has(wgh.PeerRemove) {
		switch {
		case p.Flags&^(wgh.PeerHasPublic|wgh.PeerRemove) != 0:
			return nil, fmt.Errorf("%w: removal of %s carries other flags %#x", wgh.ErrInvalidArgument, public, int32(p.Flags))
		case len(p.AllowedIPs) > 0:
			return nil, fmt.Errorf("%w: removal of %s carries allowed IPs", wgh.ErrInvalidArgument, public)
		case replacePeers:
			return nil, fmt.Errorf("%w: removal of %s while replacing all peers", wgh.ErrInvalidArgument, public)
		}

		return []Mutation{RemovePeer{PublicKey: public}}, nil
	}

	// A record without REMOVE merges into the peer or creates it, UPDATE is implied.
	upsert := UpsertPeer{
		PublicKey:         public,
		ReplaceAllowedIPs: p.Flags.Has(wgh.PeerReplaceAIPs),
	}

	if p.Flags.Has(wgh.PeerHasPSK) {
		upsert.PresharedKey = keyPtr(p.PSK)
	}

	if p.Flags.Has(wgh.PeerHasPKA) {
		pka := p.PKA
		upsert.KeepaliveInterval = &pka
	}

	if p.Flags.Has(wgh.PeerHasEndpoint) {
		endpoint := p.Endpoint
		upsert.Endpoint = &endpoint
	}

	mutations := make([]Mutation, 0, 1+len(p.AllowedIPs))
	mutations = append(mutations, upsert)

	for j, aip := range p.AllowedIPs {
		switch {
		case !aip.Flags.Valid():
			return nil, fmt.Errorf("%w: allowed IP %d: unknown flags %#x", wgh.ErrInvalidArgument, j, int32(aip.Flags))
		case !aip.Prefix.IsValid():
			return nil, fmt.Errorf("%w: allowed IP %d: invalid prefix", wgh.ErrInvalidArgument, j)
		case aip.Flags.Has(wgh.AIPRemove) && upsert.ReplaceAllowedIPs:
			return nil, fmt.Errorf("%w: allowed IP %d: removal of %s while replacing all allowed IPs", wgh.ErrInvalidArgument, j, aip.Prefix)
		case aip.Flags.Has(wgh.AIPRemove):
			mutations = append(mutations, RemoveAllowedIP{Peer: public, Prefix: aip.Prefix})
		default:
			mutations = append(mutations, UpsertAllowedIP{Peer: public, Prefix: aip.Prefix})
		}
	}

	return mutations, nil
}

func keyPtr(k [wgh.KeyLen]byte) *wgtypes.Key {
	key := wgtypes.Key(k)

	return &key
}
