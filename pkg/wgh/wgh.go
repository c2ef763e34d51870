// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wgh describes the wg_data_io control contract between a userspace
// configuration tool and a WireGuard network interface driver.
//
// A configuration tree (one interface record, its peer records and each
// peer's allowed-IP records) is flattened into a single buffer which is
// exchanged with the driver by exactly one control operation per direction.
// All multi-byte record fields use host-native byte order.
package wgh

// KeyLen is the length of every raw key carried by the records.
const KeyLen = 32

// IFNAMSIZ is the size of the interface name field, including the NUL terminator.
const IFNAMSIZ = 16

// Control operations, both operating on a wg_data_io request.
//
// Values match _IOWR('i', 210, struct wg_data_io) and
// _IOWR('i', 211, struct wg_data_io) on LP64 hosts.
const (
	SIOCSWG uint = 0xc02069d2
	SIOCGWG uint = 0xc02069d3
)

// Address families as used by the BSD socket layer.
const (
	AFUnspec = 0
	AFInet   = 2
	AFInet6  = 24
)

// InterfaceFlag is a presence/action bit of an interface record.
type InterfaceFlag uint8

// Interface record flags.
const (
	InterfaceHasPublic InterfaceFlag = 1 << iota
	InterfaceHasPrivate
	InterfaceHasPort
	InterfaceHasRtable
	InterfaceReplacePeers

	interfaceFlagsMask = InterfaceHasPublic | InterfaceHasPrivate | InterfaceHasPort | InterfaceHasRtable | InterfaceReplacePeers
)

// PeerFlag is a presence/action bit of a peer record.
type PeerFlag int32

// Peer record flags.
const (
	PeerHasPublic PeerFlag = 1 << iota
	PeerHasPSK
	PeerHasPKA
	PeerHasEndpoint
	PeerReplaceAIPs
	PeerRemove
	PeerUpdate

	peerFlagsMask = PeerHasPublic | PeerHasPSK | PeerHasPKA | PeerHasEndpoint | PeerReplaceAIPs | PeerRemove | PeerUpdate
)

// AIPFlag is an action bit of an allowed-IP record.
type AIPFlag int32

// Allowed-IP record flags.
const (
	AIPRemove AIPFlag = 1 << iota

	aipFlagsMask = AIPRemove
)

// Has reports whether all bits of f2 are set in f.
func (f InterfaceFlag) Has(f2 InterfaceFlag) bool { return f&f2 == f2 }

// Valid reports whether f only carries known bits.
func (f InterfaceFlag) Valid() bool { return f&^interfaceFlagsMask == 0 }

// Has reports whether all bits of f2 are set in f.
func (f PeerFlag) Has(f2 PeerFlag) bool { return f&f2 == f2 }

// Valid reports whether f only carries known bits.
func (f PeerFlag) Valid() bool { return f&^peerFlagsMask == 0 }

// Has reports whether all bits of f2 are set in f.
func (f AIPFlag) Has(f2 AIPFlag) bool { return f&f2 == f2 }

// Valid reports whether f only carries known bits.
func (f AIPFlag) Valid() bool { return f&^aipFlagsMask == 0 }

// Record sizes in bytes.
const (
	SizeofDataIO      = 32
	SizeofInterfaceIO = 88
	SizeofPeerIO      = 160
	SizeofAIPIO       = 40

	sizeofSockaddrIn  = 16
	sizeofSockaddrIn6 = 28
)

// refAlign is the alignment of every record in the buffer.
const refAlign = 8

// Field offsets of struct wg_interface_io.
const (
	offIfFlags   = 0
	offIfPeers   = 8
	offIfPort    = 16
	offIfRtable  = 20
	offIfPublic  = 24
	offIfPrivate = 56
)

// Field offsets of struct wg_peer_io.
const (
	offPeerFlags     = 0
	offPeerNext      = 8
	offPeerAIPs      = 16
	offPeerProtocol  = 24
	offPeerPublic    = 28
	offPeerPSK       = 60
	offPeerPKA       = 92
	offPeerEndpoint  = 96
	offPeerTx        = 128
	offPeerRx        = 136
	offPeerHandshake = 144
)

// Field offsets of struct wg_aip_io.
const (
	offAIPFlags = 0
	offAIPNext  = 8
	offAIPAF    = 16
	offAIPCIDR  = 20
	offAIPAddr  = 24
)
