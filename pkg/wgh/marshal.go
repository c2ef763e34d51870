// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wgh

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/josharian/native"
)

// Marshal serializes the tree into a newly allocated buffer.
//
// The buffer starts with the interface record, followed by each peer record
// and that peer's allowed-IP records. References are byte offsets from the
// start of the buffer, zero terminates a list.
func Marshal(ifc *Interface) ([]byte, error) {
	b := make([]byte, ifc.Size())

	if _, _, err := MarshalInto(b, ifc); err != nil {
		return nil, err
	}

	return b, nil
}

// MarshalInto serializes as much of the tree as fits into dst.
//
// Only whole peers (the peer record with all of its allowed IPs) are written,
// the peer list is terminated after the last peer which fits. It returns the
// number of bytes written and the size the complete tree requires. If dst
// cannot hold the interface record, nothing is written.
func MarshalInto(dst []byte, ifc *Interface) (n, required int, err error) {
	if err = ifc.validateEncode(); err != nil {
		return 0, 0, err
	}

	required = ifc.Size()

	if len(dst) < SizeofInterfaceIO {
		return 0, required, nil
	}

	clear(dst[:min(len(dst), required)])

	putInterface(dst, ifc)

	off := SizeofInterfaceIO
	link := offIfPeers

	for i := range ifc.Peers {
		p := &ifc.Peers[i]

		if off+SizeofPeerIO+len(p.AllowedIPs)*SizeofAIPIO > len(dst) {
			break
		}

		putRef(dst, link, off)
		putPeer(dst[off:off+SizeofPeerIO], p)

		aipLink := off + offPeerAIPs
		link = off + offPeerNext
		off += SizeofPeerIO

		for j := range p.AllowedIPs {
			putRef(dst, aipLink, off)
			putAIP(dst[off:off+SizeofAIPIO], &p.AllowedIPs[j])

			aipLink = off + offAIPNext
			off += SizeofAIPIO
		}
	}

	return off, required, nil
}

func (ifc *Interface) validateEncode() error {
	for i := range ifc.Peers {
		p := &ifc.Peers[i]

		if p.Endpoint.IsValid() && p.Endpoint.Addr().Zone() != "" {
			return fmt.Errorf("%w: peer %d: endpoint %s carries a zone", ErrInvalidArgument, i, p.Endpoint)
		}

		for j, aip := range p.AllowedIPs {
			if !aip.Prefix.IsValid() {
				return fmt.Errorf("%w: peer %d: allowed IP %d: invalid prefix", ErrInvalidArgument, i, j)
			}
		}
	}

	return nil
}

func putRef(b []byte, at, off int) {
	native.Endian.PutUint64(b[at:at+8], uint64(off))
}

func putInterface(b []byte, ifc *Interface) {
	b[offIfFlags] = uint8(ifc.Flags)
	native.Endian.PutUint16(b[offIfPort:], ifc.Port)
	native.Endian.PutUint32(b[offIfRtable:], uint32(ifc.Rtable))
	copy(b[offIfPublic:offIfPublic+KeyLen], ifc.Public[:])
	copy(b[offIfPrivate:offIfPrivate+KeyLen], ifc.Private[:])
}

func putPeer(b []byte, p *Peer) {
	native.Endian.PutUint32(b[offPeerFlags:], uint32(p.Flags))
	native.Endian.PutUint32(b[offPeerProtocol:], uint32(p.ProtocolVersion))
	copy(b[offPeerPublic:offPeerPublic+KeyLen], p.Public[:])
	copy(b[offPeerPSK:offPeerPSK+KeyLen], p.PSK[:])
	native.Endian.PutUint16(b[offPeerPKA:], p.PKA)
	putSockaddr(b[offPeerEndpoint:offPeerEndpoint+sizeofSockaddrIn6], p.Endpoint)
	native.Endian.PutUint64(b[offPeerTx:], p.TxBytes)
	native.Endian.PutUint64(b[offPeerRx:], p.RxBytes)
	native.Endian.PutUint64(b[offPeerHandshake:], uint64(p.LastHandshake.Sec))
	native.Endian.PutUint64(b[offPeerHandshake+8:], uint64(p.LastHandshake.Nsec))
}

func putAIP(b []byte, aip *AllowedIP) {
	native.Endian.PutUint32(b[offAIPFlags:], uint32(aip.Flags))
	native.Endian.PutUint32(b[offAIPCIDR:], uint32(aip.Prefix.Bits()))

	addr := aip.Prefix.Addr()

	if addr.Is4() {
		native.Endian.PutUint16(b[offAIPAF:], AFInet)

		a4 := addr.As4()
		copy(b[offAIPAddr:offAIPAddr+4], a4[:])

		return
	}

	native.Endian.PutUint16(b[offAIPAF:], AFInet6)

	a16 := addr.As16()
	copy(b[offAIPAddr:offAIPAddr+16], a16[:])
}

// putSockaddr writes a BSD sockaddr_in or sockaddr_in6, the port is in network byte order.
func putSockaddr(b []byte, ap netip.AddrPort) {
	if !ap.IsValid() {
		return
	}

	binary.BigEndian.PutUint16(b[2:4], ap.Port())

	addr := ap.Addr()

	if addr.Is4() {
		b[0] = sizeofSockaddrIn
		b[1] = AFInet

		a4 := addr.As4()
		copy(b[4:8], a4[:])

		return
	}

	b[0] = sizeofSockaddrIn6
	b[1] = AFInet6

	a16 := addr.As16()
	copy(b[8:24], a16[:])
}
