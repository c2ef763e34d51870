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

// Limits bounds the number of records Unmarshal accepts. Zero means unbounded.
type Limits struct {
	MaxPeers      int
	MaxAllowedIPs int
}

// Unmarshal decodes a serialized tree from b.
//
// b must be exactly the declared buffer, nothing past it is read. Every
// reference has to be aligned and point forward past the record which holds
// it, so lists are always acyclic and terminate within b.
func Unmarshal(b []byte, lim Limits) (*Interface, error) {
	if len(b) < SizeofInterfaceIO {
		return nil, fmt.Errorf("%w: buffer of %d bytes cannot hold an interface record", ErrInvalidArgument, len(b))
	}

	ifc := &Interface{
		Flags:  InterfaceFlag(b[offIfFlags]),
		Port:   native.Endian.Uint16(b[offIfPort:]),
		Rtable: int32(native.Endian.Uint32(b[offIfRtable:])),
	}

	copy(ifc.Public[:], b[offIfPublic:offIfPublic+KeyLen])
	copy(ifc.Private[:], b[offIfPrivate:offIfPrivate+KeyLen])

	var aips int

	end := SizeofInterfaceIO

	for ref := getRef(b, offIfPeers); ref != 0; {
		off, err := checkRef(b, ref, end, SizeofPeerIO)
		if err != nil {
			return nil, fmt.Errorf("peer %d: %w", len(ifc.Peers), err)
		}

		if lim.MaxPeers > 0 && len(ifc.Peers) >= lim.MaxPeers {
			return nil, fmt.Errorf("%w: more than %d peers", ErrInvalidArgument, lim.MaxPeers)
		}

		p, err := getPeer(b[off : off+SizeofPeerIO])
		if err != nil {
			return nil, fmt.Errorf("peer %d: %w", len(ifc.Peers), err)
		}

		end = off + SizeofPeerIO

		for aref := getRef(b, off+offPeerAIPs); aref != 0; {
			aoff, err := checkRef(b, aref, end, SizeofAIPIO)
			if err != nil {
				return nil, fmt.Errorf("peer %d: allowed IP %d: %w", len(ifc.Peers), len(p.AllowedIPs), err)
			}

			if lim.MaxAllowedIPs > 0 && aips >= lim.MaxAllowedIPs {
				return nil, fmt.Errorf("%w: more than %d allowed IPs", ErrInvalidArgument, lim.MaxAllowedIPs)
			}

			aip, err := getAIP(b[aoff : aoff+SizeofAIPIO])
			if err != nil {
				return nil, fmt.Errorf("peer %d: allowed IP %d: %w", len(ifc.Peers), len(p.AllowedIPs), err)
			}

			p.AllowedIPs = append(p.AllowedIPs, aip)
			aips++

			end = aoff + SizeofAIPIO
			aref = getRef(b, aoff+offAIPNext)
		}

		ifc.Peers = append(ifc.Peers, p)

		ref = getRef(b, off+offPeerNext)
	}

	return ifc, nil
}

func getRef(b []byte, at int) uint64 {
	return native.Endian.Uint64(b[at : at+8])
}

// checkRef validates that ref points to a whole record of the given size
// located at or after lowest, and returns it as an offset into b.
func checkRef(b []byte, ref uint64, lowest, size int) (int, error) {
	switch {
	case ref < uint64(lowest):
		return 0, fmt.Errorf("%w: reference %d points backwards (expected at least %d)", ErrInvalidArgument, ref, lowest)
	case ref%refAlign != 0:
		return 0, fmt.Errorf("%w: reference %d is not aligned", ErrInvalidArgument, ref)
	case ref > uint64(len(b)) || uint64(len(b))-ref < uint64(size):
		return 0, fmt.Errorf("%w: reference %d runs past the buffer of %d bytes", ErrInvalidArgument, ref, len(b))
	}

	return int(ref), nil
}

func getPeer(b []byte) (Peer, error) {
	p := Peer{
		Flags:           PeerFlag(int32(native.Endian.Uint32(b[offPeerFlags:]))),
		ProtocolVersion: int32(native.Endian.Uint32(b[offPeerProtocol:])),
		PKA:             native.Endian.Uint16(b[offPeerPKA:]),
		TxBytes:         native.Endian.Uint64(b[offPeerTx:]),
		RxBytes:         native.Endian.Uint64(b[offPeerRx:]),
		LastHandshake: Timespec{
			Sec:  int64(native.Endian.Uint64(b[offPeerHandshake:])),
			Nsec: int64(native.Endian.Uint64(b[offPeerHandshake+8:])),
		},
	}

	copy(p.Public[:], b[offPeerPublic:offPeerPublic+KeyLen])
	copy(p.PSK[:], b[offPeerPSK:offPeerPSK+KeyLen])

	endpoint, err := getSockaddr(b[offPeerEndpoint : offPeerEndpoint+sizeofSockaddrIn6])
	if err != nil {
		if p.Flags.Has(PeerHasEndpoint) {
			return Peer{}, err
		}

		// The union is not meaningful without the presence flag.
		endpoint = netip.AddrPort{}
	}

	p.Endpoint = endpoint

	return p, nil
}

func getAIP(b []byte) (AllowedIP, error) {
	var (
		flags = AIPFlag(int32(native.Endian.Uint32(b[offAIPFlags:])))
		af    = native.Endian.Uint16(b[offAIPAF:])
		cidr  = int32(native.Endian.Uint32(b[offAIPCIDR:]))
		addr  netip.Addr
	)

	switch af {
	case AFInet:
		addr = netip.AddrFrom4([4]byte(b[offAIPAddr : offAIPAddr+4]))
	case AFInet6:
		addr = netip.AddrFrom16([16]byte(b[offAIPAddr : offAIPAddr+16]))
	default:
		return AllowedIP{}, fmt.Errorf("%w: unknown address family %d", ErrInvalidArgument, af)
	}

	if cidr < 0 || int(cidr) > addr.BitLen() {
		return AllowedIP{}, fmt.Errorf("%w: prefix length %d out of range for family %d", ErrInvalidArgument, cidr, af)
	}

	return AllowedIP{Flags: flags, Prefix: netip.PrefixFrom(addr, int(cidr))}, nil
}

func getSockaddr(b []byte) (netip.AddrPort, error) {
	port := binary.BigEndian.Uint16(b[2:4])

	switch b[1] {
	case AFUnspec:
		return netip.AddrPort{}, nil
	case AFInet:
		if b[0] != sizeofSockaddrIn {
			return netip.AddrPort{}, fmt.Errorf("%w: endpoint length %d does not match family %d", ErrInvalidArgument, b[0], b[1])
		}

		return netip.AddrPortFrom(netip.AddrFrom4([4]byte(b[4:8])), port), nil
	case AFInet6:
		if b[0] != sizeofSockaddrIn6 {
			return netip.AddrPort{}, fmt.Errorf("%w: endpoint length %d does not match family %d", ErrInvalidArgument, b[0], b[1])
		}

		return netip.AddrPortFrom(netip.AddrFrom16([16]byte(b[8:24])), port), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: unknown endpoint address family %d", ErrInvalidArgument, b[1])
	}
}
