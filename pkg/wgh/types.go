// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wgh

import (
	"bytes"
	"fmt"
	"net/netip"
	"time"
)

// DataIO is the outer request shared by both control operations.
//
// Size is the declared size of Mem. On a read the driver stores the size the
// configuration requires in Size, whether or not it fit.
type DataIO struct {
	Mem  []byte
	Size uint64
	Name [IFNAMSIZ]byte
}

// NewDataIO builds a request for the named interface with the given buffer.
func NewDataIO(name string, mem []byte) (*DataIO, error) {
	dname, err := DeviceName(name)
	if err != nil {
		return nil, err
	}

	return &DataIO{Name: dname, Size: uint64(len(mem)), Mem: mem}, nil
}

// Buffer returns the part of Mem covered by the declared size.
func (d *DataIO) Buffer() ([]byte, error) {
	if d.Size > uint64(len(d.Mem)) {
		return nil, fmt.Errorf("%w: declared size %d exceeds buffer of %d bytes", ErrInvalidArgument, d.Size, len(d.Mem))
	}

	return d.Mem[:d.Size], nil
}

// InterfaceName returns the interface name up to the first NUL byte.
func (d *DataIO) InterfaceName() string {
	if n := bytes.IndexByte(d.Name[:], 0); n >= 0 {
		return string(d.Name[:n])
	}

	return string(d.Name[:])
}

// CheckName returns the interface name, the name field must hold
// a non-empty NUL-terminated string.
func (d *DataIO) CheckName() (string, error) {
	n := bytes.IndexByte(d.Name[:], 0)

	switch n {
	case -1:
		return "", fmt.Errorf("%w: interface name %q is not NUL-terminated", ErrInvalidArgument, d.Name[:])
	case 0:
		return "", fmt.Errorf("%w: empty interface name", ErrInvalidArgument)
	}

	return string(d.Name[:n]), nil
}

// DeviceName converts an interface name into the fixed-size name field.
func DeviceName(name string) ([IFNAMSIZ]byte, error) {
	var out [IFNAMSIZ]byte

	if name == "" || len(name) >= IFNAMSIZ {
		return out, fmt.Errorf("%w: interface name %q must be 1 to %d bytes", ErrInvalidArgument, name, IFNAMSIZ-1)
	}

	copy(out[:], name)

	return out, nil
}

// Interface is the decoded interface record together with its peers.
//
//nolint:govet
type Interface struct {
	Flags   InterfaceFlag
	Port    uint16
	Rtable  int32
	Public  [KeyLen]byte
	Private [KeyLen]byte
	Peers   []Peer
}

// Peer is the decoded peer record together with its allowed IPs.
//
// Endpoint is the zero value when the endpoint union holds no address.
//
//nolint:govet
type Peer struct {
	Flags           PeerFlag
	ProtocolVersion int32
	Public          [KeyLen]byte
	PSK             [KeyLen]byte
	PKA             uint16
	Endpoint        netip.AddrPort
	TxBytes         uint64
	RxBytes         uint64
	LastHandshake   Timespec
	AllowedIPs      []AllowedIP
}

// AllowedIP is the decoded allowed-IP record.
//
// The address family on the wire is derived from the prefix address.
type AllowedIP struct {
	Prefix netip.Prefix
	Flags  AIPFlag
}

// Timespec is a seconds and nanoseconds pair.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// TimespecFrom converts a time into a Timespec, the zero time maps to the zero Timespec.
func TimespecFrom(t time.Time) Timespec {
	if t.IsZero() {
		return Timespec{}
	}

	return Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// Time returns the time represented by ts, the zero Timespec maps to the zero time.
func (ts Timespec) Time() time.Time {
	if ts == (Timespec{}) {
		return time.Time{}
	}

	return time.Unix(ts.Sec, ts.Nsec)
}

// Size returns the number of bytes the serialized tree occupies.
func (ifc *Interface) Size() int {
	size := SizeofInterfaceIO

	for i := range ifc.Peers {
		size += SizeofPeerIO + len(ifc.Peers[i].AllowedIPs)*SizeofAIPIO
	}

	return size
}
