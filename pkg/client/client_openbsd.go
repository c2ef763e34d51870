// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build openbsd

package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/siderolabs/wgio/pkg/wgh"
)

// siocgifgmemb is _IOWR('i', 138, struct ifgroupreq).
const siocgifgmemb = 0xc028698a

// ifGroupWG is the interface group every WireGuard interface is a member of.
var ifGroupWG = [wgh.IFNAMSIZ]byte{0: 'w', 1: 'g'}

// wgDataIO mirrors struct wg_data_io.
type wgDataIO struct {
	Name [wgh.IFNAMSIZ]byte
	Size uint64
	Mem  *byte
}

// ifgroupreq mirrors struct ifgroupreq.
type ifgroupreq struct {
	Name   [wgh.IFNAMSIZ]byte
	Len    uint32
	_      [4]byte
	Groups *ifgreq
	_      [8]byte
}

// ifgreq mirrors struct ifg_req.
type ifgreq struct {
	Member [wgh.IFNAMSIZ]byte
}

// New creates a client issuing control operations to the kernel.
//
// The operations are performed on a generic AF_INET socket.
func New() (*Client, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("error creating control socket: %w", err)
	}

	return NewClient(&kernelTransport{fd: fd}), nil
}

type kernelTransport struct {
	fd int
}

func (t *kernelTransport) ioctl(req uint, arg unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(t.fd), uintptr(req), uintptr(arg)); errno != 0 {
		return wgh.FromErrno(errno)
	}

	return nil
}

func (t *kernelTransport) IoctlWGDataIO(ctx context.Context, req uint, data *wgh.DataIO) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf, err := data.Buffer()
	if err != nil {
		return err
	}

	kdata := wgDataIO{Name: data.Name, Size: data.Size}

	if len(buf) == 0 {
		err = t.ioctl(req, unsafe.Pointer(&kdata))
		data.Size = kdata.Size

		return err
	}

	kdata.Mem = &buf[0]
	base := uint64(uintptr(unsafe.Pointer(kdata.Mem)))

	if req == wgh.SIOCSWG {
		if err = wgh.Relocate(buf, base); err != nil {
			return err
		}

		// the caller keeps its buffer with offsets
		defer wgh.Unrelocate(buf, base) //nolint:errcheck
	}

	err = t.ioctl(req, unsafe.Pointer(&kdata))

	runtime.KeepAlive(buf)

	if req == wgh.SIOCGWG {
		data.Size = kdata.Size

		if err == nil {
			return wgh.Unrelocate(buf[:min(uint64(len(buf)), kdata.Size)], base)
		}
	}

	return err
}

func (t *kernelTransport) Interfaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ifg := ifgroupreq{Name: ifGroupWG}

	if err := t.ioctl(siocgifgmemb, unsafe.Pointer(&ifg)); err != nil {
		// the group does not exist until the first interface is created
		if errors.Is(err, unix.ENOENT) {
			return nil, nil
		}

		return nil, err
	}

	if ifg.Len == 0 {
		return nil, nil
	}

	ifgrs := make([]ifgreq, ifg.Len/uint32(unsafe.Sizeof(ifgreq{})))
	ifg.Groups = &ifgrs[0]

	if err := t.ioctl(siocgifgmemb, unsafe.Pointer(&ifg)); err != nil {
		return nil, err
	}

	runtime.KeepAlive(ifgrs)

	names := make([]string, 0, len(ifgrs))

	for _, ifgr := range ifgrs {
		names = append(names, string(bytes.TrimRight(ifgr.Member[:], "\x00")))
	}

	return names, nil
}

func (t *kernelTransport) Close() error {
	return unix.Close(t.fd)
}
