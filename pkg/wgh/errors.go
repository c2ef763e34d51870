// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wgh

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Errors reported by the control operations.
var (
	// ErrNotFound is returned when an interface, peer or prefix required to exist is absent.
	ErrNotFound = errors.New("not found")

	// ErrBufferTooSmall is returned by a read when the supplied buffer cannot hold the configuration.
	//
	// The required size is reported back in DataIO.Size, the caller should retry with a larger buffer.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrInvalidArgument is returned for malformed records, inconsistent flags and oversized names.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermissionDenied is returned when the caller may not mutate the configuration.
	ErrPermissionDenied = errors.New("permission denied")
)

// Errno converts an error of the taxonomy into the errno the driver reports.
//
// Errors outside of the taxonomy are reported as EIO.
func Errno(err error) unix.Errno {
	var errno unix.Errno

	switch {
	case err == nil:
		return 0
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, ErrNotFound):
		return unix.ENXIO
	case errors.Is(err, ErrBufferTooSmall):
		return unix.ENOSPC
	case errors.Is(err, ErrInvalidArgument):
		return unix.EINVAL
	case errors.Is(err, ErrPermissionDenied):
		return unix.EPERM
	default:
		return unix.EIO
	}
}

// FromErrno converts an errno returned by the driver into an error of the taxonomy.
//
// The returned error wraps both the taxonomy error and the errno itself.
func FromErrno(errno unix.Errno) error {
	var kind error

	switch errno {
	case 0:
		return nil
	case unix.ENXIO, unix.ENOENT:
		kind = ErrNotFound
	case unix.ENOSPC:
		kind = ErrBufferTooSmall
	case unix.EINVAL, unix.E2BIG, unix.ENAMETOOLONG:
		kind = ErrInvalidArgument
	case unix.EPERM, unix.EACCES:
		kind = ErrPermissionDenied
	default:
		return errno
	}

	return &errnoError{kind: kind, errno: errno}
}

type errnoError struct {
	kind  error
	errno unix.Errno
}

func (e *errnoError) Error() string { return e.errno.Error() }

func (e *errnoError) Unwrap() []error { return []error{e.kind, e.errno} }
