// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wgh

import (
	"fmt"

	"github.com/josharian/native"
)

// Relocate rewrites every reference of a serialized tree from a buffer
// offset into base+offset, which is the form a driver dereferencing real
// pointers expects when b is located at base.
func Relocate(b []byte, base uint64) error {
	return rewriteRefs(b, func(ref uint64) (uint64, uint64, error) {
		return ref, ref + base, nil
	})
}

// Unrelocate is the inverse of Relocate: it rewrites references holding
// absolute addresses within b (located at base) back into buffer offsets.
func Unrelocate(b []byte, base uint64) error {
	return rewriteRefs(b, func(ref uint64) (uint64, uint64, error) {
		if ref < base {
			return 0, 0, fmt.Errorf("%w: address %#x is below the buffer at %#x", ErrInvalidArgument, ref, base)
		}

		return ref - base, ref - base, nil
	})
}

// rewriteRefs walks the tree in b. For each non-null reference, conv returns
// the buffer offset it designates and the value to store in its place.
func rewriteRefs(b []byte, conv func(ref uint64) (off, stored uint64, err error)) error {
	if len(b) < SizeofInterfaceIO {
		return fmt.Errorf("%w: buffer of %d bytes cannot hold an interface record", ErrInvalidArgument, len(b))
	}

	follow := func(link, lowest, size int) (int, bool, error) {
		ref := getRef(b, link)
		if ref == 0 {
			return 0, false, nil
		}

		off, stored, err := conv(ref)
		if err != nil {
			return 0, false, err
		}

		at, err := checkRef(b, off, lowest, size)
		if err != nil {
			return 0, false, err
		}

		native.Endian.PutUint64(b[link:link+8], stored)

		return at, true, nil
	}

	end := SizeofInterfaceIO
	link := offIfPeers

	for {
		off, ok, err := follow(link, end, SizeofPeerIO)
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}

		end = off + SizeofPeerIO
		aipLink := off + offPeerAIPs

		for {
			aoff, ok, err := follow(aipLink, end, SizeofAIPIO)
			if err != nil {
				return err
			}

			if !ok {
				break
			}

			end = aoff + SizeofAIPIO
			aipLink = aoff + offAIPNext
		}

		link = off + offPeerNext
	}
}
