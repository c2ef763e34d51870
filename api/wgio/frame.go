// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pb

import (
	"fmt"

	"github.com/josharian/native"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/siderolabs/wgio/pkg/wgh"
)

const frameHeaderSize = wgh.IFNAMSIZ + 8

// EncodeFrame wraps a request into a frame: the name field, the declared
// size and the buffer contents up to the declared size.
//
// A request with an empty buffer and a non-zero size asks the peer to
// allocate the buffer itself.
func EncodeFrame(data *wgh.DataIO) *wrapperspb.BytesValue {
	mem := data.Mem
	if uint64(len(mem)) > data.Size {
		mem = mem[:data.Size]
	}

	b := make([]byte, frameHeaderSize+len(mem))

	copy(b, data.Name[:])
	native.Endian.PutUint64(b[wgh.IFNAMSIZ:], data.Size)
	copy(b[frameHeaderSize:], mem)

	return wrapperspb.Bytes(b)
}

// DecodeFrame unwraps a frame produced by EncodeFrame.
func DecodeFrame(frame *wrapperspb.BytesValue) (*wgh.DataIO, error) {
	b := frame.GetValue()

	if len(b) < frameHeaderSize {
		return nil, fmt.Errorf("%w: frame of %d bytes is shorter than its header", wgh.ErrInvalidArgument, len(b))
	}

	data := &wgh.DataIO{
		Size: native.Endian.Uint64(b[wgh.IFNAMSIZ:]),
	}

	copy(data.Name[:], b[:wgh.IFNAMSIZ])

	if mem := b[frameHeaderSize:]; len(mem) > 0 {
		if uint64(len(mem)) > data.Size {
			return nil, fmt.Errorf("%w: frame carries %d bytes for a declared size of %d", wgh.ErrInvalidArgument, len(mem), data.Size)
		}

		data.Mem = mem
	}

	return data, nil
}
