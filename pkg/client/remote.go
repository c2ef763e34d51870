// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package client

import (
	"context"
	"fmt"

	"github.com/siderolabs/gen/xslices"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	pb "github.com/siderolabs/wgio/api/wgio"
	"github.com/siderolabs/wgio/pkg/wgh"
)

// NewRemote creates a client talking to a ControlService over cc.
//
// A non-empty token is presented to the server for privileged access. The
// connection is owned by the caller, closing the client leaves it open.
func NewRemote(cc grpc.ClientConnInterface, token string) *Client {
	return NewClient(&remoteTransport{
		client: pb.NewControlServiceClient(cc),
		token:  token,
	})
}

type remoteTransport struct {
	client pb.ControlServiceClient
	token  string
}

func (t *remoteTransport) context(ctx context.Context) context.Context {
	if t.token == "" {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+t.token)
}

func (t *remoteTransport) IoctlWGDataIO(ctx context.Context, req uint, data *wgh.DataIO) error {
	ctx = t.context(ctx)

	switch req {
	case wgh.SIOCGWG:
		// the server allocates the buffer, only the size travels
		resp, err := t.client.Get(ctx, pb.EncodeFrame(&wgh.DataIO{Name: data.Name, Size: data.Size}))
		if err != nil {
			size, err := pb.FromStatusError(err)
			if size > 0 {
				data.Size = size
			}

			return err
		}

		out, err := pb.DecodeFrame(resp)
		if err != nil {
			return err
		}

		if uint64(len(out.Mem)) > uint64(len(data.Mem)) {
			return fmt.Errorf("%w: response of %d bytes exceeds buffer of %d bytes", wgh.ErrInvalidArgument, len(out.Mem), len(data.Mem))
		}

		copy(data.Mem, out.Mem)
		data.Size = out.Size

		return nil
	case wgh.SIOCSWG:
		_, err := t.client.Set(ctx, pb.EncodeFrame(data))
		_, err = pb.FromStatusError(err)

		return err
	default:
		return fmt.Errorf("request %#x: %w", req, unix.ENOTTY)
	}
}

func (t *remoteTransport) Interfaces(ctx context.Context) ([]string, error) {
	list, err := t.client.List(t.context(ctx), &emptypb.Empty{})
	if err != nil {
		_, err = pb.FromStatusError(err)

		return nil, err
	}

	return xslices.Map(list.GetValues(), (*structpb.Value).GetStringValue), nil
}

func (t *remoteTransport) Close() error { return nil }
