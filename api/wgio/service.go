// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package pb provides the gRPC definitions of the wgio control API.
//
// The service carries wg_data_io requests between a remote caller and the
// driver. Requests and responses are frames wrapped into well-known types, so
// the API needs no generated message code.
package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Full method names of ControlService.
const (
	ControlServiceGetFullMethodName  = "/wgio.ControlService/Get"
	ControlServiceSetFullMethodName  = "/wgio.ControlService/Set"
	ControlServiceListFullMethodName = "/wgio.ControlService/List"
)

// ControlServiceClient is the client API for ControlService.
type ControlServiceClient interface {
	// Get performs SIOCGWG on the request frame and returns the response frame.
	Get(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	// Set performs SIOCSWG on the request frame.
	Set(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	// List returns the names of all interfaces.
	List(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
}

type controlServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewControlServiceClient creates a ControlService client on top of a connection.
func NewControlServiceClient(cc grpc.ClientConnInterface) ControlServiceClient {
	return &controlServiceClient{cc}
}

func (c *controlServiceClient) Get(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)

	if err := c.cc.Invoke(ctx, ControlServiceGetFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *controlServiceClient) Set(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)

	if err := c.cc.Invoke(ctx, ControlServiceSetFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *controlServiceClient) List(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)

	if err := c.cc.Invoke(ctx, ControlServiceListFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// ControlServiceServer is the server API for ControlService.
//
// Implementations must embed UnimplementedControlServiceServer.
type ControlServiceServer interface {
	Get(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Set(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	List(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	mustEmbedUnimplementedControlServiceServer()
}

// UnimplementedControlServiceServer must be embedded by ControlServiceServer implementations.
type UnimplementedControlServiceServer struct{}

// Get implements ControlServiceServer.
func (UnimplementedControlServiceServer) Get(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}

// Set implements ControlServiceServer.
func (UnimplementedControlServiceServer) Set(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Set not implemented")
}

// List implements ControlServiceServer.
func (UnimplementedControlServiceServer) List(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method List not implemented")
}

func (UnimplementedControlServiceServer) mustEmbedUnimplementedControlServiceServer() {}

// RegisterControlServiceServer registers srv with a gRPC server.
func RegisterControlServiceServer(s grpc.ServiceRegistrar, srv ControlServiceServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

func bytesHandler(
	fullMethod string,
	call func(ControlServiceServer, context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.BytesValue)

		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(ControlServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}

		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServiceServer), ctx, req.(*wrapperspb.BytesValue))
		})
	}
}

func listHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)

	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ControlServiceServer).List(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ControlServiceListFullMethodName}

	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServiceServer).List(ctx, req.(*emptypb.Empty))
	})
}

// ControlServiceDesc is the grpc.ServiceDesc for ControlService.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: "wgio.ControlService",
	HandlerType: (*ControlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Get",
			Handler:    bytesHandler(ControlServiceGetFullMethodName, ControlServiceServer.Get),
		},
		{
			MethodName: "Set",
			Handler:    bytesHandler(ControlServiceSetFullMethodName, ControlServiceServer.Set),
		},
		{
			MethodName: "List",
			Handler:    listHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wgio/control.proto",
}
