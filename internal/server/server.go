// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package server implements the gRPC control API on top of the driver.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/siderolabs/gen/xslices"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	pb "github.com/siderolabs/wgio/api/wgio"
	"github.com/siderolabs/wgio/pkg/ifwg"
	"github.com/siderolabs/wgio/pkg/wgh"
)

// AuthorizationKey is the metadata key carrying the control token.
const AuthorizationKey = "authorization"

// Server implements the ControlService gRPC API.
type Server struct {
	pb.UnimplementedControlServiceServer

	cfg Config
}

// Config configures the server.
//
//nolint:govet
type Config struct {
	Driver *ifwg.Driver
	Logger *zap.Logger

	// Token, when set, is required for privileged access. Without a token
	// every caller is privileged.
	Token string

	// MaxBufferSize bounds the buffer the server allocates for a read.
	MaxBufferSize uint64
}

// NewServer initializes new server.
func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// Get reads the configuration of an interface.
func (srv *Server) Get(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	data, err := pb.DecodeFrame(req)
	if err != nil {
		return nil, pb.StatusError(err, 0)
	}

	cred := srv.cred(ctx)

	if data.Size > 0 && len(data.Mem) == 0 {
		err = srv.readBuffer(cred, data)
	}

	if err == nil {
		err = srv.cfg.Driver.Ioctl(cred, wgh.SIOCGWG, data)
	}

	if err != nil {
		srv.cfg.Logger.Debug("get failed",
			zap.String("interface", data.InterfaceName()),
			zap.Bool("privileged", cred.Privileged),
			zap.Error(err),
		)

		return nil, pb.StatusError(err, data.Size)
	}

	return pb.EncodeFrame(data), nil
}

// readBuffer allocates the buffer for a read which carries only a size.
//
// The allocation is bounded by what the interface currently needs rather than
// by the size the caller asked for.
func (srv *Server) readBuffer(cred ifwg.Cred, data *wgh.DataIO) error {
	if srv.cfg.MaxBufferSize > 0 && data.Size > srv.cfg.MaxBufferSize {
		return fmt.Errorf("%w: buffer size %d exceeds %d", wgh.ErrInvalidArgument, data.Size, srv.cfg.MaxBufferSize)
	}

	probe := wgh.DataIO{Name: data.Name}

	if err := srv.cfg.Driver.Ioctl(cred, wgh.SIOCGWG, &probe); err != nil {
		return err
	}

	data.Size = min(data.Size, probe.Size)
	data.Mem = make([]byte, data.Size)

	return nil
}

// Set applies a configuration to an interface.
func (srv *Server) Set(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	data, err := pb.DecodeFrame(req)
	if err != nil {
		return nil, pb.StatusError(err, 0)
	}

	cred := srv.cred(ctx)

	if err = srv.cfg.Driver.Ioctl(cred, wgh.SIOCSWG, data); err != nil {
		srv.cfg.Logger.Info("set failed",
			zap.String("interface", data.InterfaceName()),
			zap.Bool("privileged", cred.Privileged),
			zap.Error(err),
		)

		return nil, pb.StatusError(err, 0)
	}

	srv.cfg.Logger.Info("interface configured", zap.String("interface", data.InterfaceName()), zap.Uint64("size", data.Size))

	return &wrapperspb.BytesValue{}, nil
}

// List returns the names of all interfaces.
func (srv *Server) List(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return &structpb.ListValue{
		Values: xslices.Map(srv.cfg.Driver.Interfaces(), structpb.NewStringValue),
	}, nil
}

func (srv *Server) cred(ctx context.Context) ifwg.Cred {
	if srv.cfg.Token == "" {
		return ifwg.Cred{Privileged: true}
	}

	md, _ := metadata.FromIncomingContext(ctx)

	for _, value := range md.Get(AuthorizationKey) {
		token := strings.TrimPrefix(value, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(token), []byte(srv.cfg.Token)) == 1 {
			return ifwg.Cred{Privileged: true}
		}
	}

	return ifwg.Cred{}
}
