// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package server_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/siderolabs/gen/ensure"
	"github.com/siderolabs/go-pointer"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	pb "github.com/siderolabs/wgio/api/wgio"
	"github.com/siderolabs/wgio/internal/server"
	"github.com/siderolabs/wgio/pkg/client"
	"github.com/siderolabs/wgio/pkg/ifwg"
	"github.com/siderolabs/wgio/pkg/wgh"
)

const token = "secret"

type ServerSuite struct {
	suite.Suite

	server *grpc.Server
	driver *ifwg.Driver
	conn   *grpc.ClientConn
	eg     errgroup.Group
	sock   string
}

func (suite *ServerSuite) SetupSuite() {
	dir := suite.T().TempDir()
	suite.sock = filepath.Join(dir, "wgio.sock")

	lis, err := net.Listen("unix", suite.sock)
	suite.Require().NoError(err)

	logger := zaptest.NewLogger(suite.T())

	suite.driver = ifwg.New(logger, ifwg.DefaultPolicy())
	suite.Require().NoError(suite.driver.Create("wg0"))
	suite.Require().NoError(suite.driver.Create("wg1"))

	suite.server = grpc.NewServer()
	pb.RegisterControlServiceServer(suite.server, server.NewServer(server.Config{
		Driver:        suite.driver,
		Logger:        logger,
		Token:         token,
		MaxBufferSize: 1 << 20,
	}))

	suite.eg.Go(func() error {
		return suite.server.Serve(lis)
	})

	suite.conn, err = grpc.Dial(fmt.Sprintf("unix://%s", suite.sock), grpc.WithTransportCredentials(insecure.NewCredentials()))
	suite.Require().NoError(err)
}

func (suite *ServerSuite) TearDownSuite() {
	suite.Require().NoError(suite.conn.Close())

	suite.server.Stop()

	if err := suite.eg.Wait(); err != nil {
		suite.Require().True(errors.Is(err, grpc.ErrServerStopped))
	}
}

func (suite *ServerSuite) context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	suite.T().Cleanup(cancel)

	return ctx
}

func (suite *ServerSuite) TestConfigureAndRead() {
	ctx := suite.context()
	c := client.NewRemote(suite.conn, token)

	private := ensure.Value(wgtypes.GeneratePrivateKey())
	psk := ensure.Value(wgtypes.GenerateKey())

	peers := make([]wgtypes.PeerConfig, 0, 10)

	for i := range 10 {
		_, allowed, err := net.ParseCIDR(fmt.Sprintf("10.20.%d.0/24", i))
		suite.Require().NoError(err)

		peers = append(peers, wgtypes.PeerConfig{
			PublicKey:    ensure.Value(wgtypes.GeneratePrivateKey()).PublicKey(),
			PresharedKey: pointer.To(psk),
			AllowedIPs:   []net.IPNet{*allowed},
		})
	}

	suite.Require().NoError(c.ConfigureDevice(ctx, "wg0", wgtypes.Config{
		PrivateKey:   pointer.To(private),
		ListenPort:   pointer.To(51820),
		ReplacePeers: true,
		Peers:        peers,
	}))

	d, err := c.Device(ctx, "wg0")
	suite.Require().NoError(err)
	suite.Assert().Equal(private, d.PrivateKey)
	suite.Assert().Equal(51820, d.ListenPort)
	suite.Require().Len(d.Peers, 10)
	suite.Assert().Equal(psk, d.Peers[3].PresharedKey)
	suite.Assert().Equal("10.20.3.0/24", d.Peers[3].AllowedIPs[0].String())

	// without the token secrets are hidden and writes are refused
	anonymous := client.NewRemote(suite.conn, "")

	d, err = anonymous.Device(ctx, "wg0")
	suite.Require().NoError(err)
	suite.Assert().Equal(wgtypes.Key{}, d.PrivateKey)
	suite.Assert().Equal(private.PublicKey(), d.PublicKey)
	suite.Assert().Equal(wgtypes.Key{}, d.Peers[0].PresharedKey)

	err = anonymous.ConfigureDevice(ctx, "wg0", wgtypes.Config{ReplacePeers: true})
	suite.Require().ErrorIs(err, wgh.ErrPermissionDenied)

	err = client.NewRemote(suite.conn, "wrong").ConfigureDevice(ctx, "wg0", wgtypes.Config{ReplacePeers: true})
	suite.Require().ErrorIs(err, wgh.ErrPermissionDenied)
}

func (suite *ServerSuite) TestDevices() {
	ctx := suite.context()
	c := client.NewRemote(suite.conn, token)

	devices, err := c.Devices(ctx)
	suite.Require().NoError(err)
	suite.Require().Len(devices, 2)
	suite.Assert().Equal("wg0", devices[0].Name)
	suite.Assert().Equal("wg1", devices[1].Name)
}

func (suite *ServerSuite) TestNotFound() {
	ctx := suite.context()
	c := client.NewRemote(suite.conn, token)

	_, err := c.Device(ctx, "wg7")
	suite.Require().ErrorIs(err, os.ErrNotExist)

	err = c.ConfigureDevice(ctx, "wg7", wgtypes.Config{ListenPort: pointer.To(1)})
	suite.Require().ErrorIs(err, os.ErrNotExist)
}

func (suite *ServerSuite) TestInvalidArgument() {
	ctx := suite.context()
	c := client.NewRemote(suite.conn, token)

	// a peer removal under replace-peers is refused by the driver
	err := c.ConfigureDevice(ctx, "wg1", wgtypes.Config{
		ReplacePeers: true,
		Peers:        []wgtypes.PeerConfig{{PublicKey: wgtypes.Key{1}, Remove: true}},
	})
	suite.Require().ErrorIs(err, wgh.ErrInvalidArgument)

	grpcClient := pb.NewControlServiceClient(suite.conn)

	_, err = grpcClient.Set(ctx, wrapperspb.Bytes([]byte{1}))
	suite.Assert().Equal(codes.InvalidArgument, status.Code(err))

	_, err = grpcClient.Get(ctx, pb.EncodeFrame(&wgh.DataIO{Name: ensure.Value(wgh.DeviceName("wg1")), Size: 1 << 30}))
	suite.Assert().Equal(codes.InvalidArgument, status.Code(err))
}

func (suite *ServerSuite) TestBufferTooSmall() {
	ctx := suite.context()

	grpcClient := pb.NewControlServiceClient(suite.conn)

	_, err := grpcClient.Get(ctx, pb.EncodeFrame(&wgh.DataIO{Name: ensure.Value(wgh.DeviceName("wg1")), Size: 8}))
	suite.Require().Equal(codes.ResourceExhausted, status.Code(err))

	size, err := pb.FromStatusError(err)
	suite.Require().ErrorIs(err, wgh.ErrBufferTooSmall)
	suite.Assert().GreaterOrEqual(size, uint64(wgh.SizeofInterfaceIO))
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}
