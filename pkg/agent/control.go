// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/siderolabs/gen/panicsafe"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/siderolabs/wgio/api/wgio"
	"github.com/siderolabs/wgio/internal/server"
	"github.com/siderolabs/wgio/internal/wait"
	"github.com/siderolabs/wgio/pkg/ifwg"
)

const unixScheme = "unix://"

//nolint:govet
type controlConfig struct {
	endpoint      string
	tlsConfig     *tls.Config // if not-nil, the API will be served over TLS
	token         string
	maxBufferSize uint64
	listening     *wait.Value[net.Addr]
}

func controlAPI(ctx context.Context, eg *errgroup.Group, cfg controlConfig, driver *ifwg.Driver, logger *zap.Logger) error {
	lis, err := listen(cfg.endpoint)
	if err != nil {
		return fmt.Errorf("error listening for gRPC API: %w", err)
	}

	srv := server.NewServer(server.Config{
		Driver:        driver,
		Logger:        logger,
		Token:         cfg.token,
		MaxBufferSize: cfg.maxBufferSize,
	})

	s := grpc.NewServer(getCreds(cfg.tlsConfig))
	pb.RegisterControlServiceServer(s, srv)

	stopServer := sync.OnceFunc(s.Stop)

	eg.Go(panicsafe.RunErrF(func() error {
		defer stopServer()

		logger.Info("serving control API", zap.Stringer("address", lis.Addr()))

		return s.Serve(lis)
	}))

	context.AfterFunc(ctx, stopServer)

	if cfg.listening != nil {
		cfg.listening.Set(lis.Addr())
	}

	return nil
}

func listen(endpoint string) (net.Listener, error) {
	path, ok := strings.CutPrefix(endpoint, unixScheme)
	if !ok {
		return net.Listen("tcp", endpoint)
	}

	// a socket left behind by a previous run
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	return net.Listen("unix", path)
}

func getCreds(cfg *tls.Config) grpc.ServerOption {
	if cfg != nil {
		return grpc.Creds(credentials.NewTLS(cfg))
	}

	return grpc.Creds(insecure.NewCredentials())
}
