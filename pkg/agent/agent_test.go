// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package agent_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/siderolabs/gen/ensure"
	"github.com/siderolabs/go-pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/siderolabs/wgio/internal/wait"
	"github.com/siderolabs/wgio/pkg/agent"
	"github.com/siderolabs/wgio/pkg/client"
	"github.com/siderolabs/wgio/pkg/config"
	"github.com/siderolabs/wgio/pkg/ifwg"
)

func TestRun(t *testing.T) {
	t.Parallel()

	sock := filepath.Join(t.TempDir(), "wgio.sock")
	endpoint := "unix://" + sock

	private := ensure.Value(wgtypes.GeneratePrivateKey())
	peer := ensure.Value(wgtypes.GeneratePrivateKey()).PublicKey()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runCtx, stop := context.WithCancel(ctx)

	var eg errgroup.Group

	eg.Go(func() error {
		return agent.Run(runCtx, agent.Config{
			APIEndpoint: endpoint,
			Token:       "token",
			Policy:      ifwg.DefaultPolicy(),
			Interfaces: []config.Interface{
				{
					Name:       "wg0",
					PrivateKey: private.String(),
					ListenPort: pointer.To(51820),
					Peers: []config.Peer{
						{PublicKey: peer.String(), AllowedIPs: []string{"10.0.0.0/24"}},
					},
				},
				{Name: "wg1"},
			},
		}, zaptest.NewLogger(t))
	})

	conn, err := grpc.Dial(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	defer conn.Close() //nolint:errcheck

	c := client.NewRemote(conn, "token")

	var devices []*wgtypes.Device

	require.EventuallyWithT(t, func(collect *assert.CollectT) {
		var listErr error

		devices, listErr = c.Devices(ctx)
		assert.NoError(collect, listErr)
	}, 10*time.Second, 50*time.Millisecond)

	require.Len(t, devices, 2)
	require.Equal(t, private, devices[0].PrivateKey)
	require.Equal(t, 51820, devices[0].ListenPort)
	require.Len(t, devices[0].Peers, 1)
	require.Equal(t, peer, devices[0].Peers[0].PublicKey)
	require.Empty(t, devices[1].Peers)

	require.NoError(t, c.ConfigureDevice(ctx, "wg1", wgtypes.Config{ListenPort: pointer.To(1234)}))

	d, err := c.Device(ctx, "wg1")
	require.NoError(t, err)
	require.Equal(t, 1234, d.ListenPort)

	stop()

	require.NoError(t, eg.Wait())
}

func TestRunTCP(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runCtx, stop := context.WithCancel(ctx)

	var (
		eg        errgroup.Group
		listening wait.Value[net.Addr]
	)

	eg.Go(func() error {
		return agent.Run(runCtx, agent.Config{
			APIEndpoint: "127.0.0.1:0",
			Policy:      ifwg.DefaultPolicy(),
			Interfaces:  []config.Interface{{Name: "wg0"}},
			Listening:   &listening,
		}, zaptest.NewLogger(t))
	})

	addr, err := listening.Get(ctx)
	require.NoError(t, err)

	conn, err := grpc.Dial(addr.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	defer conn.Close() //nolint:errcheck

	// no token configured, so every caller is privileged
	c := client.NewRemote(conn, "")

	require.NoError(t, c.ConfigureDevice(ctx, "wg0", wgtypes.Config{ListenPort: pointer.To(51821)}))

	d, err := c.Device(ctx, "wg0")
	require.NoError(t, err)
	require.Equal(t, 51821, d.ListenPort)

	stop()

	require.NoError(t, eg.Wait())
}

func TestRunInvalidInterface(t *testing.T) {
	t.Parallel()

	err := agent.Run(context.Background(), agent.Config{
		APIEndpoint: "unix://" + filepath.Join(t.TempDir(), "wgio.sock"),
		Policy:      ifwg.DefaultPolicy(),
		Interfaces:  []config.Interface{{Name: "wg0", PrivateKey: "invalid"}},
	}, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestConfigFromFile(t *testing.T) {
	t.Parallel()

	cfg := agent.ConfigFromFile(&config.Config{
		Endpoint:   "127.0.0.1:0",
		Token:      "t",
		Policy:     config.Policy{StrictRemove: pointer.To(false)},
		Interfaces: []config.Interface{{Name: "wg0"}},
	})

	require.Equal(t, "127.0.0.1:0", cfg.APIEndpoint)
	require.Equal(t, "t", cfg.Token)
	require.False(t, cfg.Policy.StrictRemove)
	require.Len(t, cfg.Interfaces, 1)
}
