// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config_test

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/siderolabs/gen/ensure"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/siderolabs/wgio/pkg/config"
	"github.com/siderolabs/wgio/pkg/ifwg"
)

var (
	privateKey = ensure.Value(wgtypes.GeneratePrivateKey())
	peerKey    = ensure.Value(wgtypes.GeneratePrivateKey()).PublicKey()
	psk        = ensure.Value(wgtypes.GenerateKey())
)

func sample() string {
	return `endpoint: unix:///run/wgio.sock
token: secret
policy:
  strictRemove: false
  maxPeers: 16
interfaces:
  - name: wg0
    privateKey: ` + privateKey.String() + `
    listenPort: 51820
    rtable: 2
    peers:
      - publicKey: ` + peerKey.String() + `
        presharedKey: ` + psk.String() + `
        endpoint: "[2001:db8::1]:51820"
        persistentKeepalive: 25s
        allowedIPs:
          - 10.0.0.1/24
          - fd00::/64
  - name: wg1
`
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wgio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample()), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "unix:///run/wgio.sock", cfg.Endpoint)
	require.Equal(t, "secret", cfg.Token)
	require.Len(t, cfg.Interfaces, 2)

	policy := cfg.DriverPolicy()
	require.False(t, policy.StrictRemove)
	require.Equal(t, 16, policy.MaxPeers)
	require.Equal(t, ifwg.DefaultPolicy().MaxAllowedIPs, policy.MaxAllowedIPs)
	require.Equal(t, ifwg.DefaultPolicy().MaxBufferSize, policy.MaxBufferSize)

	wgCfg, err := cfg.Interfaces[0].WireGuardConfig(true)
	require.NoError(t, err)

	require.Equal(t, privateKey, *wgCfg.PrivateKey)
	require.Equal(t, 51820, *wgCfg.ListenPort)
	require.Equal(t, 2, *wgCfg.FirewallMark)
	require.True(t, wgCfg.ReplacePeers)
	require.Len(t, wgCfg.Peers, 1)

	peer := wgCfg.Peers[0]
	require.Equal(t, peerKey, peer.PublicKey)
	require.Equal(t, psk, *peer.PresharedKey)
	require.Equal(t, "[2001:db8::1]:51820", peer.Endpoint.String())
	require.Equal(t, 25*time.Second, *peer.PersistentKeepaliveInterval)
	require.True(t, peer.ReplaceAllowedIPs)
	require.Equal(t, []string{"10.0.0.0/24", "fd00::/64"}, []string{peer.AllowedIPs[0].String(), peer.AllowedIPs[1].String()})

	wgCfg, err = cfg.Interfaces[1].WireGuardConfig(false)
	require.NoError(t, err)
	require.Nil(t, wgCfg.PrivateKey)
	require.False(t, wgCfg.ReplacePeers)
	require.Empty(t, wgCfg.Peers)
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, ifwg.DefaultPolicy(), cfg.DriverPolicy())
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	for name, doc := range map[string]string{
		"unknown field":     "interfaces: []\nbogus: 1\n",
		"duplicate":         "interfaces:\n  - name: wg0\n  - name: wg0\n",
		"long name":         "interfaces:\n  - name: wg-interface-name\n",
		"private key":       "interfaces:\n  - name: wg0\n    privateKey: nope\n",
		"peer key":          "interfaces:\n  - name: wg0\n    peers:\n      - publicKey: nope\n",
		"endpoint":          "interfaces:\n  - name: wg0\n    peers:\n      - publicKey: " + peerKey.String() + "\n        endpoint: example.com\n",
		"keepalive":         "interfaces:\n  - name: wg0\n    peers:\n      - publicKey: " + peerKey.String() + "\n        persistentKeepalive: often\n",
		"allowed IP":        "interfaces:\n  - name: wg0\n    peers:\n      - publicKey: " + peerKey.String() + "\n        allowedIPs: [10.0.0.0]\n",
		"preshared key":     "interfaces:\n  - name: wg0\n    peers:\n      - publicKey: " + peerKey.String() + "\n        presharedKey: nope\n",
		"not a yaml object": "- 1\n- 2\n",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := config.Parse(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestFromDevice(t *testing.T) {
	t.Parallel()

	handshake := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	d := &wgtypes.Device{
		Name:         "wg0",
		PrivateKey:   privateKey,
		PublicKey:    privateKey.PublicKey(),
		ListenPort:   51820,
		FirewallMark: 3,
		Peers: []wgtypes.Peer{
			{
				PublicKey:                   peerKey,
				PresharedKey:                psk,
				Endpoint:                    &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 51820},
				PersistentKeepaliveInterval: 25 * time.Second,
				LastHandshakeTime:           handshake,
				ReceiveBytes:                10,
				TransmitBytes:               20,
				AllowedIPs:                  []net.IPNet{{IP: net.IPv4(10, 0, 0, 0).To4(), Mask: net.CIDRMask(8, 32)}},
			},
		},
	}

	hidden := config.FromDevice(d, false)
	require.Empty(t, hidden.PrivateKey)
	require.Empty(t, hidden.Peers[0].PresharedKey)
	require.Equal(t, privateKey.PublicKey().String(), hidden.PublicKey)

	shown := config.FromDevice(d, true)
	require.Equal(t, privateKey.String(), shown.PrivateKey)
	require.Equal(t, psk.String(), shown.Peers[0].PresharedKey)
	require.Equal(t, "2024-01-02T03:04:05Z", shown.Peers[0].LastHandshake)
	require.Equal(t, "25s", shown.Peers[0].PersistentKeepalive)
	require.Equal(t, []string{"10.0.0.0/8"}, shown.Peers[0].AllowedIPs)

	// rendered output is accepted back as a declaration
	out, err := shown.Marshal()
	require.NoError(t, err)

	back, err := config.ParseInterface(bytes.NewReader(out))
	require.NoError(t, err)

	wgCfg, err := back.WireGuardConfig(true)
	require.NoError(t, err)
	require.Equal(t, privateKey, *wgCfg.PrivateKey)
	require.Equal(t, 3, *wgCfg.FirewallMark)
	require.Equal(t, "192.0.2.1:51820", wgCfg.Peers[0].Endpoint.String())
}
