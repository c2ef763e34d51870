// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wireguard_test

import (
	"encoding/hex"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/siderolabs/gen/ensure"
	"github.com/siderolabs/go-pointer"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/siderolabs/wgio/pkg/wgh"
	"github.com/siderolabs/wgio/pkg/wireguard"
)

var hexKeys = []string{
	"b0e64d6ee2c29c0e6dfcd5ec0a9e0c1a1ff8dcaa9f0f2c8a5d40c0a9dd6d1e67",
	"f8a3c1b1d15c5b8e2ff7e3c03dc6f1e4a9caa4c7ab2f93e0e04dd0f4a7c6a25b",
	"40d1e5a7b9c93d14c1af03f8e3c1f1d6b8e9ca44a5e2c7b3f9f0d8e3c2b1a06f",
}

var keys = func() []wgtypes.Key {
	result := make([]wgtypes.Key, 0, len(hexKeys))

	for _, h := range hexKeys {
		result = append(result, wgtypes.Key(ensure.Value(hex.DecodeString(h))))
	}

	return result
}()

func TestDeviceFromInterface(t *testing.T) {
	t.Parallel()

	handshake := time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)

	ifc := &wgh.Interface{
		Flags:   wgh.InterfaceHasPublic | wgh.InterfaceHasPort | wgh.InterfaceHasRtable,
		Public:  keys[0].PublicKey(),
		Private: keys[0],
		Port:    51820,
		Rtable:  7,
		Peers: []wgh.Peer{
			{
				Flags:           wgh.PeerHasPublic | wgh.PeerHasPKA | wgh.PeerHasEndpoint,
				ProtocolVersion: wireguard.ProtocolVersion,
				Public:          keys[1],
				PSK:             keys[2],
				PKA:             25,
				Endpoint:        netip.MustParseAddrPort("[2001:db8::1]:4500"),
				TxBytes:         100,
				RxBytes:         200,
				LastHandshake:   wgh.TimespecFrom(handshake),
				AllowedIPs: []wgh.AllowedIP{
					{Prefix: netip.MustParsePrefix("10.1.0.0/16")},
				},
			},
			{
				Flags:    wgh.PeerHasPublic,
				Public:   keys[2],
				Endpoint: netip.MustParseAddrPort("192.0.2.1:1"),
			},
		},
	}

	d := wireguard.DeviceFromInterface("wg0", ifc)

	require.Equal(t, "wg0", d.Name)
	require.Equal(t, wgtypes.OpenBSDKernel, d.Type)
	require.Equal(t, wgtypes.Key{}, d.PrivateKey, "private key is hidden without its flag")
	require.Equal(t, keys[0].PublicKey(), d.PublicKey)
	require.Equal(t, 51820, d.ListenPort)
	require.Equal(t, 7, d.FirewallMark)
	require.Len(t, d.Peers, 2)

	peer := d.Peers[0]
	require.Equal(t, keys[1], peer.PublicKey)
	require.Equal(t, wgtypes.Key{}, peer.PresharedKey)
	require.Equal(t, 25*time.Second, peer.PersistentKeepaliveInterval)
	require.Equal(t, "[2001:db8::1]:4500", peer.Endpoint.String())
	require.EqualValues(t, 100, peer.TransmitBytes)
	require.EqualValues(t, 200, peer.ReceiveBytes)
	require.True(t, handshake.Equal(peer.LastHandshakeTime))
	require.Equal(t, wireguard.ProtocolVersion, peer.ProtocolVersion)
	require.Len(t, peer.AllowedIPs, 1)
	require.Equal(t, "10.1.0.0/16", peer.AllowedIPs[0].String())

	require.Nil(t, d.Peers[1].Endpoint)
	require.True(t, d.Peers[1].LastHandshakeTime.IsZero())
}

func TestInterfaceFromConfig(t *testing.T) {
	t.Parallel()

	cfg := wgtypes.Config{
		PrivateKey:   pointer.To(keys[0]),
		ListenPort:   pointer.To(51820),
		FirewallMark: pointer.To(2),
		ReplacePeers: true,
		Peers: []wgtypes.PeerConfig{
			{
				PublicKey:                   keys[1],
				PresharedKey:                pointer.To(keys[2]),
				Endpoint:                    &net.UDPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 51820},
				PersistentKeepaliveInterval: pointer.To(15 * time.Second),
				ReplaceAllowedIPs:           true,
				AllowedIPs: []net.IPNet{
					{IP: net.IPv4(10, 0, 0, 0).To4(), Mask: net.CIDRMask(8, 32)},
				},
			},
			{
				PublicKey: keys[2],
				Remove:    true,
			},
		},
	}

	ifc, err := wireguard.InterfaceFromConfig(cfg)
	require.NoError(t, err)

	require.Equal(t, wgh.InterfaceHasPrivate|wgh.InterfaceHasPort|wgh.InterfaceHasRtable|wgh.InterfaceReplacePeers, ifc.Flags)
	require.Equal(t, [wgh.KeyLen]byte(keys[0]), ifc.Private)
	require.EqualValues(t, 51820, ifc.Port)
	require.EqualValues(t, 2, ifc.Rtable)
	require.Len(t, ifc.Peers, 2)

	p := ifc.Peers[0]
	require.Equal(t, wgh.PeerHasPublic|wgh.PeerUpdate|wgh.PeerHasPSK|wgh.PeerHasPKA|wgh.PeerHasEndpoint|wgh.PeerReplaceAIPs, p.Flags)
	require.EqualValues(t, 15, p.PKA)
	require.Equal(t, netip.MustParseAddrPort("192.0.2.10:51820"), p.Endpoint)
	require.Equal(t, []wgh.AllowedIP{{Prefix: netip.MustParsePrefix("10.0.0.0/8")}}, p.AllowedIPs)

	require.Equal(t, wgh.PeerHasPublic|wgh.PeerRemove, ifc.Peers[1].Flags)

	// the produced tree must be accepted by the compiler
	_, err = wireguard.Compile(ifc)
	require.NoError(t, err)
}

func TestInterfaceFromConfigInvalid(t *testing.T) {
	t.Parallel()

	for name, cfg := range map[string]wgtypes.Config{
		"port":      {ListenPort: pointer.To(70000)},
		"rtable":    {FirewallMark: pointer.To(1 << 40)},
		"keepalive": {Peers: []wgtypes.PeerConfig{{PublicKey: keys[1], PersistentKeepaliveInterval: pointer.To(100000 * time.Second)}}},
		"update only": {
			Peers: []wgtypes.PeerConfig{{PublicKey: keys[1], UpdateOnly: true}},
		},
		"endpoint": {
			Peers: []wgtypes.PeerConfig{{PublicKey: keys[1], Endpoint: &net.UDPAddr{IP: net.IP{1, 2, 3}, Port: 1}}},
		},
		"allowed IP": {
			Peers: []wgtypes.PeerConfig{{PublicKey: keys[1], AllowedIPs: []net.IPNet{{IP: net.IP{10, 0, 0, 0}, Mask: net.IPMask{255, 0, 255, 0}}}}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := wireguard.InterfaceFromConfig(cfg)
			require.ErrorIs(t, err, wgh.ErrInvalidArgument)
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := wgtypes.Config{
		ListenPort: pointer.To(1234),
		Peers: []wgtypes.PeerConfig{
			{
				PublicKey: keys[1],
				AllowedIPs: []net.IPNet{
					{IP: net.ParseIP("fd00::"), Mask: net.CIDRMask(64, 128)},
				},
			},
		},
	}

	ifc, err := wireguard.InterfaceFromConfig(cfg)
	require.NoError(t, err)

	b, err := wgh.Marshal(ifc)
	require.NoError(t, err)

	decoded, err := wgh.Unmarshal(b, wgh.Limits{})
	require.NoError(t, err)

	d := wireguard.DeviceFromInterface("wg1", decoded)
	require.Equal(t, 1234, d.ListenPort)
	require.Len(t, d.Peers, 1)
	require.Equal(t, keys[1], d.Peers[0].PublicKey)
	require.Equal(t, "fd00::/64", d.Peers[0].AllowedIPs[0].String())
}
