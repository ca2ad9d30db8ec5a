// Package testutil wires pion peers over a virtual network so WebRTC tests run
// without touching real interfaces.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// VNet is a router with two attached hosts.
type VNet struct {
	Router *vnet.Router
	A      *vnet.Net
	B      *vnet.Net
}

func NewVNet(t testing.TB) *VNet {
	t.Helper()
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.10.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)

	a, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.10.0.2"}})
	require.NoError(t, err)
	require.NoError(t, router.AddNet(a))

	b, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.10.0.3"}})
	require.NoError(t, err)
	require.NoError(t, router.AddNet(b))

	require.NoError(t, router.Start())
	t.Cleanup(func() { _ = router.Stop() })
	return &VNet{Router: router, A: a, B: b}
}

// API returns a pion API bound to n with default codecs and interceptors.
func API(t testing.TB, n *vnet.Net) *webrtc.API {
	t.Helper()
	m := &webrtc.MediaEngine{}
	require.NoError(t, m.RegisterDefaultCodecs())

	ir := &interceptor.Registry{}
	require.NoError(t, webrtc.RegisterDefaultInterceptors(m, ir))

	se := webrtc.SettingEngine{}
	se.SetNet(n)
	se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	se.SetICETimeouts(2*time.Second, 5*time.Second, 200*time.Millisecond)

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(se))
}

// PeerPair creates two connected-ready peers on a fresh virtual network.
func PeerPair(t testing.TB) (a, b *webrtc.PeerConnection) {
	t.Helper()
	v := NewVNet(t)
	var err error
	a, err = API(t, v.A).NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	b, err = API(t, v.B).NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

// Negotiate runs a non-trickle offer/answer from offerer to answerer.
func Negotiate(t testing.TB, offerer, answerer *webrtc.PeerConnection) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	offer, err := offerer.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(offerer)
	require.NoError(t, offerer.SetLocalDescription(offer))
	wait(ctx, t, gathered)
	require.NoError(t, answerer.SetRemoteDescription(*offerer.LocalDescription()))

	answer, err := answerer.CreateAnswer(nil)
	require.NoError(t, err)
	gathered = webrtc.GatheringCompletePromise(answerer)
	require.NoError(t, answerer.SetLocalDescription(answer))
	wait(ctx, t, gathered)
	require.NoError(t, offerer.SetRemoteDescription(*answerer.LocalDescription()))
}

func wait(ctx context.Context, t testing.TB, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-ctx.Done():
		t.Fatal("timed out waiting for ICE gathering")
	}
}
