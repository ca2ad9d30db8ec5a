package orch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/mediacore/internal/app"
	"github.com/dkeye/mediacore/internal/app/sfu"
	"github.com/dkeye/mediacore/internal/config"
	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/datachannel"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/media"
	"github.com/dkeye/mediacore/internal/session"
	"github.com/dkeye/mediacore/internal/testutil"
	"github.com/pion/transport/v3/vnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSignal collects server messages for a test client.
type chanSignal struct{ out chan core.Frame }

func newChanSignal() *chanSignal { return &chanSignal{out: make(chan core.Frame, 1024)} }

func (s *chanSignal) TrySend(f core.Frame) error {
	select {
	case s.out <- f:
		return nil
	default:
		return domain.ErrBufferFull
	}
}

func (s *chanSignal) Close() {}

func testConfig() config.Session {
	cfg := config.Default().Session
	cfg.ICEServers = nil
	cfg.Media.Width = 32
	cfg.Media.Height = 16
	return cfg
}

func newOrchestrator(t *testing.T, n *vnet.Net) *Orchestrator {
	t.Helper()
	o := New(testConfig(), app.NewRegistry(), app.NewRoomManager(), app.SimplePolicy{MaxRetries: 3}, sfu.NewRelayManager(), session.WithNet(n))
	t.Cleanup(func() {
		for _, m := range o.Registry.Snapshot() {
			o.Disconnect(m.SID, m.Signal)
		}
	})
	return o
}

type client struct {
	sid  domain.SessionID
	sig  *chanSignal
	sess *session.Session
}

func newClient(t *testing.T, o *Orchestrator, n *vnet.Net, sid domain.SessionID) *client {
	t.Helper()
	sess, err := session.New(testConfig(), session.WithNet(n))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	c := &client{sid: sid, sig: newChanSignal(), sess: sess}
	o.Registry.BindSignal(sid, c.sig, nil)
	return c
}

// connect runs the client's offer through the orchestrator and then keeps
// answering server messages the way a browser would.
func (c *client) connect(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	offer, err := c.sess.CreateOffer(ctx)
	require.NoError(t, err)
	require.NoError(t, c.sess.SetLocalDescription(offer))
	require.NoError(t, c.sess.GatherComplete(ctx))

	answer, err := o.HandleOffer(ctx, c.sid, *c.sess.LocalDescription())
	require.NoError(t, err)
	assert.Equal(t, domain.DescriptionAnswer, answer.Type)
	require.NoError(t, c.sess.SetRemoteDescription(answer))
	o.OnMediaReady(c.sid)

	go c.serve(o)
}

func (c *client) serve(o *Orchestrator) {
	for raw := range c.sig.out {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(raw, &env) != nil {
			continue
		}
		switch env.Type {
		case "candidate":
			var m CandidateMsg
			if json.Unmarshal(raw, &m) != nil {
				continue
			}
			if cand, err := domain.ParseCandidate(m.Candidate, m.SDPMid, m.SDPMLineIndex); err == nil {
				_ = c.sess.AddICECandidate(cand)
			}
		case "offer":
			var d domain.Description
			if json.Unmarshal(raw, &d) != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if c.sess.SetRemoteDescription(d) == nil {
				if ans, err := c.sess.CreateAnswer(ctx); err == nil && c.sess.SetLocalDescription(ans) == nil {
					_ = c.sess.GatherComplete(ctx)
					_ = o.HandleAnswer(c.sid, *c.sess.LocalDescription())
				}
			}
			cancel()
		}
	}
}

func TestOrchestrator_RelaysMediaAndChatWithinRoom(t *testing.T) {
	v := testutil.NewVNet(t)
	o := newOrchestrator(t, v.B)

	viewer := newClient(t, o, v.A, "viewer")
	pub := newClient(t, o, v.A, "pub")
	require.True(t, o.Join("viewer", "room"))
	require.True(t, o.Join("pub", "room"))
	assert.Equal(t, []domain.SessionID{"pub", "viewer"}, o.Rooms.Members("room"))

	viewerChat, err := viewer.sess.DataChannels().Open("chat", domain.ReliableOrdered())
	require.NoError(t, err)
	pubChat, err := pub.sess.DataChannels().Open("chat", domain.ReliableOrdered())
	require.NoError(t, err)

	cam := domain.NewTrack(domain.KindVideo, "pub-camera")
	require.NoError(t, pub.sess.AddTrack(cam))
	src := media.NewSyntheticSource(media.SyntheticConfig{Kind: domain.KindVideo, Width: 32, Height: 16, FPS: 30, Paced: true})
	require.NoError(t, pub.sess.AttachSource(cam.ID, src, media.NewPassthroughEncoder(domain.KindVideo, 30)))

	viewer.connect(t, o)
	pub.connect(t, o)

	// The publisher's camera reaches the viewer through a server relay and a
	// renegotiation initiated by the server.
	var rt *session.RemoteTrack
	require.Eventually(t, func() bool {
		tracks := viewer.sess.RemoteTracks()
		if len(tracks) == 0 {
			return false
		}
		rt = tracks[0]
		return true
	}, 20*time.Second, 20*time.Millisecond)
	assert.Equal(t, domain.KindVideo, rt.Kind)
	assert.Equal(t, "pub", rt.StreamID, "relay tracks are grouped by publisher")

	select {
	case f, ok := <-rt.Frames():
		require.True(t, ok)
		assert.Equal(t, domain.KindVideo, f.Kind)
		assert.NotEmpty(t, f.Data)
	case <-time.After(10 * time.Second):
		t.Fatal("no relayed frame")
	}

	relays := o.Relays.RelaysOf("pub")
	require.Len(t, relays, 1)
	assert.Equal(t, []domain.SessionID{"viewer"}, relays[0].Subscribers())

	// Chat messages are relayed between same-label channels.
	var got datachannel.Message
	require.Eventually(t, func() bool {
		_ = pubChat.SendText("hello")
		select {
		case got = <-viewerChat.Messages():
			return true
		default:
			return false
		}
	}, 20*time.Second, 50*time.Millisecond)
	assert.Equal(t, "hello", string(got.Data))
	assert.True(t, got.Text)

	// Leaving detaches the viewer from the relay and drops the relay track.
	room, ok := o.Leave("viewer")
	require.True(t, ok)
	assert.Equal(t, domain.RoomName("room"), room)
	assert.Empty(t, relays[0].Subscribers())
	serverViewer, ok := o.Registry.GetSession("viewer")
	require.True(t, ok)
	assert.Empty(t, serverViewer.Tracks())
}

func TestOrchestrator_CandidateBeforeOfferIsQueued(t *testing.T) {
	v := testutil.NewVNet(t)
	o := newOrchestrator(t, v.B)
	o.Registry.BindSignal("a", newChanSignal(), nil)

	cand, err := domain.ParseCandidate("candidate:1 1 udp 2130706431 10.10.0.2 40000 typ host", "0", 0)
	require.NoError(t, err)
	require.NoError(t, o.HandleCandidate("a", cand))

	sess, ok := o.Registry.GetSession("a")
	require.True(t, ok)
	assert.Equal(t, 1, sess.PendingCandidates())
	assert.Equal(t, domain.StateNew, sess.State())

	err = o.HandleAnswer("nobody", domain.Description{Type: domain.DescriptionAnswer})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = o.OpenChannel("nobody", "chat", domain.ReliableOrdered())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestOrchestrator_DisconnectIgnoresReplacedSignal(t *testing.T) {
	v := testutil.NewVNet(t)
	o := newOrchestrator(t, v.B)

	old := newChanSignal()
	o.Registry.BindSignal("a", old, nil)
	require.True(t, o.Join("a", "room"))
	sess, err := o.Session("a")
	require.NoError(t, err)

	current := newChanSignal()
	o.Registry.BindSignal("a", current, nil)
	assert.False(t, o.Disconnect("a", old))
	room, ok := o.Registry.RoomOf("a")
	require.True(t, ok)
	assert.Equal(t, domain.RoomName("room"), room)

	assert.True(t, o.Disconnect("a", current))
	assert.Equal(t, domain.StateClosed, sess.State())
	assert.Empty(t, o.Rooms.Members("room"))
	_, ok = o.Registry.Peer("a")
	assert.False(t, ok)
}

func TestOrchestrator_JoinSwitchesRooms(t *testing.T) {
	v := testutil.NewVNet(t)
	o := newOrchestrator(t, v.B)
	o.Registry.BindSignal("a", newChanSignal(), nil)
	o.Registry.BindSignal("b", newChanSignal(), nil)

	require.True(t, o.Join("a", "one"))
	require.True(t, o.Join("b", "one"))
	require.True(t, o.Join("a", "one"), "joining the same room is a no-op")
	require.True(t, o.Join("a", "two"))

	assert.Equal(t, []domain.SessionID{"b"}, o.Rooms.Members("one"))
	assert.Equal(t, []domain.SessionID{"a"}, o.Rooms.Members("two"))
	assert.False(t, o.Join("ghost", "one"))

	o.EvictRoom("one")
	_, ok := o.Registry.RoomOf("b")
	assert.False(t, ok)
	assert.Equal(t, []app.RoomInfo{{Name: "two", MemberCount: 1}}, o.Rooms.List())
}
