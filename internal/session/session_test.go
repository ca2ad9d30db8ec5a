package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/mediacore/internal/config"
	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/media"
	"github.com/dkeye/mediacore/internal/processor"
	"github.com/dkeye/mediacore/internal/testutil"
	"github.com/pion/transport/v3/vnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Session {
	cfg := config.Default().Session
	cfg.ICEServers = nil
	cfg.Media.Width = 32
	cfg.Media.Height = 16
	return cfg
}

func newPair(t *testing.T, cfg config.Session) (a, b *Session) {
	t.Helper()
	v := testutil.NewVNet(t)
	a, err := New(cfg, WithNet(v.A))
	require.NoError(t, err)
	b, err = New(cfg, WithNet(v.B))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func negotiate(t *testing.T, offerer, answerer *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	offer, err := offerer.CreateOffer(ctx)
	require.NoError(t, err)
	require.NoError(t, offerer.SetLocalDescription(offer))
	require.NoError(t, offerer.GatherComplete(ctx))

	require.NoError(t, answerer.SetRemoteDescription(*offerer.LocalDescription()))
	answer, err := answerer.CreateAnswer(ctx)
	require.NoError(t, err)
	require.NoError(t, answerer.SetLocalDescription(answer))
	require.NoError(t, answerer.GatherComplete(ctx))

	require.NoError(t, offerer.SetRemoteDescription(*answerer.LocalDescription()))
}

func waitState(t *testing.T, s *Session, want domain.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 15*time.Second, 10*time.Millisecond,
		"session %s never reached %s", s.ID(), want)
}

// nextEvent reads events until match returns true.
func nextEvent(t *testing.T, s *Session, match func(core.Event) bool) core.Event {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "event stream closed")
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSession_VideoOfferAnswer(t *testing.T) {
	cfg := testConfig()
	a, b := newPair(t, cfg)

	track := domain.NewTrack(domain.KindVideo, "camera")
	require.NoError(t, a.AddTrack(track))
	assert.Equal(t, a.ID(), track.Owner())

	var processed atomic.Int64
	chain, err := a.Processors(track.ID)
	require.NoError(t, err)
	chain.Register(processor.Func{Label: "count", Fn: func(*domain.RawFrame) processor.Verdict {
		processed.Add(1)
		return processor.Continue
	}})

	src := media.NewSyntheticSource(media.SyntheticConfig{
		Kind:   domain.KindVideo,
		Width:  cfg.Media.Width,
		Height: cfg.Media.Height,
		FPS:    cfg.Media.FPS,
		Paced:  true,
	})
	require.NoError(t, a.AttachSource(track.ID, src, media.NewPassthroughEncoder(domain.KindVideo, cfg.Media.FPS)))
	assert.ErrorIs(t, a.AttachSource(track.ID, src, media.NewPassthroughEncoder(domain.KindVideo, cfg.Media.FPS)), ErrSourceAttached)

	negotiate(t, a, b)
	waitState(t, a, domain.StateConnected)
	waitState(t, b, domain.StateConnected)

	ev := nextEvent(t, b, func(ev core.Event) bool { return ev.Kind == core.EventRemoteTrack })
	assert.Equal(t, track.ID, ev.Track)
	assert.Equal(t, domain.KindVideo, ev.Media)
	assert.Equal(t, b.ID(), ev.Session)

	rt, ok := b.RemoteTrack(track.ID)
	require.True(t, ok)
	assert.Equal(t, "camera", rt.StreamID)

	last := time.Duration(-1)
	timeout := time.After(10 * time.Second)
	for got := 0; got < 10; got++ {
		select {
		case f, ok := <-rt.Frames():
			require.True(t, ok)
			assert.Greater(t, f.Timestamp, last)
			assert.Equal(t, cfg.Media.Width, f.Width)
			last = f.Timestamp
		case <-timeout:
			t.Fatalf("received %d frames", got)
		}
	}

	assert.Positive(t, processed.Load())
	st, err := a.SenderStats(track.ID)
	require.NoError(t, err)
	assert.Positive(t, st.FramesSent)

	lo, hi := a.Bitrate().Bounds()
	assert.GreaterOrEqual(t, a.Bitrate().Target(), lo)
	assert.LessOrEqual(t, a.Bitrate().Target(), hi)
}

func TestSession_DataChannelAndStateEvents(t *testing.T) {
	a, b := newPair(t, testConfig())

	ch, err := a.DataChannels().Open("chat", domain.ReliableOrdered())
	require.NoError(t, err)
	negotiate(t, a, b)

	var states []domain.SessionState
	nextEvent(t, a, func(ev core.Event) bool {
		if ev.Kind != core.EventStateChanged {
			return false
		}
		states = append(states, ev.State)
		return ev.State == domain.StateConnected
	})
	assert.Equal(t, []domain.SessionState{domain.StateConnecting, domain.StateConnected}, states)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	remote, err := b.DataChannels().Accept(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return ch.State() == domain.ChannelOpen }, 10*time.Second, 10*time.Millisecond)
	require.NoError(t, ch.Send([]byte("hello")))
	msg, err := remote.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg.Data))

	require.NoError(t, a.Close())
	assert.ErrorIs(t, ch.Send([]byte("late")), domain.ErrChannelClosed)
}

func TestSession_CandidatesQueuedUntilRemoteDescription(t *testing.T) {
	cfg := testConfig()
	cfg.CandidateQueue = 2
	a, b := newPair(t, cfg)

	c, err := domain.ParseCandidate("candidate:1966762133 1 udp 2130706431 10.10.0.9 50123 typ host", "0", 0)
	require.NoError(t, err)

	require.NoError(t, a.AddICECandidate(c))
	require.NoError(t, a.AddICECandidate(c))
	assert.ErrorIs(t, a.AddICECandidate(c), domain.ErrBufferFull)
	assert.Equal(t, 2, a.PendingCandidates())

	_, err = b.DataChannels().Open("x", domain.ReliableOrdered())
	require.NoError(t, err)
	offer, err := b.CreateOffer(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.SetLocalDescription(offer))

	require.NoError(t, a.SetRemoteDescription(offer))
	assert.Zero(t, a.PendingCandidates())
	assert.Equal(t, domain.StateConnecting, a.State())
}

func TestSession_NegotiationErrors(t *testing.T) {
	a, b := newPair(t, testConfig())

	err := a.SetRemoteDescription(domain.Description{Type: domain.DescriptionOffer, SDP: "garbage"})
	assert.ErrorIs(t, err, domain.ErrNegotiation)

	err = a.SetRemoteDescription(domain.Description{Type: "bogus", SDP: ""})
	assert.ErrorIs(t, err, domain.ErrNegotiation)

	noCodec := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 0.0.0.0",
		"s=-",
		"t=0 0",
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=rtpmap:96 FOO/90000",
		"a=mid:0",
		"",
	}, "\r\n")
	err = a.SetRemoteDescription(domain.Description{Type: domain.DescriptionOffer, SDP: noCodec})
	assert.ErrorIs(t, err, domain.ErrNegotiation)

	// answer without a local offer
	_, err = b.DataChannels().Open("x", domain.ReliableOrdered())
	require.NoError(t, err)
	bOffer, err := b.CreateOffer(context.Background())
	require.NoError(t, err)
	err = a.SetRemoteDescription(domain.Description{Type: domain.DescriptionAnswer, SDP: bOffer.SDP})
	assert.ErrorIs(t, err, domain.ErrNegotiation)

	// answer whose sections do not line up with the local offer
	require.NoError(t, a.AddTrack(domain.NewTrack(domain.KindVideo, "s")))
	_, err = a.DataChannels().Open("y", domain.ReliableOrdered())
	require.NoError(t, err)
	aOffer, err := a.CreateOffer(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.SetLocalDescription(aOffer))
	err = a.SetRemoteDescription(domain.Description{Type: domain.DescriptionAnswer, SDP: bOffer.SDP})
	assert.ErrorIs(t, err, domain.ErrNegotiation)
}

func TestSession_CloseIsTerminalAndIdempotent(t *testing.T) {
	v := testutil.NewVNet(t)
	s, err := New(testConfig(), WithNet(v.A))
	require.NoError(t, err)
	other, err := New(testConfig(), WithNet(v.B))
	require.NoError(t, err)
	defer other.Close()

	track := domain.NewTrack(domain.KindAudio, "mic")
	require.NoError(t, s.AddTrack(track))
	assert.ErrorIs(t, other.AddTrack(track), domain.ErrTrackOwned)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, domain.StateClosed, s.State())
	assert.Empty(t, track.Owner())

	assert.ErrorIs(t, s.AddTrack(domain.NewTrack(domain.KindVideo, "x")), domain.ErrInvalidState)
	_, err = s.CreateOffer(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.ErrorIs(t, s.AddICECandidate(domain.Candidate{}), domain.ErrInvalidState)
	assert.ErrorIs(t, s.RemoveTrack(track.ID), domain.ErrInvalidState)
	_, err = s.DataChannels().Open("late", domain.ReliableOrdered())
	assert.ErrorIs(t, err, domain.ErrChannelClosed)

	var last core.Event
	for ev := range s.Events() {
		last = ev
	}
	assert.Equal(t, core.EventStateChanged, last.Kind)
	assert.Equal(t, domain.StateClosed, last.State)

	require.NoError(t, other.AddTrack(track), "released track can move to another session")
}

func TestSession_RemoveTrack(t *testing.T) {
	v := testutil.NewVNet(t)
	s, err := New(testConfig(), WithNet(v.A))
	require.NoError(t, err)
	defer s.Close()

	track := domain.NewTrack(domain.KindVideo, "cam")
	require.NoError(t, s.AddTrack(track))
	require.Len(t, s.Tracks(), 1)

	require.NoError(t, s.RemoveTrack(track.ID))
	assert.Empty(t, s.Tracks())
	assert.Empty(t, track.Owner())
	assert.ErrorIs(t, s.RemoveTrack(track.ID), domain.ErrTrackNotFound)
	assert.ErrorIs(t, s.AttachSource(track.ID, media.NewSyntheticSource(media.SyntheticConfig{}), media.NewPassthroughEncoder(domain.KindVideo, 30)), domain.ErrTrackNotFound)
}

func TestSession_ConnectTimeoutRestartsThenFails(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectTimeout = 150 * time.Millisecond
	cfg.RetryBudget = 1
	cfg.RetryInterval = 10 * time.Millisecond

	v := testutil.NewVNet(t)
	s, err := New(cfg, WithNet(v.A))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.DataChannels().Open("x", domain.ReliableOrdered())
	require.NoError(t, err)
	offer, err := s.CreateOffer(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.SetLocalDescription(offer))

	timeoutEv := nextEvent(t, s, func(ev core.Event) bool { return ev.Kind == core.EventError })
	assert.ErrorIs(t, timeoutEv.Err, domain.ErrTimeout)

	restart := nextEvent(t, s, func(ev core.Event) bool {
		return ev.Kind == core.EventRenegotiationNeeded && ev.Description != nil
	})
	assert.Equal(t, domain.DescriptionOffer, restart.Description.Type)

	nextEvent(t, s, func(ev core.Event) bool {
		return ev.Kind == core.EventStateChanged && ev.State == domain.StateFailed
	})
	assert.Equal(t, domain.StateFailed, s.State())
}

// sendingTracks lists the track ids of the media sections that send.
func sendingTracks(t *testing.T, d domain.Description) []string {
	t.Helper()
	sd, err := parseSDP(d.SDP)
	require.NoError(t, err)
	var ids []string
	for _, m := range sd.MediaDescriptions {
		msid, hasMsid := m.Attribute("msid")
		_, sendrecv := m.Attribute("sendrecv")
		_, sendonly := m.Attribute("sendonly")
		if !sendrecv && !sendonly {
			assert.False(t, hasMsid, "%s section without a sender carries msid", m.MediaName.Media)
			continue
		}
		require.True(t, hasMsid)
		_, track, _ := strings.Cut(msid, " ")
		ids = append(ids, track)
	}
	return ids
}

func TestSession_OfferReflectsFinalTrackSet(t *testing.T) {
	v := testutil.NewVNet(t)
	s, err := New(testConfig(), WithNet(v.A))
	require.NoError(t, err)
	defer s.Close()

	video := domain.NewTrack(domain.KindVideo, "cam")
	audio := domain.NewTrack(domain.KindAudio, "mic")
	require.NoError(t, s.AddTrack(video))
	require.NoError(t, s.AddTrack(audio))
	require.NoError(t, s.RemoveTrack(video.ID))

	// The removed track leaves a receive-only video section behind.
	offer, err := s.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{string(audio.ID)}, sendingTracks(t, offer))

	screen := domain.NewTrack(domain.KindVideo, "screen")
	require.NoError(t, s.AddTrack(screen))
	offer, err = s.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{string(audio.ID), string(screen.ID)}, sendingTracks(t, offer))

	sd, err := parseSDP(offer.SDP)
	require.NoError(t, err)
	assert.Len(t, sd.MediaDescriptions, 2, "the freed video section is reused")
}

func TestSession_TrackFailureKeepsSessionRunning(t *testing.T) {
	cfg := testConfig()
	a, b := newPair(t, cfg)

	track := domain.NewTrack(domain.KindVideo, "cam")
	require.NoError(t, a.AddTrack(track))
	src := media.NewSyntheticSource(media.SyntheticConfig{
		Kind:   domain.KindVideo,
		Width:  cfg.Media.Width,
		Height: cfg.Media.Height,
		FPS:    cfg.Media.FPS,
		Paced:  true,
	})
	require.NoError(t, a.AttachSource(track.ID, src, media.NewPassthroughEncoder(domain.KindVideo, cfg.Media.FPS)))
	negotiate(t, a, b)
	waitState(t, a, domain.StateConnected)

	a.goTrack("broken", func() error { return errors.New("rtp: malformed packet") })
	ev := nextEvent(t, a, func(ev core.Event) bool { return ev.Kind == core.EventError && ev.Track == "broken" })
	assert.EqualError(t, ev.Err, "rtp: malformed packet")

	// The sibling sender and the recovery watcher run on this context.
	require.NoError(t, a.ctx.Err())
	assert.Equal(t, domain.StateConnected, a.State())
	before, err := a.SenderStats(track.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := a.SenderStats(track.ID)
		return err == nil && st.FramesSent > before.FramesSent
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSession_ICERestartRecoversLink(t *testing.T) {
	cfg := testConfig()
	cfg.ICEDisconnected = time.Second
	cfg.ICEFailed = 30 * time.Second
	cfg.ICEKeepAlive = 200 * time.Millisecond
	cfg.ReconnectTimeout = 3 * time.Second
	cfg.RetryBudget = 5
	cfg.RetryInterval = 10 * time.Millisecond

	v := testutil.NewVNet(t)
	var cut atomic.Bool
	v.Router.AddChunkFilter(func(vnet.Chunk) bool { return !cut.Load() })

	a, err := New(cfg, WithNet(v.A))
	require.NoError(t, err)
	b, err := New(cfg, WithNet(v.B))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	_, err = a.DataChannels().Open("x", domain.ReliableOrdered())
	require.NoError(t, err)
	negotiate(t, a, b)
	waitState(t, a, domain.StateConnected)
	waitState(t, b, domain.StateConnected)

	cut.Store(true)
	nextEvent(t, a, func(ev core.Event) bool {
		return ev.Kind == core.EventStateChanged && ev.State == domain.StateDisconnected
	})
	restart := nextEvent(t, a, func(ev core.Event) bool {
		return ev.Kind == core.EventRenegotiationNeeded && ev.Description != nil
	})
	cut.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, b.SetRemoteDescription(*restart.Description))
	answer, err := b.CreateAnswer(ctx)
	require.NoError(t, err)
	require.NoError(t, b.SetLocalDescription(answer))
	require.NoError(t, b.GatherComplete(ctx))
	require.NoError(t, a.SetRemoteDescription(*b.LocalDescription()))

	waitState(t, a, domain.StateConnected)
	waitState(t, b, domain.StateConnected)
}

func TestSession_CloseAbandonsBufferedSends(t *testing.T) {
	cfg := testConfig()
	cfg.DataChannel.HighWatermark = 64 << 10
	cfg.DataChannel.LowWatermark = 16 << 10
	a, b := newPair(t, cfg)

	ch, err := a.DataChannels().Open("bulk", domain.ReliableOrdered())
	require.NoError(t, err)
	negotiate(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	remote, err := b.DataChannels().Accept(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ch.State() == domain.ChannelOpen }, 10*time.Second, 10*time.Millisecond)

	const size = 16 << 10
	var sent [][]byte
	full := false
	for i := 0; i < 1000 && !full; i++ {
		msg := bytes.Repeat([]byte{byte(i)}, size)
		switch err := ch.Send(msg); {
		case errors.Is(err, domain.ErrBufferFull):
			full = true
		default:
			require.NoError(t, err)
			sent = append(sent, msg)
		}
	}
	require.True(t, full, "sends never hit the high watermark")

	require.NoError(t, a.Close())
	assert.ErrorIs(t, ch.Send([]byte("late")), domain.ErrChannelClosed)

	// Whatever arrives is a whole message, in send order.
	got := 0
	timeout := time.After(3 * time.Second)
	for done := false; !done; {
		select {
		case msg, ok := <-remote.Messages():
			if !ok {
				done = true
				break
			}
			require.Less(t, got, len(sent))
			require.True(t, bytes.Equal(sent[got], msg.Data), "message %d arrived partially or out of order", got)
			got++
		case <-timeout:
			done = true
		}
	}
	assert.LessOrEqual(t, got, len(sent))
}
