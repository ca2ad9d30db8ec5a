package sfu

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(ts time.Duration) *domain.RawFrame {
	return &domain.RawFrame{Kind: domain.KindVideo, Timestamp: ts, Width: 2, Height: 2, Data: []byte{1, 2, 3, 4, 5, 6}}
}

func next(t *testing.T, ot *OutTrack) *domain.RawFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := ot.Next(ctx)
	require.NoError(t, err)
	return f
}

func TestOutTrack_States(t *testing.T) {
	ot := NewOutTrack("dst", "t1", domain.KindVideo, 1)
	assert.Equal(t, TrackStateOk, ot.GetState())

	ot.MarkMuted()
	assert.Equal(t, TrackStateMuted, ot.GetState())
	ot.MarkOk()
	assert.Equal(t, TrackStateOk, ot.GetState())

	ot.MarkDelete()
	ot.MarkOk()
	ot.MarkMuted()
	assert.Equal(t, TrackStateDelete, ot.GetState(), "delete is terminal")

	_, err := ot.Next(context.Background())
	assert.ErrorIs(t, err, media.ErrSourceClosed)
	assert.False(t, ot.offer(frame(0)))
	assert.NoError(t, ot.Close())
}

func TestRelay_ForwardsByState(t *testing.T) {
	src := make(chan *domain.RawFrame)
	m := NewRelayManager()
	key := RelayKey{Owner: "pub", Track: "cam"}
	relay := m.StartRelay(context.Background(), key, domain.KindVideo, src)

	ok := NewOutTrack("a", "ta", domain.KindVideo, 4)
	muted := NewOutTrack("b", "tb", domain.KindVideo, 4)
	gone := NewOutTrack("c", "tc", domain.KindVideo, 4)
	for _, ot := range []*OutTrack{ok, muted, gone} {
		require.True(t, m.Subscribe(key, ot))
	}
	assert.False(t, m.Subscribe(RelayKey{Owner: "nobody"}, ok))
	muted.MarkMuted()
	gone.MarkDelete()

	in := frame(time.Millisecond)
	src <- in
	got := next(t, ok)
	assert.Equal(t, in.Timestamp, got.Timestamp)
	assert.NotSame(t, in, got, "subscribers get their own copy")
	assert.Equal(t, in.Data, got.Data)

	// The deleted subscriber was pruned while forwarding.
	src <- frame(2 * time.Millisecond)
	next(t, ok)
	assert.Equal(t, []domain.SessionID{"a", "b"}, relay.Subscribers())
	assert.Empty(t, muted.frames)

	m.SetMuted(key, true)
	assert.Equal(t, TrackStateMuted, ok.GetState())
	m.SetMuted(key, false)
	assert.Equal(t, TrackStateOk, ok.GetState())
	assert.Equal(t, TrackStateOk, muted.GetState())
	assert.Equal(t, uint64(2), relay.Forwarded())
}

func TestRelay_LaggingSubscriberDrops(t *testing.T) {
	src := make(chan *domain.RawFrame)
	m := NewRelayManager()
	key := RelayKey{Owner: "pub", Track: "cam"}
	relay := m.StartRelay(context.Background(), key, domain.KindVideo, src)

	slow := NewOutTrack("slow", "t", domain.KindVideo, 1)
	require.True(t, m.Subscribe(key, slow))

	for i := 1; i <= 3; i++ {
		src <- frame(time.Duration(i))
	}
	require.Eventually(t, func() bool { return relay.Dropped() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, time.Duration(1), next(t, slow).Timestamp)
	assert.Equal(t, TrackStateOk, slow.GetState(), "a lagging subscriber is not removed")
}

func TestRelayManager_SourceEndCallsOnStop(t *testing.T) {
	src := make(chan *domain.RawFrame)
	m := NewRelayManager()
	stopped := make(chan []*OutTrack, 1)
	m.OnStop = func(key RelayKey, outs []*OutTrack) {
		assert.Equal(t, RelayKey{Owner: "pub", Track: "cam"}, key)
		stopped <- outs
	}
	key := RelayKey{Owner: "pub", Track: "cam"}
	relay := m.StartRelay(context.Background(), key, domain.KindVideo, src)
	ot := NewOutTrack("sub", "t", domain.KindVideo, 1)
	require.True(t, m.Subscribe(key, ot))

	close(src)
	select {
	case outs := <-stopped:
		require.Len(t, outs, 1)
		assert.Same(t, ot, outs[0])
	case <-time.After(time.Second):
		t.Fatal("OnStop not called")
	}
	<-relay.Done()
	assert.Equal(t, TrackStateDelete, ot.GetState())
	_, ok := m.Get(key)
	assert.False(t, ok)
}

func TestRelayManager_StopAndUnsubscribe(t *testing.T) {
	m := NewRelayManager()
	m.OnStop = func(RelayKey, []*OutTrack) { t.Error("OnStop must not run for explicit stops") }

	cam := RelayKey{Owner: "pub", Track: "cam"}
	mic := RelayKey{Owner: "pub", Track: "mic"}
	other := RelayKey{Owner: "other", Track: "cam"}
	camRelay := m.StartRelay(context.Background(), cam, domain.KindVideo, make(chan *domain.RawFrame))
	m.StartRelay(context.Background(), mic, domain.KindAudio, make(chan *domain.RawFrame))
	m.StartRelay(context.Background(), other, domain.KindVideo, make(chan *domain.RawFrame))
	assert.Len(t, m.RelaysOf("pub"), 2)

	a1 := NewOutTrack("a", "a1", domain.KindVideo, 1)
	a2 := NewOutTrack("a", "a2", domain.KindAudio, 1)
	b1 := NewOutTrack("b", "b1", domain.KindVideo, 1)
	require.True(t, m.Subscribe(cam, a1))
	require.True(t, m.Subscribe(mic, a2))
	require.True(t, m.Subscribe(cam, b1))
	assert.True(t, camRelay.HasSubscriber("a"))

	outs := m.Unsubscribe("pub", "a")
	assert.ElementsMatch(t, []*OutTrack{a1, a2}, outs)
	assert.Equal(t, TrackStateDelete, a1.GetState())
	assert.False(t, camRelay.HasSubscriber("a"))

	outs = m.StopRelays("pub")
	assert.Equal(t, []*OutTrack{b1}, outs)
	assert.Empty(t, m.RelaysOf("pub"))
	assert.Len(t, m.RelaysOf("other"), 1)

	select {
	case <-camRelay.Done():
	case <-time.After(time.Second):
		t.Fatal("stopped relay loop still running")
	}
}

func TestRelay_ReplacingSubscriberTrack(t *testing.T) {
	r := NewRelay(RelayKey{Owner: "pub"}, domain.KindVideo, nil, func() {})
	first := NewOutTrack("a", "t1", domain.KindVideo, 1)
	second := NewOutTrack("a", "t2", domain.KindVideo, 1)
	r.AddOutTrack(first)
	r.AddOutTrack(second)
	assert.Equal(t, TrackStateDelete, first.GetState())
	assert.Equal(t, TrackStateOk, second.GetState())
	assert.Equal(t, []domain.SessionID{"a"}, r.Subscribers())
}
