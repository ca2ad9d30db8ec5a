package orch

import (
	"context"
	"errors"

	"github.com/dkeye/mediacore/internal/app/sfu"
	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/media"
	"github.com/dkeye/mediacore/internal/session"
	"github.com/rs/zerolog/log"
)

// OnMediaReady subscribes sid to all existing relays of its room mates. It is
// safe to call again after every negotiation.
func (o *Orchestrator) OnMediaReady(sid domain.SessionID) {
	if _, ok := o.Registry.GetSession(sid); !ok {
		return
	}
	for _, mate := range o.Registry.RoomMates(sid) {
		for _, relay := range o.Relays.RelaysOf(mate.SID) {
			o.subscribe(relay, sid)
		}
	}
}

// onRemoteTrack starts relaying a new remote track of sid and subscribes all
// current room mates to it.
func (o *Orchestrator) onRemoteTrack(sid domain.SessionID, sess *session.Session, id domain.TrackID) {
	rt, ok := sess.RemoteTrack(id)
	if !ok {
		return
	}
	key := sfu.RelayKey{Owner: sid, Track: id}
	relay := o.Relays.StartRelay(context.Background(), key, rt.Kind, rt.Frames())

	mates := o.Registry.RoomMates(sid)
	if len(mates) == 0 {
		log.Info().
			Str("module", "sfu").
			Str("sid", string(sid)).
			Msg("OnTrack: no room mates for sid")
		return
	}
	for _, mate := range mates {
		o.subscribe(relay, mate.SID)
	}
}

// subscribe adds a local track fed by relay to dst's session. The track's
// stream id is the publishing session so clients can group tracks by peer.
func (o *Orchestrator) subscribe(relay *sfu.Relay, dst domain.SessionID) {
	if relay.Key.Owner == dst || relay.HasSubscriber(dst) {
		return
	}
	sess, ok := o.Registry.GetSession(dst)
	if !ok {
		return
	}
	logger := log.With().
		Str("module", "sfu").
		Str("src_sid", string(relay.Key.Owner)).
		Str("dst_sid", string(dst)).
		Logger()

	track := domain.NewTrack(relay.Kind, string(relay.Key.Owner))
	track.Source = "relay:" + string(relay.Key.Track)
	if err := sess.AddTrack(track); err != nil {
		logger.Warn().Err(err).Msg("add relay track")
		return
	}
	ot := sfu.NewOutTrack(dst, track.ID, relay.Kind, o.Config.Media.CaptureQueue)
	fps := o.Config.Media.FPS
	if relay.Kind == domain.KindAudio {
		fps = media.AudioFPS
	}
	if err := sess.AttachSource(track.ID, ot, media.NewPassthroughEncoder(relay.Kind, fps)); err != nil {
		logger.Warn().Err(err).Msg("attach relay source")
		_ = sess.RemoveTrack(track.ID)
		return
	}
	if !o.Relays.Subscribe(relay.Key, ot) {
		ot.MarkDelete()
		_ = sess.RemoveTrack(track.ID)
		return
	}
	logger.Info().Str("track", string(track.ID)).Msg("subscribed")
}

func (o *Orchestrator) onTrackMute(sid domain.SessionID, ev core.Event) {
	muted := ev.Kind == core.EventTrackMuted
	o.Relays.SetMuted(sfu.RelayKey{Owner: sid, Track: ev.Track}, muted)
	msg := TrackMsg{Type: ev.Kind.String(), From: sid, Track: ev.Track, Kind: ev.Media.String()}
	for _, mate := range o.Registry.RoomMates(sid) {
		o.Send(mate.SID, msg)
	}
}

func (o *Orchestrator) onRelayStopped(key sfu.RelayKey, outs []*sfu.OutTrack) {
	log.Info().Str("module", "sfu").Str("sid", string(key.Owner)).Str("track", string(key.Track)).Int("subscribers", len(outs)).Msg("relay stopped")
	o.removeOutTracks(outs)
}

// removeOutTracks drops relay tracks from their subscribers' sessions, which
// triggers renegotiation there.
func (o *Orchestrator) removeOutTracks(outs []*sfu.OutTrack) {
	for _, ot := range outs {
		sess, ok := o.Registry.GetSession(ot.Dst)
		if !ok {
			continue
		}
		err := sess.RemoveTrack(ot.Track)
		if err != nil && !errors.Is(err, domain.ErrTrackNotFound) && !errors.Is(err, domain.ErrInvalidState) {
			log.Warn().Str("module", "sfu").Str("dst_sid", string(ot.Dst)).Err(err).Msg("remove relay track")
		}
	}
}
