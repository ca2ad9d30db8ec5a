package session

import (
	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/media"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is a media track received from the peer.
type RemoteTrack struct {
	ID       domain.TrackID
	StreamID string
	Kind     domain.MediaKind
	Codec    string

	recv *media.Receiver
}

// Frames delivers decoded frames; it is closed when the track ends.
func (r *RemoteTrack) Frames() <-chan *domain.RawFrame { return r.recv.Frames() }

func (r *RemoteTrack) Muted() bool { return r.recv.Muted() }

func (r *RemoteTrack) Stats() media.ReceiverStats { return r.recv.Stats() }

func (s *Session) RemoteTracks() []*RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RemoteTrack, 0, len(s.remote))
	for _, rt := range s.remote {
		out = append(out, rt)
	}
	return out
}

func (s *Session) RemoteTrack(id domain.TrackID) (*RemoteTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.remote[id]
	return rt, ok
}

func (s *Session) onTrack(tr *webrtc.TrackRemote, rx *webrtc.RTPReceiver) {
	id := domain.TrackID(tr.ID())
	kind := domain.KindFromCodecType(tr.Kind())
	codec := tr.Codec()
	logger := s.logger.With().Str("track", string(id)).Str("kind", kind.String()).Logger()
	logger.Info().
		Str("stream_id", tr.StreamID()).
		Str("codec", codec.MimeType).
		Msg("OnTrack received")

	recv, err := media.NewReceiver(tr, media.NewPassthroughDecoder(kind, s.cfg.Media.SampleRate), media.ReceiverConfig{
		Track:     id,
		Kind:      kind,
		Codec:     codec.MimeType,
		ClockRate: codec.ClockRate,
		Media:     s.cfg.Media,
		OnDrop:    s.onDrop,
		OnMute: func(muted bool) {
			k := core.EventTrackUnmuted
			if muted {
				k = core.EventTrackMuted
			}
			s.emit(core.Event{Kind: k, Track: id, Media: kind})
		},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("cannot receive track")
		s.emit(core.Event{Kind: core.EventError, Track: id, Err: err})
		return
	}

	rt := &RemoteTrack{ID: id, StreamID: tr.StreamID(), Kind: kind, Codec: codec.MimeType, recv: recv}
	s.mu.Lock()
	if s.state == domain.StateClosed {
		s.mu.Unlock()
		return
	}
	s.remote[id] = rt
	s.goTrack(id, func() error {
		defer s.dropRemote(id, rt)
		return recv.Run(s.ctx)
	})
	s.g.Go(func() error {
		for {
			if _, _, err := rx.ReadRTCP(); err != nil {
				return nil
			}
		}
	})
	s.emit(core.Event{Kind: core.EventRemoteTrack, Track: id, Media: kind})
	s.mu.Unlock()
}

func (s *Session) dropRemote(id domain.TrackID, rt *RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote[id] == rt {
		delete(s.remote, id)
	}
}
