package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/media"
	"github.com/dkeye/mediacore/internal/processor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

var ErrSourceAttached = errors.New("session: track already has a source")

type localTrack struct {
	track  *domain.Track
	static *webrtc.TrackLocalStaticSample
	sender *webrtc.RTPSender
	chain  *processor.Chain

	pipe   *media.Sender
	cancel context.CancelFunc
}

// AddTrack attaches t to the session. A track belongs to one session at a
// time; the next offer or answer carries it.
func (s *Session) AddTrack(t *domain.Track) error {
	if err := s.checkOpen("add_track"); err != nil {
		return err
	}
	if err := t.Bind(s.id); err != nil {
		return err
	}

	chain := processor.NewChain()
	if t.Kind == domain.KindVideo {
		c, err := s.procs.Chain(s.cfg.Media.Processors, s.cfg.Media)
		if err != nil {
			t.Unbind(s.id)
			return err
		}
		chain = c
	}

	static, err := webrtc.NewTrackLocalStaticSample(media.CodecFor(t.Kind), string(t.ID), t.StreamID)
	if err != nil {
		t.Unbind(s.id)
		return fmt.Errorf("new local track: %w", err)
	}
	sender, err := s.pc.AddTrack(static)
	if err != nil {
		t.Unbind(s.id)
		return fmt.Errorf("add track: %w", err)
	}

	lt := &localTrack{track: t, static: static, sender: sender, chain: chain}
	s.mu.Lock()
	if err := s.checkOpenLocked("add_track"); err != nil {
		s.mu.Unlock()
		t.Unbind(s.id)
		return err
	}
	s.local[t.ID] = lt
	s.g.Go(func() error { return s.readRTCP(lt) })
	s.mu.Unlock()

	s.logger.Info().Str("track", string(t.ID)).Str("kind", t.Kind.String()).Msg("local track added")
	return nil
}

// RemoveTrack detaches a local track and stops its pipeline.
func (s *Session) RemoveTrack(id domain.TrackID) error {
	s.mu.Lock()
	if err := s.checkOpenLocked("remove_track"); err != nil {
		s.mu.Unlock()
		return err
	}
	lt, ok := s.local[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrTrackNotFound
	}
	delete(s.local, id)
	s.mu.Unlock()

	if lt.cancel != nil {
		lt.cancel()
	}
	lt.track.Unbind(s.id)
	if err := s.pc.RemoveTrack(lt.sender); err != nil {
		return fmt.Errorf("remove track: %w", err)
	}
	s.logger.Info().Str("track", string(id)).Msg("local track removed")
	return nil
}

// Tracks lists the local tracks.
func (s *Session) Tracks() []*domain.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Track, 0, len(s.local))
	for _, lt := range s.local {
		out = append(out, lt.track)
	}
	return out
}

// Processors returns the frame processor chain of a local track, so
// processors can be registered while media flows.
func (s *Session) Processors(id domain.TrackID) (*processor.Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lt, ok := s.local[id]
	if !ok {
		return nil, domain.ErrTrackNotFound
	}
	return lt.chain, nil
}

// AttachSource starts the send pipeline of a local track. The session takes
// ownership of src and closes it when the pipeline stops. Video tracks encode
// at the bitrate controller's target, audio at the configured fixed rate.
func (s *Session) AttachSource(id domain.TrackID, src core.FrameSource, enc core.Encoder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked("attach_source"); err != nil {
		return err
	}
	lt, ok := s.local[id]
	if !ok {
		return domain.ErrTrackNotFound
	}
	if lt.pipe != nil {
		return ErrSourceAttached
	}

	var target core.BitrateTarget = s.abr
	if lt.track.Kind == domain.KindAudio {
		target = media.FixedBitrate(s.cfg.Media.AudioBitrate)
	}
	pipe := media.NewSender(src, enc, lt.static, media.SenderConfig{
		Track:   lt.track,
		Media:   s.cfg.Media,
		Chain:   lt.chain,
		Bitrate: target,
		OnDrop:  s.onDrop,
	})
	ctx, cancel := context.WithCancel(s.ctx)
	lt.pipe, lt.cancel = pipe, cancel

	s.goTrack(id, func() error {
		defer src.Close()
		return pipe.Run(ctx)
	})
	return nil
}

// SenderStats reports the send pipeline counters of a local track.
func (s *Session) SenderStats(id domain.TrackID) (media.SenderStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lt, ok := s.local[id]
	if !ok || lt.pipe == nil {
		return media.SenderStats{}, domain.ErrTrackNotFound
	}
	return lt.pipe.Stats(), nil
}

// readRTCP drains RTCP for one sender. Reading drives the interceptor chain,
// which is where bitrate feedback is taken; keyframe requests are forwarded
// to the encoder.
func (s *Session) readRTCP(lt *localTrack) error {
	for {
		pkts, _, err := lt.sender.ReadRTCP()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || s.ctx.Err() != nil {
				return nil
			}
			s.logger.Debug().Err(err).Str("track", string(lt.track.ID)).Msg("rtcp read stopped")
			return nil
		}
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				s.mu.Lock()
				pipe := lt.pipe
				s.mu.Unlock()
				if pipe != nil {
					pipe.RequestKeyframe()
				}
			}
		}
	}
}
