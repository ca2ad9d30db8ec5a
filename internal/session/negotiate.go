package session

import (
	"context"
	"fmt"

	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/pion/webrtc/v4"
)

// CreateOffer describes the current local tracks, data channels and codecs.
func (s *Session) CreateOffer(ctx context.Context) (domain.Description, error) {
	return s.createOffer(ctx, nil)
}

func (s *Session) createOffer(ctx context.Context, opts *webrtc.OfferOptions) (domain.Description, error) {
	if err := ctx.Err(); err != nil {
		return domain.Description{}, err
	}
	if err := s.checkOpen("create_offer"); err != nil {
		return domain.Description{}, err
	}
	offer, err := s.pc.CreateOffer(opts)
	if err != nil {
		return domain.Description{}, fmt.Errorf("%w: create offer: %v", domain.ErrNegotiation, err)
	}
	return domain.DescriptionFromWebRTC(offer), nil
}

// CreateAnswer answers the applied remote offer.
func (s *Session) CreateAnswer(ctx context.Context) (domain.Description, error) {
	if err := ctx.Err(); err != nil {
		return domain.Description{}, err
	}
	if err := s.checkOpen("create_answer"); err != nil {
		return domain.Description{}, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return domain.Description{}, fmt.Errorf("%w: create answer: %v", domain.ErrNegotiation, err)
	}
	return domain.DescriptionFromWebRTC(answer), nil
}

func (s *Session) SetLocalDescription(d domain.Description) error {
	if err := s.checkOpen("set_local_description"); err != nil {
		return err
	}
	sd, err := d.ToWebRTC()
	if err != nil {
		return err
	}
	if err := s.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("%w: set local description: %v", domain.ErrNegotiation, err)
	}

	s.mu.Lock()
	switch d.Type {
	case domain.DescriptionOffer:
		s.offerer = true
	case domain.DescriptionAnswer:
		s.offerer = false
	}
	s.transitionLocked(domain.StateConnecting)
	s.mu.Unlock()

	s.logger.Info().Str("type", string(d.Type)).Msg("local description applied")
	return nil
}

// SetRemoteDescription validates and applies d, then flushes candidates that
// arrived before it.
func (s *Session) SetRemoteDescription(d domain.Description) error {
	if err := s.checkOpen("set_remote_description"); err != nil {
		return err
	}
	sd, err := d.ToWebRTC()
	if err != nil {
		return err
	}
	if err := s.validateRemote(d); err != nil {
		return err
	}
	if err := s.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("%w: set remote description: %v", domain.ErrNegotiation, err)
	}

	s.mu.Lock()
	s.hasRemote = true
	queued := make([]domain.Candidate, 0, s.pending.Len())
	for s.pending.Len() > 0 {
		queued = append(queued, s.pending.PopFront())
	}
	s.transitionLocked(domain.StateConnecting)
	s.mu.Unlock()

	s.logger.Info().Str("type", string(d.Type)).Int("queued_candidates", len(queued)).Msg("remote description applied")
	for _, c := range queued {
		if err := s.pc.AddICECandidate(c.Init()); err != nil {
			s.logger.Warn().Err(err).Str("candidate", c.String()).Msg("queued candidate rejected")
			s.emit(core.Event{Kind: core.EventError, Candidate: &c, Err: fmt.Errorf("%w: %v", domain.ErrNegotiation, err)})
		}
	}
	return nil
}

func (s *Session) LocalDescription() *domain.Description {
	sd := s.pc.LocalDescription()
	if sd == nil {
		return nil
	}
	d := domain.DescriptionFromWebRTC(*sd)
	return &d
}

func (s *Session) RemoteDescription() *domain.Description {
	sd := s.pc.RemoteDescription()
	if sd == nil {
		return nil
	}
	d := domain.DescriptionFromWebRTC(*sd)
	return &d
}

// GatherComplete waits until ICE gathering finished, for peers that exchange
// complete descriptions instead of trickling candidates.
func (s *Session) GatherComplete(ctx context.Context) error {
	if err := s.checkOpen("gather_complete"); err != nil {
		return err
	}
	done := webrtc.GatheringCompletePromise(s.pc)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddICECandidate applies a remote candidate, or queues it until the remote
// description is known.
func (s *Session) AddICECandidate(c domain.Candidate) error {
	s.mu.Lock()
	if err := s.checkOpenLocked("add_ice_candidate"); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.hasRemote {
		defer s.mu.Unlock()
		if s.pending.Len() >= s.cfg.CandidateQueue {
			return fmt.Errorf("%w: %d candidates pending", domain.ErrBufferFull, s.pending.Len())
		}
		s.pending.PushBack(c)
		return nil
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(c.Init()); err != nil {
		return fmt.Errorf("%w: add candidate: %v", domain.ErrNegotiation, err)
	}
	return nil
}

// PendingCandidates is the number of remote candidates waiting for the remote
// description.
func (s *Session) PendingCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}
