// Package session implements the transport session: one PeerConnection with
// its negotiation state, local and remote media pipelines, data channels and
// bitrate control.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/mediacore/internal/abr"
	"github.com/dkeye/mediacore/internal/config"
	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/datachannel"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/processor"
	"github.com/gammazero/deque"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Session owns one PeerConnection. All methods are safe for concurrent use.
// Every goroutine it starts is joined by Close.
type Session struct {
	id     domain.SessionID
	cfg    config.Session
	pc     *webrtc.PeerConnection
	events *core.EventStream
	mux    *datachannel.Mux
	abr    *abr.Controller
	procs  *processor.Registry
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	mu        sync.Mutex
	state     domain.SessionState
	local     map[domain.TrackID]*localTrack
	remote    map[domain.TrackID]*RemoteTrack
	pending   deque.Deque[domain.Candidate]
	hasRemote bool
	offerer   bool
	attempts  int

	changed   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func New(cfg config.Session, opts ...Option) (*Session, error) {
	o := &options{pionLevel: zerolog.WarnLevel}
	for _, fn := range opts {
		fn(o)
	}
	if o.id == "" {
		o.id = domain.NewSessionID()
	}
	if o.processors == nil {
		o.processors = processor.DefaultRegistry()
	}
	base := log.Logger
	if o.logger != nil {
		base = *o.logger
	}
	base = base.With().Str("sid", string(o.id)).Logger()

	ctrl := abr.NewController(cfg.ABR)
	api, err := newAPI(cfg, o, ctrl, base)
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(rtcConfiguration(cfg))
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	// A plain group: one failing track must not cancel its siblings.
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      o.id,
		cfg:     cfg,
		pc:      pc,
		events:  core.NewEventStream(cfg.EventBuffer),
		abr:     ctrl,
		procs:   o.processors,
		logger:  base.With().Str("module", "session").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		g:       &errgroup.Group{},
		state:   domain.StateNew,
		local:   make(map[domain.TrackID]*localTrack),
		remote:  make(map[domain.TrackID]*RemoteTrack),
		changed: make(chan struct{}, 1),
	}
	s.mux = datachannel.NewMux(pc, cfg.DataChannel, s.emit).WithLogger(base)
	ctrl.OnChange(func(bps int) {
		s.emit(core.Event{Kind: core.EventBitrateChanged, Bitrate: bps})
	})
	s.wire()
	s.g.Go(func() error { return s.watch(ctx) })

	s.logger.Info().Msg("session created")
	return s, nil
}

func (s *Session) ID() domain.SessionID { return s.id }

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events is the ordered notification stream. It is closed after Close once
// every queued event has been read.
func (s *Session) Events() <-chan core.Event { return s.events.C() }

func (s *Session) DataChannels() *datachannel.Mux { return s.mux }

func (s *Session) Bitrate() *abr.Controller { return s.abr }

// Close is terminal and idempotent. It cancels in-flight work, closes data
// channels, stops pipelines, releases tracks and closes the PeerConnection.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.close() })
	return s.closeErr
}

func (s *Session) close() error {
	var result *multierror.Error

	s.mu.Lock()
	s.transitionLocked(domain.StateClosed)
	locals := make([]*localTrack, 0, len(s.local))
	for _, lt := range s.local {
		locals = append(locals, lt)
	}
	s.local = make(map[domain.TrackID]*localTrack)
	s.pending.Clear()
	s.mu.Unlock()

	s.cancel()
	if err := s.mux.CloseAll(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, lt := range locals {
		lt.track.Unbind(s.id)
	}
	// closing the PeerConnection unblocks RTP and RTCP readers
	if err := s.pc.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close peer connection: %w", err))
	}
	if err := s.g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		result = multierror.Append(result, err)
	}
	s.events.Close()

	s.logger.Info().Msg("session closed")
	return result.ErrorOrNil()
}

func (s *Session) emit(ev core.Event) {
	ev.Session = s.id
	s.events.Emit(ev)
}

// checkOpen must not be called with mu held.
func (s *Session) checkOpen(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkOpenLocked(op)
}

func (s *Session) checkOpenLocked(op string) error {
	if s.state == domain.StateClosed {
		return &domain.StateError{Op: op, State: s.state}
	}
	return nil
}

func (s *Session) transition(to domain.SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

// transitionLocked emits under mu so state events keep transition order.
func (s *Session) transitionLocked(to domain.SessionState) bool {
	from := s.state
	if !from.CanTransition(to) {
		return false
	}
	s.state = to
	if to == domain.StateConnected {
		s.attempts = 0
	}
	select {
	case s.changed <- struct{}{}:
	default:
	}
	s.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	s.emit(core.Event{Kind: core.EventStateChanged, State: to, Prev: from})
	return true
}

func (s *Session) wire() {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			s.logger.Debug().Msg("ICE gathering complete")
			s.emit(core.Event{Kind: core.EventGatheringComplete})
			return
		}
		cand, err := domain.CandidateFromInit(c.ToJSON())
		if err != nil {
			s.logger.Warn().Err(err).Msg("unparsable local candidate")
			return
		}
		s.emit(core.Event{Kind: core.EventLocalCandidate, Candidate: &cand})
	})

	s.pc.OnConnectionStateChange(func(ps webrtc.PeerConnectionState) {
		s.logger.Info().Str("peer_connection_state", ps.String()).Msg("Peer state")
		switch ps {
		case webrtc.PeerConnectionStateConnected:
			s.transition(domain.StateConnected)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			s.transition(domain.StateDisconnected)
		}
	})

	s.pc.OnICEConnectionStateChange(func(is webrtc.ICEConnectionState) {
		s.logger.Debug().Str("ice_state", is.String()).Msg("ICE state")
	})

	s.pc.OnNegotiationNeeded(func() {
		if st := s.State(); st == domain.StateNew || st == domain.StateClosed {
			return
		}
		s.emit(core.Event{Kind: core.EventRenegotiationNeeded})
	})

	s.pc.OnTrack(s.onTrack)
}

// goTrack runs a per-track pipeline. A failure is logged and surfaced as
// EventError; it never stops the rest of the session.
func (s *Session) goTrack(id domain.TrackID, run func() error) {
	s.g.Go(func() error {
		err := run()
		if err == nil || errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
			return nil
		}
		s.logger.Warn().Err(err).Str("track", string(id)).Msg("track pipeline failed")
		s.emit(core.Event{Kind: core.EventError, Track: id, Err: err})
		return nil
	})
}

func (s *Session) onDrop(e *domain.FrameDropError) {
	s.emit(core.Event{Kind: core.EventFrameDropped, Track: e.Track, Err: e})
}
