package orch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/mediacore/internal/app"
	"github.com/dkeye/mediacore/internal/app/sfu"
	"github.com/dkeye/mediacore/internal/config"
	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/session"
	"github.com/rs/zerolog/log"
)

const defaultGatherTimeout = 3 * time.Second

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Policy   app.Policy
	Relays   *sfu.RelayManager

	// Config is applied to every session the orchestrator creates; Options
	// are appended after the session id.
	Config  config.Session
	Options []session.Option

	// GatherTimeout bounds how long an answer waits for local candidates.
	GatherTimeout time.Duration
}

func New(cfg config.Session, reg *app.Registry, rooms *app.RoomManager, policy app.Policy, relays *sfu.RelayManager, opts ...session.Option) *Orchestrator {
	o := &Orchestrator{
		Registry:      reg,
		Rooms:         rooms,
		Policy:        policy,
		Relays:        relays,
		Config:        cfg,
		Options:       opts,
		GatherTimeout: defaultGatherTimeout,
	}
	relays.OnStop = o.onRelayStopped
	return o
}

// Session returns the transport session of sid, creating it on first use.
func (o *Orchestrator) Session(sid domain.SessionID) (*session.Session, error) {
	if sess, ok := o.Registry.GetSession(sid); ok {
		return sess, nil
	}
	opts := append([]session.Option{session.WithID(sid)}, o.Options...)
	sess, err := session.New(o.Config, opts...)
	if err != nil {
		return nil, err
	}
	if !o.Registry.BindSession(sid, sess) {
		_ = sess.Close()
		if cur, ok := o.Registry.GetSession(sid); ok {
			return cur, nil
		}
		return nil, &domain.StateError{Op: "create_session", State: domain.StateClosed}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go o.acceptChannels(ctx, sid, sess)
	go func() {
		defer cancel()
		o.pump(sid, sess)
	}()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("session created")
	return sess, nil
}

// HandleOffer applies a client offer and returns the answer. The answer waits
// up to GatherTimeout for local candidates; later ones are trickled.
func (o *Orchestrator) HandleOffer(ctx context.Context, sid domain.SessionID, offer domain.Description) (domain.Description, error) {
	sess, err := o.Session(sid)
	if err != nil {
		return domain.Description{}, err
	}
	if err := sess.SetRemoteDescription(offer); err != nil {
		return domain.Description{}, err
	}
	answer, err := sess.CreateAnswer(ctx)
	if err != nil {
		return domain.Description{}, err
	}
	if err := sess.SetLocalDescription(answer); err != nil {
		return domain.Description{}, err
	}

	gctx, cancel := context.WithTimeout(ctx, o.GatherTimeout)
	defer cancel()
	if err := sess.GatherComplete(gctx); err != nil {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Err(err).Msg("answering before gathering completed")
	}
	if local := sess.LocalDescription(); local != nil {
		return *local, nil
	}
	return answer, nil
}

// HandleAnswer applies the client's answer to a server offer.
func (o *Orchestrator) HandleAnswer(sid domain.SessionID, answer domain.Description) error {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return &domain.StateError{Op: "answer", State: domain.StateNew}
	}
	return sess.SetRemoteDescription(answer)
}

// HandleCandidate adds a remote candidate. Candidates that arrive before the
// offer are queued by the session.
func (o *Orchestrator) HandleCandidate(sid domain.SessionID, c domain.Candidate) error {
	sess, err := o.Session(sid)
	if err != nil {
		return err
	}
	return sess.AddICECandidate(c)
}

// Disconnect tears down sid after its signaling connection sig went away.
// It is a no-op returning false when sig was already replaced by a newer
// connection.
func (o *Orchestrator) Disconnect(sid domain.SessionID, sig core.SignalConnection) bool {
	if cur, ok := o.Registry.Signal(sid); !ok || cur != sig {
		return false
	}
	o.Leave(sid)
	sess, ok := o.Registry.Unbind(sid, sig)
	if ok {
		o.removeOutTracks(o.Relays.StopRelays(sid))
		if err := sess.Close(); err != nil {
			log.Warn().Str("module", "orch").Str("sid", string(sid)).Err(err).Msg("session close")
		}
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("disconnected")
	return true
}

// Send marshals v and queues it on sid's signaling connection.
func (o *Orchestrator) Send(sid domain.SessionID, v any) {
	sig, ok := o.Registry.Signal(sid)
	if !ok {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("send marshal")
		return
	}
	if err := sig.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("signal send failed")
	}
}

// pump turns session events into signaling messages and relay changes until
// the session is closed.
func (o *Orchestrator) pump(sid domain.SessionID, sess *session.Session) {
	logger := log.With().Str("module", "orch").Str("sid", string(sid)).Logger()
	for ev := range sess.Events() {
		switch ev.Kind {
		case core.EventLocalCandidate:
			o.Send(sid, candidateMsg(*ev.Candidate))
		case core.EventRenegotiationNeeded:
			o.renegotiate(sid, sess, ev.Description)
		case core.EventRemoteTrack:
			o.onRemoteTrack(sid, sess, ev.Track)
		case core.EventTrackMuted, core.EventTrackUnmuted:
			o.onTrackMute(sid, ev)
		case core.EventStateChanged:
			o.Send(sid, StateMsg{Type: "state", State: ev.State.String()})
			if ev.State == domain.StateFailed {
				logger.Warn().Msg("session failed, waiting for client restart")
			}
		case core.EventBitrateChanged:
			o.Send(sid, BitrateMsg{Type: "bitrate", Bitrate: ev.Bitrate})
		case core.EventFrameDropped:
			logger.Debug().Str("track", string(ev.Track)).Int("count", ev.Count).Err(ev.Err).Msg("frame dropped")
		case core.EventError:
			logger.Warn().Err(ev.Err).Msg("session error")
			if !errors.Is(ev.Err, domain.ErrTimeout) {
				o.Send(sid, errorMsg(ev.Err))
			}
		}
	}
	o.removeOutTracks(o.Relays.StopRelays(sid))
	logger.Info().Msg("event stream closed")
}

// renegotiate pushes a server offer. d is set when the session already
// applied the offer (ICE restart).
func (o *Orchestrator) renegotiate(sid domain.SessionID, sess *session.Session, d *domain.Description) {
	if d != nil {
		o.Send(sid, descriptionMsg(*d))
		return
	}
	if sess.RemoteDescription() == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.GatherTimeout)
	defer cancel()
	offer, err := sess.CreateOffer(ctx)
	if err == nil {
		err = sess.SetLocalDescription(offer)
	}
	if err != nil {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Err(err).Msg("renegotiation offer failed")
		o.Send(sid, errorMsg(err))
		return
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("renegotiation offer sent")
	o.Send(sid, descriptionMsg(offer))
}
