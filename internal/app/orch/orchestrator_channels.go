package orch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dkeye/mediacore/internal/app"
	"github.com/dkeye/mediacore/internal/datachannel"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/session"
	"github.com/rs/zerolog/log"
)

// OpenChannel opens a server-side data channel on sid's session. Messages
// received on it are relayed like those of client-opened channels.
func (o *Orchestrator) OpenChannel(sid domain.SessionID, label string, rel domain.Reliability) (*datachannel.Channel, error) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, &domain.StateError{Op: "open_channel", State: domain.StateNew}
	}
	ch, err := sess.DataChannels().Open(label, rel)
	if err != nil {
		return nil, err
	}
	go o.relayChannel(sid, ch)
	return ch, nil
}

func (o *Orchestrator) acceptChannels(ctx context.Context, sid domain.SessionID, sess *session.Session) {
	for {
		ch, err := sess.DataChannels().Accept(ctx)
		if err != nil {
			return
		}
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("label", ch.Label()).Msg("data channel accepted")
		o.Send(sid, ChannelMsg{Type: "channel_opened", Label: ch.Label(), Reliability: ch.Reliability()})
		go o.relayChannel(sid, ch)
	}
}

// relayChannel forwards every message of ch to the channel with the same
// label on each room mate's session.
func (o *Orchestrator) relayChannel(sid domain.SessionID, ch *datachannel.Channel) {
	logger := log.With().Str("module", "orch").Str("sid", string(sid)).Str("label", ch.Label()).Logger()
	for msg := range ch.Messages() {
		for _, mate := range o.Registry.RoomMates(sid) {
			if mate.Session == nil {
				continue
			}
			dst, ok := mate.Session.DataChannels().Get(ch.Label())
			if !ok {
				continue
			}
			if action := o.deliver(dst, msg); action != app.NoAction {
				logger.Info().Str("dst_sid", string(mate.SID)).Str("action", action.String()).Msg("backpressure")
			}
		}
	}
	logger.Debug().Msg("channel relay stopped")
}

// deliver sends msg on dst, applying the backpressure policy while dst's
// buffer is full. It returns the final action taken.
func (o *Orchestrator) deliver(dst *datachannel.Channel, msg datachannel.Message) app.BackpressureAction {
	policy := o.Policy
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0

	for attempt := 1; ; attempt++ {
		var err error
		if msg.Text {
			err = dst.SendText(string(msg.Data))
		} else {
			err = dst.Send(msg.Data)
		}
		if err == nil {
			if attempt > 1 {
				return app.Retry
			}
			return app.NoAction
		}
		if !errors.Is(err, domain.ErrBufferFull) {
			return app.NoAction
		}
		switch action := policy.OnBackpressure(dst.Reliability(), attempt); action {
		case app.Retry:
			time.Sleep(b.NextBackOff())
		case app.CloseChannel:
			_ = dst.Close()
			return action
		default:
			return action
		}
	}
}
