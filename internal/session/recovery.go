package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/pion/webrtc/v4"
)

// RestartICE applies a new local offer with fresh ICE credentials and emits
// it as EventRenegotiationNeeded for delivery to the peer.
func (s *Session) RestartICE(ctx context.Context) (domain.Description, error) {
	offer, err := s.createOffer(ctx, &webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return domain.Description{}, err
	}
	if err := s.SetLocalDescription(offer); err != nil {
		return domain.Description{}, err
	}
	s.logger.Info().Msg("ICE restart offer ready")
	s.emit(core.Event{Kind: core.EventRenegotiationNeeded, Description: &offer})
	return offer, nil
}

// watch enforces the connect and reconnect deadlines. Each expiry costs one
// attempt of the retry budget; the offerer restarts ICE after an exponential
// backoff, the answerer waits for the peer to do so. An exhausted budget
// leaves the session failed.
func (s *Session) watch(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	if s.cfg.RetryInterval > 0 {
		b.InitialInterval = s.cfg.RetryInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		st := s.State()
		var limit time.Duration
		switch st {
		case domain.StateClosed:
			return nil
		case domain.StateConnecting:
			limit = s.cfg.ConnectTimeout
		case domain.StateDisconnected:
			limit = s.cfg.ReconnectTimeout
		case domain.StateConnected:
			b.Reset()
		}

		expired, done := s.waitChange(ctx, limit)
		if done {
			return nil
		}
		if !expired || s.State() != st {
			continue
		}
		if !s.recover(ctx, b, st, limit) {
			return nil
		}
	}
}

// waitChange blocks until the state changes, limit passes (expired) or ctx
// ends (done). limit <= 0 waits without deadline.
func (s *Session) waitChange(ctx context.Context, limit time.Duration) (expired, done bool) {
	var timeout <-chan time.Time
	if limit > 0 {
		t := time.NewTimer(limit)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ctx.Done():
		return false, true
	case <-s.changed:
		return false, false
	case <-timeout:
		return true, false
	}
}

// recover returns false when ctx ended while backing off.
func (s *Session) recover(ctx context.Context, b backoff.BackOff, st domain.SessionState, limit time.Duration) bool {
	s.mu.Lock()
	s.attempts++
	attempt, offerer := s.attempts, s.offerer
	s.mu.Unlock()

	err := fmt.Errorf("%w: %s for %s", domain.ErrTimeout, st, limit)
	s.logger.Warn().Err(err).Int("attempt", attempt).Int("budget", s.cfg.RetryBudget).Msg("connectivity timeout")
	s.emit(core.Event{Kind: core.EventError, State: st, Err: err})

	if attempt > s.cfg.RetryBudget {
		s.logger.Error().Int("attempts", attempt).Msg("retry budget exhausted")
		s.transition(domain.StateFailed)
		return true
	}
	if !offerer {
		return true
	}

	delay := b.NextBackOff()
	if delay == backoff.Stop {
		s.transition(domain.StateFailed)
		return true
	}
	t := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		t.Stop()
		return false
	case <-t.C:
	}

	if _, err := s.RestartICE(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("ICE restart failed")
		s.emit(core.Event{Kind: core.EventError, Err: err})
	}
	return true
}
