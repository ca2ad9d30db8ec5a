package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/rs/zerolog/log"
)

type RelayManager struct {
	mu     sync.RWMutex
	relays map[RelayKey]*Relay

	// OnStop is called after a relay ended on its own (source track gone)
	// with the subscriber tracks it detached.
	OnStop func(key RelayKey, outs []*OutTrack)
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[RelayKey]*Relay),
	}
}

// StartRelay creates a new Relay for the given remote track and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, key RelayKey, kind domain.MediaKind, frames <-chan *domain.RawFrame) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("sid", string(key.Owner)).
		Str("track", string(key.Track)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(key, kind, frames, cancel)

	m.mu.Lock()
	if old, ok := m.relays[key]; ok {
		logger.Info().Msg("replacing existing relay for track")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[key] = relay
	m.mu.Unlock()

	logger.Info().Str("kind", kind.String()).Msg("starting relay loop")

	go func() {
		outs := relay.loop(relayCtx, &logger)
		m.mu.Lock()
		current := m.relays[key] == relay
		if current {
			delete(m.relays, key)
		}
		m.mu.Unlock()
		if current && m.OnStop != nil && relayCtx.Err() == nil {
			m.OnStop(key, outs)
		}
		cancel()
	}()
	return relay
}

// Subscribe attaches ot to the relay of key.
func (m *RelayManager) Subscribe(key RelayKey, ot *OutTrack) bool {
	m.mu.RLock()
	relay, ok := m.relays[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(ot)
	return true
}

// Unsubscribe detaches dst from every relay of owner and returns the
// detached tracks.
func (m *RelayManager) Unsubscribe(owner, dst domain.SessionID) []*OutTrack {
	var outs []*OutTrack
	for _, relay := range m.RelaysOf(owner) {
		if ot, ok := relay.removeOutTrack(dst); ok {
			outs = append(outs, ot)
		}
	}
	return outs
}

// StopRelays stops every relay of owner and returns their subscriber tracks.
func (m *RelayManager) StopRelays(owner domain.SessionID) []*OutTrack {
	m.mu.Lock()
	var stopped []*Relay
	for key, relay := range m.relays {
		if key.Owner == owner {
			delete(m.relays, key)
			stopped = append(stopped, relay)
		}
	}
	m.mu.Unlock()

	var outs []*OutTrack
	for _, relay := range stopped {
		outs = append(outs, relay.markAllDelete()...)
		relay.cancel()
	}
	return outs
}

// RelaysOf lists the relays reading from owner's tracks.
func (m *RelayManager) RelaysOf(owner domain.SessionID) []*Relay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Relay
	for key, relay := range m.relays {
		if key.Owner == owner {
			out = append(out, relay)
		}
	}
	return out
}

func (m *RelayManager) Get(key RelayKey) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[key]
	return relay, ok
}

// SetMuted pauses or resumes forwarding of key to all its subscribers.
func (m *RelayManager) SetMuted(key RelayKey, muted bool) {
	if relay, ok := m.Get(key); ok {
		relay.setMuted(muted)
	}
}
