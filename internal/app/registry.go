package app

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/session"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Peer     domain.Peer
	RoomName domain.RoomName
	Signal   core.SignalConnection
	Session  *session.Session
	Cancel   context.CancelFunc
}

// Registry maps signaling clients to their transport sessions and rooms.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.SessionID]*sessionEntry),
	}
}

// BindSignal registers a signaling connection for sid. A previous connection
// of the same client is canceled and replaced; its media session is kept.
func (r *Registry) BindSignal(sid domain.SessionID, sig core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	var prev context.CancelFunc
	if ok {
		prev = e.Cancel
		e.Signal, e.Cancel = sig, cancel
	} else {
		r.sessions[sid] = &sessionEntry{
			Peer:   domain.Peer{ID: sid, Name: "guest"},
			Signal: sig,
			Cancel: cancel,
		}
	}
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Bool("rebind", ok).Msg("bound signal")
}

// BindSession attaches a transport session. It returns false when sid is not
// registered or already has a session.
func (r *Registry) BindSession(sid domain.SessionID, sess *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Session != nil {
		return false
	}
	e.Session = sess
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound session")
	return true
}

func (r *Registry) Peer(sid domain.SessionID) (domain.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return domain.Peer{}, false
	}
	return e.Peer, true
}

func (r *Registry) UpdateName(sid domain.SessionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return domain.ErrInvalidState
	}
	if err := e.Peer.SetName(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("name", name).Msg("updated name")
	return nil
}

func (r *Registry) GetSession(sid domain.SessionID) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok && e.Session != nil {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Signal(sid domain.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok && e.Signal != nil {
		return e.Signal, true
	}
	return nil, false
}

// Unbind removes sid and returns its session so the caller can close it. When
// sig is not nil the entry is only removed if sig is still its signaling
// connection, so a replaced connection cannot tear down its successor.
func (r *Registry) Unbind(sid domain.SessionID, sig core.SignalConnection) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || (sig != nil && e.Signal != sig) {
		return nil, false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return e.Session, e.Session != nil
}

func (r *Registry) RoomOf(sid domain.SessionID) (domain.RoomName, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomName == "" {
		return "", false
	}
	return e.RoomName, true
}

func (r *Registry) UpdateRoom(sid domain.SessionID, room domain.RoomName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.RoomName = room
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("updated room")
	return true
}

func (r *Registry) RemoveRoom(sid domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.RoomName = ""
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
}

// Member is a point-in-time view of a registered client.
type Member struct {
	SID     domain.SessionID
	Peer    domain.Peer
	Room    domain.RoomName
	Signal  core.SignalConnection
	Session *session.Session
}

func (e *sessionEntry) snapshot(sid domain.SessionID) Member {
	return Member{SID: sid, Peer: e.Peer, Room: e.RoomName, Signal: e.Signal, Session: e.Session}
}

func (r *Registry) MembersOfRoom(name domain.RoomName) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.RoomName == name {
			out = append(out, e.snapshot(sid))
		}
	}
	return out
}

// RoomMates returns the other members of sid's room.
func (r *Registry) RoomMates(sid domain.SessionID) []Member {
	room, ok := r.RoomOf(sid)
	if !ok {
		return nil
	}
	return slices.DeleteFunc(r.MembersOfRoom(room), func(m Member) bool { return m.SID == sid })
}

// Snapshot lists every registered client ordered by id.
func (r *Registry) Snapshot() []Member {
	r.mu.RLock()
	out := make([]Member, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, e.snapshot(sid))
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Member) int { return cmp.Compare(a.SID, b.SID) })
	return out
}

func (r *Registry) Cancel(sid domain.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
