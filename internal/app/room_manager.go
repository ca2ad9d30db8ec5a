package app

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/rs/zerolog/log"
)

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"members"`
}

type roomState struct {
	room    domain.Room
	members map[domain.SessionID]struct{}
}

// RoomManager tracks room membership. Rooms are created on first join and
// dropped when the last member leaves.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]*roomState
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomName]*roomState)}
}

func (m *RoomManager) AddMember(name domain.RoomName, sid domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rooms[name]
	if !ok {
		rs = &roomState{room: domain.Room{Name: name}, members: make(map[domain.SessionID]struct{})}
		m.rooms[name] = rs
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room created")
	}
	rs.members[sid] = struct{}{}
}

// RemoveMember reports whether sid was a member of name.
func (m *RoomManager) RemoveMember(name domain.RoomName, sid domain.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rooms[name]
	if !ok {
		return false
	}
	if _, ok := rs.members[sid]; !ok {
		return false
	}
	delete(rs.members, sid)
	if len(rs.members) == 0 {
		delete(m.rooms, name)
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room emptied")
	}
	return true
}

func (m *RoomManager) Members(name domain.RoomName) []domain.SessionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.rooms[name]
	if !ok {
		return nil
	}
	out := make([]domain.SessionID, 0, len(rs.members))
	for sid := range rs.members {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}

func (m *RoomManager) Get(name domain.RoomName) (domain.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.rooms[name]
	if !ok {
		return domain.Room{}, false
	}
	return rs.room, true
}

func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for name, rs := range m.rooms {
		out = append(out, RoomInfo{Name: name, MemberCount: len(rs.members)})
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b RoomInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// StopRoom forgets the room and returns the members it had.
func (m *RoomManager) StopRoom(name domain.RoomName) []domain.SessionID {
	members := m.Members(name)
	m.mu.Lock()
	delete(m.rooms, name)
	m.mu.Unlock()
	return members
}
