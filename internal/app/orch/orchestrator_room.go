package orch

import (
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join moves sid into room, leaving its current room first, and wires media
// between sid and the other members in both directions.
func (o *Orchestrator) Join(sid domain.SessionID, room domain.RoomName) bool {
	if cur, ok := o.Registry.RoomOf(sid); ok {
		if cur == room {
			return true
		}
		o.Leave(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(cur)).Msg("left previous room")
	}
	if !o.Registry.UpdateRoom(sid, room) {
		return false
	}
	o.Rooms.AddMember(room, sid)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("added to room")

	o.OnMediaReady(sid)
	for _, relay := range o.Relays.RelaysOf(sid) {
		for _, mate := range o.Registry.RoomMates(sid) {
			o.subscribe(relay, mate.SID)
		}
	}
	return true
}

// Leave removes sid from its room and detaches the relays between sid and
// the remaining members. It returns the room that was left.
func (o *Orchestrator) Leave(sid domain.SessionID) (domain.RoomName, bool) {
	room, ok := o.Registry.RoomOf(sid)
	if !ok {
		return "", false
	}
	for _, mate := range o.Registry.RoomMates(sid) {
		o.removeOutTracks(o.Relays.Unsubscribe(mate.SID, sid))
		o.removeOutTracks(o.Relays.Unsubscribe(sid, mate.SID))
	}
	o.Rooms.RemoveMember(room, sid)
	o.Registry.RemoveRoom(sid)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("left room")
	return room, true
}

// EvictRoom removes every member of name.
func (o *Orchestrator) EvictRoom(name domain.RoomName) {
	for _, m := range o.Registry.MembersOfRoom(name) {
		o.Leave(m.SID)
	}
	o.Rooms.StopRoom(name)
}
