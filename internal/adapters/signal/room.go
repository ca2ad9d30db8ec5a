package signal

import (
	"encoding/json"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/rs/zerolog/log"
)

type memberMsg struct {
	Type string      `json:"type"`
	Peer domain.Peer `json:"peer"`
}

type roomStateMsg struct {
	Type    string          `json:"type"`
	Room    domain.RoomName `json:"room"`
	Members []domain.Peer   `json:"members"`
	Count   int             `json:"count"`
}

func (ctl *SignalWSController) roomState(room domain.RoomName) roomStateMsg {
	members := ctl.Orch.Registry.MembersOfRoom(room)
	peers := make([]domain.Peer, 0, len(members))
	for _, m := range members {
		peers = append(peers, m.Peer)
	}
	return roomStateMsg{Type: "room_state", Room: room, Members: peers, Count: len(peers)}
}

func (ctl *SignalWSController) handleJoin(
	sid domain.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		Type string `json:"type"`
		Room string `json:"room"`
		Name string `json:"name,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	room, err := domain.NewRoomName(p.Room)
	if err != nil {
		ctl.sendError(conn, "invalid_room")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}

	if p.Name != "" {
		if err := ctl.Orch.Registry.UpdateName(sid, p.Name); err != nil {
			ctl.sendError(conn, "invalid_name")
			return
		}
		log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename on join")
	}

	prev, hadRoom := ctl.Orch.Registry.RoomOf(sid)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Msg("join")
	if !ctl.Orch.Join(sid, room) {
		ctl.sendError(conn, "join_failed")
		return
	}
	peer, _ := ctl.Orch.Registry.Peer(sid)
	if hadRoom && prev != room {
		ctl.BroadcastRoom(prev, memberMsg{Type: "member_left", Peer: peer})
	}
	ctl.sendJSON(conn, ctl.roomState(room))
	ctl.BroadcastFrom(sid, memberMsg{Type: "member_joined", Peer: peer})
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	sid domain.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	room, ok := ctl.Orch.Leave(sid)
	ctl.sendJSON(conn, map[string]any{
		"type": "left",
	})

	if ok {
		peer, _ := ctl.Orch.Registry.Peer(sid)
		ctl.BroadcastRoom(room, memberMsg{Type: "member_left", Peer: peer})
	}
}
