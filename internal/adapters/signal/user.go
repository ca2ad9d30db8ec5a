package signal

import (
	"encoding/json"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(
	sid domain.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type renamePayload struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	var p renamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename")
	if err := ctl.Orch.Registry.UpdateName(sid, p.Name); err != nil {
		ctl.sendError(conn, "invalid_name")
		return
	}
	ctl.handleWhoAmI(sid, conn)

	peer, _ := ctl.Orch.Registry.Peer(sid)
	ctl.BroadcastFrom(sid, memberMsg{Type: "member_updated", Peer: peer})
}

func (ctl *SignalWSController) handleWhoAmI(
	sid domain.SessionID,
	conn *WsSignalConn,
) {
	peer, _ := ctl.Orch.Registry.Peer(sid)

	resp := struct {
		Type  string          `json:"type"`
		Peer  domain.Peer     `json:"peer"`
		Room  domain.RoomName `json:"room,omitempty"`
		State string          `json:"state,omitempty"`
		Chans []string        `json:"channels,omitempty"`
	}{
		Type: "whoami",
		Peer: peer,
	}
	if room, ok := ctl.Orch.Registry.RoomOf(sid); ok {
		resp.Room = room
	}
	if sess, ok := ctl.Orch.Registry.GetSession(sid); ok {
		resp.State = sess.State().String()
		resp.Chans = sess.DataChannels().Labels()
	}
	ctl.sendJSON(conn, resp)
}
