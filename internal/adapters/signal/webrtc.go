package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleOffer(
	ctx context.Context,
	sid domain.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var offer domain.Description
	if err := json.Unmarshal(data, &offer); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	answer, err := ctl.Orch.HandleOffer(ctx, sid, offer)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("webrtc apply offer")
		ctl.sendError(conn, err.Error())
		return
	}
	ctl.sendJSON(conn, answer)

	// Relay tracks are added after the answer is queued so the renegotiation
	// offer they trigger reaches the client second.
	ctl.Orch.OnMediaReady(sid)
}

func (ctl *SignalWSController) handleAnswer(
	sid domain.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var answer domain.Description
	if err := json.Unmarshal(data, &answer); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad answer payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Orch.HandleAnswer(sid, answer); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("webrtc apply answer")
		ctl.sendError(conn, err.Error())
	}
}

func (ctl *SignalWSController) handleCandidate(
	sid domain.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type candidatePayload struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.Candidate == "" {
		// End-of-candidates marker.
		return
	}

	cand, err := domain.ParseCandidate(p.Candidate, p.SDPMid, p.SDPMLineIndex)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad candidate")
		ctl.sendError(conn, "bad_candidate")
		return
	}
	if err := ctl.Orch.HandleCandidate(sid, cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("add ice candidate")
		ctl.sendError(conn, err.Error())
	}
}

func (ctl *SignalWSController) handleOpenChannel(
	sid domain.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type openPayload struct {
		Type        string             `json:"type"`
		Label       string             `json:"label"`
		Reliability domain.Reliability `json:"reliability"`
	}
	p := openPayload{Reliability: domain.ReliableOrdered()}
	if err := json.Unmarshal(data, &p); err != nil || p.Label == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad open_channel payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	ch, err := ctl.Orch.OpenChannel(sid, p.Label, p.Reliability)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("label", p.Label).Msg("open channel")
		ctl.sendError(conn, err.Error())
		return
	}
	ctl.sendJSON(conn, map[string]any{
		"type":        "channel_opening",
		"label":       ch.Label(),
		"reliability": ch.Reliability(),
	})
}
