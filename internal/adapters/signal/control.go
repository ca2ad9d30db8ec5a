package signal

import (
	"context"
	"time"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
		Time int64  `json:"time"`
	}{
		Type: "pong",
		Time: time.Now().UnixMilli(),
	}
	ctl.sendJSON(conn, resp)
}

// handleRestart lets a client recover a failed session with an ICE restart.
// The new offer reaches the client through the session's event stream.
func (ctl *SignalWSController) handleRestart(
	ctx context.Context,
	sid domain.SessionID,
	conn *WsSignalConn,
) {
	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok {
		ctl.sendError(conn, "no_session")
		return
	}
	if _, err := sess.RestartICE(ctx); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("ice restart")
		ctl.sendError(conn, err.Error())
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("ice restart requested")
}
