package signal

import (
	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.RenamePayload
	if err := env.Bind(&p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, env.ID, protocol.CodeBadPayload, false)
		return
	}
	if err := ctl.Orch.Rename(sid, p.Name); err != nil {
		ctl.sendError(conn, env.ID, protocol.CodeInvalidName, false)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename")
	ctl.handleWhoAmI(sid, conn, env.ID)
}

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn *WsSignalConn,
	id string,
) {
	ctl.send(conn, id, protocol.TypeWhoAmI, "", ctl.Orch.WhoAmI(sid))
}
