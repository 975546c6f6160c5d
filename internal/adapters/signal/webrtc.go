package signal

import (
	"context"
	"errors"

	"github.com/dkeye/coderoom/internal/app/orch"
	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards an offer, answer or ICE candidate to one peer in
// the sender's room. Media never touches the server.
func (ctl *SignalWSController) handleRelay(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.SignalPayload
	if err := env.Bind(&p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad signal payload")
		ctl.sendError(conn, env.ID, protocol.CodeBadPayload, false)
		return
	}
	err := ctl.Orch.Relay(ctx, sid, p)
	switch {
	case err == nil:
	case errors.Is(err, orch.ErrNotInRoom):
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("signal from connection outside a room")
	case errors.Is(err, protocol.ErrBadSignal):
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("invalid signal")
		ctl.sendError(conn, env.ID, protocol.CodeBadPayload, false)
	case errors.Is(err, core.ErrUnknownPeer):
		ctl.sendError(conn, env.ID, protocol.CodeUnknownPeer, false)
	default:
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("target", p.Target).Msg("signal not delivered")
	}
}
