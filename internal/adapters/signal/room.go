package signal

import (
	"context"
	"errors"

	"github.com/dkeye/coderoom/internal/app/orch"
	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
	"github.com/dkeye/coderoom/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.JoinPayload
	if err := env.Bind(&p); err != nil && !errors.Is(err, protocol.ErrMissingPayload) {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, env.ID, protocol.CodeBadPayload, false)
		return
	}
	roomID := domain.RoomID(env.Room)
	if err := roomID.Validate(); err != nil {
		ctl.sendError(conn, env.ID, protocol.CodeBadPayload, false)
		return
	}

	if p.Name != "" {
		if err := ctl.Orch.Rename(sid, p.Name); err != nil {
			ctl.sendError(conn, env.ID, protocol.CodeInvalidName, false)
			return
		}
		log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename on join")
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room_id", env.Room).Msg("join")
	if _, err := ctl.Orch.Join(ctx, sid, roomID, p.ParticipantID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join failed")
		code := protocol.CodeBadPayload
		if errors.Is(err, core.ErrPeerTaken) {
			code = protocol.CodePeerTaken
		}
		ctl.sendError(conn, env.ID, code, false)
	}
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *WsSignalConn,
	id string,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	roomID, _, _ := ctl.Orch.Registry.RoomOf(sid)
	ctl.Orch.Leave(sid)
	ctl.send(conn, id, protocol.TypeLeft, roomID, nil)
}

func (ctl *SignalWSController) handleMutation(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	m, err := protocol.DecodeMutation(env)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("kind", env.Type).Msg("malformed mutation")
		ctl.sendError(conn, env.ID, protocol.CodeBadPayload, false)
		return
	}
	if err := ctl.Orch.OnMutation(ctx, sid, m); err != nil {
		if errors.Is(err, orch.ErrNotInRoom) {
			log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("kind", env.Type).Msg("mutation from connection outside a room")
			return
		}
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("kind", env.Type).Msg("mutation rejected")
		ctl.sendError(conn, env.ID, protocol.CodeBadPayload, false)
	}
}

func (ctl *SignalWSController) handleFullSync(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.FullSyncPayload
	if err := env.Bind(&p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad full-sync payload")
		ctl.sendError(conn, env.ID, protocol.CodeBadPayload, false)
		return
	}
	err := ctl.Orch.FullSync(ctx, sid, p)
	switch {
	case err == nil:
	case errors.Is(err, orch.ErrNotInRoom):
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("full-sync from connection outside a room")
	case errors.Is(err, core.ErrUnknownPeer):
		ctl.sendError(conn, env.ID, protocol.CodeUnknownPeer, false)
	case errors.Is(err, domain.ErrUnknownLanguage):
		ctl.sendError(conn, env.ID, protocol.CodeBadPayload, false)
	default:
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("target", p.Target).Msg("full-sync not delivered")
	}
}
