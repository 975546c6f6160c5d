package signal

import (
	"context"
	"errors"

	"github.com/dkeye/coderoom/internal/app/orch"
	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/protocol"
	"github.com/dkeye/coderoom/internal/sandbox"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
	id string,
) {
	ctl.send(conn, id, protocol.TypePong, "", nil)
}

// handleRun executes the room's document off the read loop. One run per
// connection may be in flight.
func (ctl *SignalWSController) handleRun(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	id string,
) {
	if !conn.startRun() {
		ctl.sendError(conn, id, protocol.CodeExecBusy, true)
		return
	}
	go func() {
		defer conn.endRun()
		ctx, cancel := context.WithTimeout(ctx, ctl.opts.ExecTimeout)
		defer cancel()

		out, err := ctl.Orch.Exec(ctx, sid)
		switch {
		case err == nil:
			ctl.send(conn, id, protocol.TypeExecResult, "", protocol.ExecResultPayload{Output: out.Output, Signal: out.Signal})
		case errors.Is(err, orch.ErrNotInRoom):
			ctl.sendError(conn, id, protocol.CodeNotInRoom, false)
		case errors.Is(err, sandbox.ErrUnsupportedLanguage):
			ctl.sendError(conn, id, protocol.CodeExecUnsupported, false)
		default:
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("run failed")
			ctl.sendError(conn, id, protocol.CodeExecution, true)
		}
	}()
}
