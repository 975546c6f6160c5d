package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
	"github.com/dkeye/coderoom/internal/metrics"
	"github.com/dkeye/coderoom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Info().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.OnDisconnect(sid)
		ctl.Metrics.ConnClosed()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	if ctl.opts.PingPeriod > 0 {
		pongWait := ctl.opts.PongWait
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(ctx, sid, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.Metrics.MutationDropped(metrics.ReasonMalformed)
		ctl.sendError(c, "", protocol.CodeBadPayload, false)
		return
	}

	switch env.Type {
	case protocol.TypeJoin:
		ctl.handleJoin(ctx, sid, c, env)
	case protocol.TypeLeave:
		ctl.handleLeave(sid, c, env.ID)
	case protocol.TypePing:
		ctl.handlePing(c, env.ID)
	case protocol.TypeRename:
		ctl.handleRename(sid, c, env)
	case protocol.TypeWhoAmI:
		ctl.handleWhoAmI(sid, c, env.ID)
	case protocol.TypeFullSync:
		if ctl.allow(c, env.ID) {
			ctl.handleFullSync(ctx, sid, c, env)
		}
	case protocol.TypeRun:
		ctl.handleRun(ctx, sid, c, env.ID)
	case protocol.TypeSignal:
		ctl.handleRelay(ctx, sid, c, env)
	default:
		if !protocol.IsMutation(env.Type) {
			log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
			ctl.sendError(c, env.ID, protocol.CodeUnknownType, false)
			return
		}
		if ctl.allow(c, env.ID) {
			ctl.handleMutation(ctx, sid, c, env)
		}
	}
}

// allow reports whether the connection's user is under the rate limit and
// tells the client when it is not.
func (ctl *SignalWSController) allow(c *WsSignalConn, id string) bool {
	if ctl.Limiter.Allow(c.user) {
		return true
	}
	ctl.Metrics.MutationDropped(metrics.ReasonRateLimited)
	ctl.sendError(c, id, protocol.CodeRateLimited, true)
	return false
}

// send queues a frame for c. id echoes the request being answered and is
// empty for unsolicited frames.
func (ctl *SignalWSController) send(c *WsSignalConn, id, typ string, room domain.RoomID, payload any) {
	f, err := protocol.EncodeReply(id, typ, room, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", typ).Msg("send marshal")
		return
	}
	if err := c.TrySend(f); err != nil && !errors.Is(err, core.ErrConnClosed) {
		log.Warn().Err(err).Str("module", "signal").Str("type", typ).Msg("send")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, id, code string, retryable bool) {
	ctl.send(c, id, protocol.TypeError, "", protocol.ErrorPayload{Error: code, Retryable: retryable})
}
