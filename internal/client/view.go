package client

import (
	"github.com/dkeye/coderoom/internal/domain"
	"github.com/dkeye/coderoom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// apply folds one server frame into the local view.
func (c *Client) apply(env protocol.Envelope) {
	var err error
	switch env.Type {
	case protocol.TypeJoined:
		var p protocol.JoinedPayload
		if err = env.Bind(&p); err == nil {
			c.mu.Lock()
			c.self = p.ParticipantID
			c.joined = true
			c.room = domain.RoomID(env.Room)
			c.members = make(map[string]string, len(p.Members))
			for _, m := range p.Members {
				c.members[m.ParticipantID] = m.Username
			}
			c.mu.Unlock()
		}
	case protocol.TypeLeft:
		c.mu.Lock()
		c.joined = false
		c.room = ""
		c.self = ""
		c.members = make(map[string]string)
		c.stroke = nil
		c.mu.Unlock()
	case protocol.TypeParticipantJoined:
		var p protocol.ParticipantPayload
		if err = env.Bind(&p); err == nil {
			c.mu.Lock()
			c.members[p.ParticipantID] = p.Name
			c.mu.Unlock()
			if c.opts.AutoReconcile {
				if err := c.FullSync(p.ParticipantID); err != nil {
					log.Warn().Err(err).Str("module", "client").Str("target", p.ParticipantID).Msg("full-sync reply")
				}
			}
		}
	case protocol.TypeParticipantLeft:
		var p protocol.ParticipantPayload
		if err = env.Bind(&p); err == nil {
			c.mu.Lock()
			delete(c.members, p.ParticipantID)
			c.mu.Unlock()
		}
	case protocol.TypeDocumentLoad:
		var p protocol.TextPayload
		if err = env.Bind(&p); err == nil {
			c.set(func(v *domain.RoomState) { v.Document = p.Text })
		}
	case protocol.TypeDocumentChange:
		var p protocol.TextPayload
		if err = env.Bind(&p); err == nil {
			c.set(func(v *domain.RoomState) { v.Document = p.Text })
			c.lock.Observe()
		}
	case protocol.TypeInputChange:
		var p protocol.TextPayload
		if err = env.Bind(&p); err == nil {
			c.set(func(v *domain.RoomState) { v.Stdin = p.Text })
		}
	case protocol.TypeOutputChange:
		var p protocol.TextPayload
		if err = env.Bind(&p); err == nil {
			c.set(func(v *domain.RoomState) { v.LastOutput = p.Text })
		}
	case protocol.TypeModeChange:
		var p protocol.ModePayload
		if err = env.Bind(&p); err == nil {
			c.set(func(v *domain.RoomState) { v.Language = p.Mode })
		}
	case protocol.TypeCanvasUpdate, protocol.TypeCanvasLoad:
		var p protocol.CanvasPayload
		if err = env.Bind(&p); err == nil {
			c.set(func(v *domain.RoomState) { v.Canvas = domain.CloneElements(p.Elements) })
		}
	case protocol.TypeFullSync:
		var p protocol.FullStatePayload
		if err = env.Bind(&p); err == nil {
			s := p.RoomState
			if s.Canvas == nil {
				s.Canvas = []domain.CanvasElement{}
			}
			c.set(func(v *domain.RoomState) { *v = s })
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Str("type", env.Type).Msg("bad payload")
	}
}

func (c *Client) set(fn func(*domain.RoomState)) {
	c.mu.Lock()
	fn(&c.view)
	c.mu.Unlock()
}
