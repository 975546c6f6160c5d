package protocol

import (
	"fmt"

	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
)

func IsMutation(typ string) bool {
	return core.Kind(typ).IsMutation()
}

// DecodeMutation turns a mutation envelope into a validated core.Mutation.
// A malformed payload is rejected whole.
func DecodeMutation(env Envelope) (core.Mutation, error) {
	m := core.Mutation{Kind: core.Kind(env.Type)}
	switch m.Kind {
	case core.KindDocument, core.KindInput, core.KindOutput:
		var p TextPayload
		if err := env.Bind(&p); err != nil {
			return core.Mutation{}, err
		}
		m.Text = p.Text
	case core.KindMode:
		var p ModePayload
		if err := env.Bind(&p); err != nil {
			return core.Mutation{}, err
		}
		m.Mode = p.Mode
	case core.KindCanvasUpdate:
		var p CanvasPayload
		if err := env.Bind(&p); err != nil {
			return core.Mutation{}, err
		}
		if p.Elements == nil {
			p.Elements = []domain.CanvasElement{}
		}
		m.Elements = p.Elements
	case core.KindCanvasMessage:
		var p CanvasMessagePayload
		if err := env.Bind(&p); err != nil {
			return core.Mutation{}, err
		}
		m.Message = domain.CanvasMessage{Text: p.Text, DisplayName: p.Name}
	default:
		return core.Mutation{}, fmt.Errorf("%w: %q", core.ErrUnknownKind, env.Type)
	}
	if err := m.Validate(); err != nil {
		return core.Mutation{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// EncodeMutation renders the forwarded form of m.
func EncodeMutation(room domain.RoomID, m core.Mutation) (core.Frame, error) {
	var payload any
	switch m.Kind {
	case core.KindDocument, core.KindInput, core.KindOutput:
		payload = TextPayload{Text: m.Text}
	case core.KindMode:
		payload = ModePayload{Mode: m.Mode}
	case core.KindCanvasUpdate:
		els := m.Elements
		if els == nil {
			els = []domain.CanvasElement{}
		}
		payload = CanvasPayload{Elements: els}
	case core.KindCanvasMessage:
		payload = CanvasMessagePayload{Text: m.Message.Text, Name: m.Message.DisplayName}
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownKind, string(m.Kind))
	}
	return Encode(string(m.Kind), room, payload)
}

// JoinPush renders the state push a newcomer receives: one frame per
// field, in document, stdin, output, mode, canvas order, followed by the
// joined ack.
func JoinPush(room domain.RoomID, participantID string) core.JoinRenderFunc {
	return func(s domain.RoomState, members []core.MemberDTO) ([]core.Frame, error) {
		canvas := s.Canvas
		if canvas == nil {
			canvas = []domain.CanvasElement{}
		}
		parts := []struct {
			typ     string
			payload any
		}{
			{TypeDocumentLoad, TextPayload{Text: s.Document}},
			{TypeInputChange, TextPayload{Text: s.Stdin}},
			{TypeOutputChange, TextPayload{Text: s.LastOutput}},
			{TypeModeChange, ModePayload{Mode: s.Language}},
			{TypeCanvasLoad, CanvasPayload{Elements: canvas}},
			{TypeJoined, JoinedPayload{ParticipantID: participantID, Members: members}},
		}
		frames := make([]core.Frame, 0, len(parts))
		for _, p := range parts {
			f, err := Encode(p.typ, room, p.payload)
			if err != nil {
				return nil, err
			}
			frames = append(frames, f)
		}
		return frames, nil
	}
}

// FullState renders the merged full-sync frame.
func FullState(room domain.RoomID) core.SnapshotFunc {
	return func(s domain.RoomState) ([]core.Frame, error) {
		if s.Canvas == nil {
			s.Canvas = []domain.CanvasElement{}
		}
		f, err := Encode(TypeFullSync, room, FullStatePayload{RoomState: s})
		if err != nil {
			return nil, err
		}
		return []core.Frame{f}, nil
	}
}
