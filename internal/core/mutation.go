package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/coderoom/internal/domain"
)

// Kind tags a Mutation. The values double as wire message types.
type Kind string

const (
	KindDocument      Kind = "document-change"
	KindInput         Kind = "input-change"
	KindOutput        Kind = "output-change"
	KindMode          Kind = "mode-change"
	KindCanvasUpdate  Kind = "canvas-update"
	KindCanvasMessage Kind = "canvas-message"
)

var ErrUnknownKind = errors.New("unknown mutation kind")

func (k Kind) IsMutation() bool {
	switch k {
	case KindDocument, KindInput, KindOutput, KindMode, KindCanvasUpdate, KindCanvasMessage:
		return true
	}
	return false
}

// Mutation is one event that changes at most one Room State field.
// Only the field matching Kind is meaningful.
type Mutation struct {
	Kind     Kind
	Text     string
	Mode     domain.Language
	Elements []domain.CanvasElement
	Message  domain.CanvasMessage
}

func (m Mutation) Validate() error {
	switch m.Kind {
	case KindDocument, KindInput, KindOutput, KindCanvasMessage:
		return nil
	case KindMode:
		return m.Mode.Validate()
	case KindCanvasUpdate:
		return domain.ValidateElements(m.Elements)
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, string(m.Kind))
}

// ApplyTo writes m into s. Canvas lists are replaced wholesale and copied
// so the caller keeps no alias into the stored state.
func (m Mutation) ApplyTo(s *domain.RoomState) {
	switch m.Kind {
	case KindDocument:
		s.Document = m.Text
	case KindInput:
		s.Stdin = m.Text
	case KindOutput:
		s.LastOutput = m.Text
	case KindMode:
		s.Language = m.Mode
	case KindCanvasUpdate:
		s.Canvas = domain.CloneElements(m.Elements)
	case KindCanvasMessage:
		// ephemeral
	}
}
