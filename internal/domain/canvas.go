package domain

import (
	"errors"
	"fmt"
)

type Tool string

const (
	ToolPencil    Tool = "pencil"
	ToolEraser    Tool = "eraser"
	ToolLine      Tool = "line"
	ToolRectangle Tool = "rectangle"
	ToolCircle    Tool = "circle"
)

var ErrInvalidElement = errors.New("invalid canvas element")

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CanvasElement is one committed shape. Freehand tools carry the whole
// stroke, shapes carry the start and end corner.
type CanvasElement struct {
	Tool        Tool    `json:"tool"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
	Points      []Point `json:"points"`
}

func (e CanvasElement) Validate() error {
	switch e.Tool {
	case ToolPencil, ToolEraser:
		if len(e.Points) < 1 {
			return fmt.Errorf("%w: %s needs at least one point", ErrInvalidElement, e.Tool)
		}
	case ToolLine, ToolRectangle, ToolCircle:
		if len(e.Points) != 2 {
			return fmt.Errorf("%w: %s needs exactly two points, got %d", ErrInvalidElement, e.Tool, len(e.Points))
		}
	default:
		return fmt.Errorf("%w: unknown tool %q", ErrInvalidElement, string(e.Tool))
	}
	if e.StrokeWidth <= 0 {
		return fmt.Errorf("%w: stroke width must be positive", ErrInvalidElement)
	}
	if e.Color == "" {
		return fmt.Errorf("%w: empty color", ErrInvalidElement)
	}
	return nil
}

func (e CanvasElement) Clone() CanvasElement {
	e.Points = append([]Point(nil), e.Points...)
	return e
}

// ValidateElements checks a whole list and reports the first bad index.
func ValidateElements(elements []CanvasElement) error {
	for i, e := range elements {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func CloneElements(elements []CanvasElement) []CanvasElement {
	out := make([]CanvasElement, len(elements))
	for i, e := range elements {
		out[i] = e.Clone()
	}
	return out
}

// CanvasMessage is an ephemeral chat annotation on the board. It is never
// stored.
type CanvasMessage struct {
	Text        string `json:"text"`
	DisplayName string `json:"name"`
}
