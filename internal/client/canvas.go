package client

import (
	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
)

// StartStroke begins a local gesture. Nothing is sent until EndStroke.
func (c *Client) StartStroke(tool domain.Tool, color string, width float64, at domain.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stroke = &domain.CanvasElement{Tool: tool, Color: color, StrokeWidth: width, Points: []domain.Point{at}}
}

// ExtendStroke adds a point to freehand tools and moves the end corner of
// shapes.
func (c *Client) ExtendStroke(at domain.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stroke == nil {
		return ErrNoStroke
	}
	switch c.stroke.Tool {
	case domain.ToolPencil, domain.ToolEraser:
		c.stroke.Points = append(c.stroke.Points, at)
	default:
		c.stroke.Points = append(c.stroke.Points[:1], at)
	}
	return nil
}

// EndStroke commits the gesture and sends the whole element list.
func (c *Client) EndStroke() error {
	c.mu.Lock()
	stroke := c.stroke
	c.stroke = nil
	var elements []domain.CanvasElement
	if stroke != nil {
		if len(stroke.Points) == 1 && stroke.Tool != domain.ToolPencil && stroke.Tool != domain.ToolEraser {
			stroke.Points = append(stroke.Points, stroke.Points[0])
		}
		elements = append(domain.CloneElements(c.view.Canvas), *stroke)
	}
	c.mu.Unlock()
	if stroke == nil {
		return ErrNoStroke
	}
	return c.mutate(core.Mutation{Kind: core.KindCanvasUpdate, Elements: elements})
}

// ClearCanvas removes every element for everyone.
func (c *Client) ClearCanvas() error {
	return c.mutate(core.Mutation{Kind: core.KindCanvasUpdate, Elements: []domain.CanvasElement{}})
}
