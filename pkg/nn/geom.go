package nn

import (
	"github.com/chewxy/math32"
)

// Box is an axis aligned rectangle in pixel space, stored as two corners.
type Box struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// BoxFromCenter builds a Box from YOLO center format (cx, cy, width, height).
func BoxFromCenter(cx, cy, w, h float32) Box {
	return Box{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

func (b Box) Width() float32 {
	return math32.Max(0, b.X2-b.X1)
}

func (b Box) Height() float32 {
	return math32.Max(0, b.Y2-b.Y1)
}

func (b Box) Area() float32 {
	return b.Width() * b.Height()
}

func (b Box) Intersection(o Box) Box {
	return Box{
		X1: math32.Max(b.X1, o.X1),
		Y1: math32.Max(b.Y1, o.Y1),
		X2: math32.Min(b.X2, o.X2),
		Y2: math32.Min(b.Y2, o.Y2),
	}
}

// Intersection over Union
func (b Box) IOU(o Box) float32 {
	inter := b.Intersection(o).Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Clamp limits the box to [0,width] x [0,height].
// X2 and Y2 are clamped independently, so a box that lies entirely outside the
// image collapses to zero width or height rather than being flipped.
func (b Box) Clamp(width, height float32) Box {
	return Box{
		X1: clamp(b.X1, 0, width),
		Y1: clamp(b.Y1, 0, height),
		X2: clamp(b.X2, 0, width),
		Y2: clamp(b.Y2, 0, height),
	}
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}

// Clamp01 limits v to the unit interval
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
