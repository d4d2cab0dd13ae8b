package nn

import (
	"fmt"
)

// Candidate is a box in network space that passed the confidence threshold, before NMS
type Candidate struct {
	Class      int
	Confidence float32
	Box        Box
}

// Converter decodes the output of an anchor-free YOLO head into candidate boxes.
// The graph is expected to emit [1, 4+classes, anchors] (or its transpose), where the first
// four attributes are the box center and size in network pixels, and the rest are class scores.
type Converter struct {
	NumClasses int
	NumAnchors int
	Size       int
}

// NewConverter binds a converter to the anchor layout of a model at the given input size
func NewConverter(config *ModelConfig, size int) *Converter {
	return &Converter{
		NumClasses: len(config.Classes),
		NumAnchors: config.Anchor.NumAnchors(size),
		Size:       size,
	}
}

// Decode returns all predictions whose best class score is at least minConfidence
func (c *Converter) Decode(out *RawOutput, minConfidence float32) ([]Candidate, error) {
	if len(out.Shape) != 3 || out.Shape[0] != 1 {
		return nil, fmt.Errorf("Unexpected detection output shape %v", out.Shape)
	}
	nAttr := 4 + c.NumClasses
	var channelsFirst bool
	var n int
	if int(out.Shape[1]) == nAttr && int(out.Shape[2]) != nAttr {
		channelsFirst = true
		n = int(out.Shape[2])
	} else if int(out.Shape[2]) == nAttr {
		n = int(out.Shape[1])
	} else {
		return nil, fmt.Errorf("Detection output shape %v does not fit %v classes", out.Shape, c.NumClasses)
	}
	if n != c.NumAnchors {
		return nil, fmt.Errorf("Detection output has %v predictions, but the anchor grid for %vx%v has %v", n, c.Size, c.Size, c.NumAnchors)
	}
	if len(out.Data) != n*nAttr {
		return nil, fmt.Errorf("Detection output has %v values, expected %v", len(out.Data), n*nAttr)
	}

	at := func(anchor, attr int) float32 {
		if channelsFirst {
			return out.Data[attr*n+anchor]
		}
		return out.Data[anchor*nAttr+attr]
	}

	candidates := []Candidate{}
	for i := 0; i < n; i++ {
		bestClass := -1
		bestScore := float32(0)
		for cls := 0; cls < c.NumClasses; cls++ {
			if s := at(i, 4+cls); s > bestScore {
				bestScore = s
				bestClass = cls
			}
		}
		if bestClass < 0 || bestScore < minConfidence {
			continue
		}
		candidates = append(candidates, Candidate{
			Class:      bestClass,
			Confidence: bestScore,
			Box:        BoxFromCenter(at(i, 0), at(i, 1), at(i, 2), at(i, 3)),
		})
	}
	return candidates, nil
}
