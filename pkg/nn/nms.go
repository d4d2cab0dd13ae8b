package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
)

// NMS performs class-aware non-maximum suppression on network-space candidates.
// The surviving boxes are mapped back to source space with xform, and returned
// ordered by descending confidence, capped at config.MaxBoxes.
func NMS(candidates []Candidate, config *NMSConfig, xform LetterboxTransform) []Row {
	rows := []Row{}
	if len(candidates) == 0 || config.MaxBoxes <= 0 {
		return rows
	}

	sorted := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Confidence >= config.MinConfidence {
			sorted = append(sorted, c)
		}
	}
	if len(sorted) == 0 {
		return rows
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(sorted))
	for _, c := range sorted {
		x1, y1, x2, y2 := outerPixels(c.Box)
		fb.Add(x1, y1, x2, y2)
	}
	fb.Finish()

	suppressed := make([]bool, len(sorted))
	for i, c := range sorted {
		if suppressed[i] {
			continue
		}
		rows = append(rows, makeRow(c, xform))
		if len(rows) == config.MaxBoxes {
			break
		}
		x1, y1, x2, y2 := outerPixels(c.Box)
		for _, j := range fb.Search(x1, y1, x2, y2) {
			if j <= i || suppressed[j] || sorted[j].Class != c.Class {
				continue
			}
			if c.Box.IOU(sorted[j].Box) > config.MinIoU {
				suppressed[j] = true
			}
		}
	}
	return rows
}

func makeRow(c Candidate, xform LetterboxTransform) Row {
	b := xform.ToSource(c.Box)
	return Row{float32(c.Class), b.X1, b.Y1, b.X2, b.Y2, c.Confidence}
}

// Integer bounds that fully contain the box
func outerPixels(b Box) (int32, int32, int32, int32) {
	return int32(math32.Floor(b.X1)), int32(math32.Floor(b.Y1)), int32(math32.Ceil(b.X2)), int32(math32.Ceil(b.Y2))
}
