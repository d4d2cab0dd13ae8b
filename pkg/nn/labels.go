package nn

import "fmt"

// YOLOLabel is one line of a YOLO label file: a class index and a box in normalized center format
type YOLOLabel struct {
	Class   int
	CenterX float64
	CenterY float64
	Width   float64
	Height  float64
}

// LabelFromPercent converts a top-left anchored box, expressed in percent of the image
// dimensions, into a normalized center-format label. All four values are clamped to [0,1].
func LabelFromPercent(class int, x, y, w, h float64) YOLOLabel {
	return YOLOLabel{
		Class:   class,
		CenterX: Clamp01((x + w/2) / 100),
		CenterY: Clamp01((y + h/2) / 100),
		Width:   Clamp01(w / 100),
		Height:  Clamp01(h / 100),
	}
}

func (l YOLOLabel) String() string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f", l.Class, l.CenterX, l.CenterY, l.Width, l.Height)
}
